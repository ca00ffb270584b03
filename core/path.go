package core

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// rootMarker is the name of the file whose presence marks a directory as
// the project root.
const rootMarker = ".hbroot"

// listExt is the suffix that marks a path as a list file to be expanded.
const listExt = ".list"

// Path is a canonicalized, absolute, slash-separated filesystem path.
type Path string

// String returns the path as a plain string.
func (p Path) String() string { return string(p) }

// StatEntry mirrors the subset of file metadata the evaluation engine
// relies on. An entry with CTime and ModTime both zero (sentinelStat) is
// the sentinel used for paths that do not exist.
type StatEntry struct {
	Mode    os.FileMode
	Size    int64
	ModTime time.Time
	CTime   time.Time
}

// sentinelStat is returned by Stat for paths that do not exist: a plain
// regular file with zero timestamps, matching the behavior of the original
// implementation this engine was modeled on (see SPEC_FULL.md §4).
var sentinelStat = StatEntry{Mode: 0644}

// PathSet is an insertion-ordered, de-duplicating set of canonical paths.
// Iteration order always equals first-insertion order; re-adding a path
// already present is a no-op.
type PathSet struct {
	order []Path
	index map[Path]int
}

// NewPathSet returns an empty PathSet.
func NewPathSet() *PathSet {
	return &PathSet{index: map[Path]int{}}
}

// Add inserts p if not already present. Returns true if it was newly added.
func (s *PathSet) Add(p Path) bool {
	if _, ok := s.index[p]; ok {
		return false
	}
	s.index[p] = len(s.order)
	s.order = append(s.order, p)
	return true
}

// Merge appends every path of other not already present, in other's order.
func (s *PathSet) Merge(other *PathSet) {
	if other == nil {
		return
	}
	for _, p := range other.order {
		s.Add(p)
	}
}

// Paths returns the set's paths in insertion order. The returned slice is
// owned by the caller.
func (s *PathSet) Paths() []Path {
	out := make([]Path, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of paths in the set.
func (s *PathSet) Len() int { return len(s.order) }

// Contains reports whether p is a member of the set.
func (s *PathSet) Contains(p Path) bool {
	_, ok := s.index[p]
	return ok
}

// Clone returns a copy of the set that can be mutated independently.
func (s *PathSet) Clone() *PathSet {
	clone := NewPathSet()
	for _, p := range s.order {
		clone.Add(p)
	}
	return clone
}

// PathContext canonicalizes paths against a project root, dereferences
// list-file references, and caches filesystem metadata. It owns no state
// beyond its own fields: two PathContexts never share caches.
type PathContext struct {
	fs afero.Fs

	root   Path
	cwd    Path
	anchor Path

	statCache map[Path]StatEntry
	dirCache  map[Path]Path
	listCache map[Path]*PathSet

	hits, misses int
}

// NewPathContext constructs a PathContext rooted at the nearest ancestor of
// startDir (or the filesystem's current working directory, if startDir is
// empty) that contains the root marker file.
func NewPathContext(fs afero.Fs, startDir string) (*PathContext, error) {
	if startDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, wrapErr(ErrRootNotFound, err, "cannot determine working directory")
		}
		startDir = wd
	}
	start := Path(normalize(startDir))
	root, err := findRoot(fs, start)
	if err != nil {
		return nil, err
	}
	return &PathContext{
		fs:        fs,
		root:      root,
		cwd:       start,
		anchor:    start,
		statCache: map[Path]StatEntry{},
		dirCache:  map[Path]Path{},
		listCache: map[Path]*PathSet{},
	}, nil
}

func findRoot(fs afero.Fs, start Path) (Path, error) {
	dir := string(start)
	for {
		marker := path.Join(dir, rootMarker)
		if exists, _ := afero.Exists(fs, marker); exists {
			return Path(normalize(dir)), nil
		}
		if dir == "/" {
			return "", newErr(ErrRootNotFound, "no %s found above %s", rootMarker, start)
		}
		dir = path.Dir(dir)
	}
}

// Root returns the canonical project root.
func (pc *PathContext) Root() Path { return pc.root }

// Cwd returns the canonical working directory the context was constructed
// with. It never changes for the lifetime of the context.
func (pc *PathContext) Cwd() Path { return pc.cwd }

// Anchor returns the directory relative paths currently resolve against.
func (pc *PathContext) Anchor() Path { return pc.anchor }

// SetAnchor mutates the resolution anchor, returning the previous value so
// callers can restore it (list-file expansion and script loading both do
// this around a transient scope).
func (pc *PathContext) SetAnchor(a Path) Path {
	prev := pc.anchor
	pc.anchor = a
	return prev
}

// Hits returns the number of Stat calls served from cache.
func (pc *PathContext) Hits() int { return pc.hits }

// Misses returns the number of Stat calls that touched the filesystem.
func (pc *PathContext) Misses() int { return pc.misses }

// Reset clears the stat/directory/list-file caches and the hit/miss
// counters, without touching root, cwd, or anchor. It is the path half of
// Context.Reset (original_source's hb._path.clear()).
func (pc *PathContext) Reset() {
	pc.statCache = map[Path]StatEntry{}
	pc.dirCache = map[Path]Path{}
	pc.listCache = map[Path]*PathSet{}
	pc.hits = 0
	pc.misses = 0
}

// normalize reduces "." / ".." / duplicate separators, trims a trailing
// "/," to its parent directory form (a pathset-element idiom meaning "the
// current directory"), and collapses a leading "//" to "/".
func normalize(p string) string {
	if strings.HasSuffix(p, "/,") {
		p = p[:len(p)-2]
		if p == "" {
			p = "/"
		}
	}
	p = path.Clean(p)
	if strings.HasPrefix(p, "//") {
		p = p[1:]
	}
	return p
}

// Canonical resolves p against the context's root/anchor into an absolute,
// normalized path.
//
//   - An already-absolute path ("/...") is used as-is.
//   - A "$root/..." path substitutes the literal root path for "$root" once.
//   - Anything else is resolved relative to the current anchor.
func (pc *PathContext) Canonical(p string) Path {
	switch {
	case strings.HasPrefix(p, "/"):
		// already absolute
	case strings.HasPrefix(p, "$root/") || p == "$root":
		p = strings.Replace(p, "$root", string(pc.root), 1)
	case p == "," || p == ".":
		p = string(pc.anchor)
	default:
		p = string(pc.anchor) + "/" + p
	}
	return Path(normalize(p))
}

// PathSet coerces each input into a PathSet and merges them in order.
// Accepted input shapes: string (canonicalized; ".list"-suffixed strings
// are expanded from disk), *PathSet (merged), or a []any / []string slice
// of any of the preceding, coerced recursively.
func (pc *PathContext) PathSet(inputs ...interface{}) (*PathSet, error) {
	out := NewPathSet()
	for _, in := range inputs {
		if err := pc.coerceInto(out, in); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (pc *PathContext) coerceInto(out *PathSet, in interface{}) error {
	switch v := in.(type) {
	case nil:
		return nil
	case string:
		return pc.addString(out, v)
	case Path:
		return pc.addString(out, string(v))
	case *PathSet:
		out.Merge(v)
		return nil
	case []string:
		for _, s := range v {
			if err := pc.addString(out, s); err != nil {
				return err
			}
		}
		return nil
	case []interface{}:
		for _, item := range v {
			if err := pc.coerceInto(out, item); err != nil {
				return err
			}
		}
		return nil
	default:
		return newErr(ErrInvalidPathInput, "cannot coerce %T into a path set", in)
	}
}

func (pc *PathContext) addString(out *PathSet, s string) error {
	canon := pc.Canonical(s)
	if strings.HasSuffix(string(canon), listExt) {
		expanded, err := pc.expandList(canon)
		if err != nil {
			return err
		}
		out.Merge(expanded)
		return nil
	}
	out.Add(canon)
	return nil
}

// expandList expands a .list file, memoizing the result by its canonical
// path. Each line has everything from "#" onward stripped, is trimmed, and
// (if non-blank) canonicalized with the anchor temporarily set to the
// directory containing the list file. Nested .list references recurse.
func (pc *PathContext) expandList(listPath Path) (*PathSet, error) {
	if cached, ok := pc.listCache[listPath]; ok {
		return cached, nil
	}

	f, err := pc.fs.Open(string(listPath))
	if err != nil {
		return nil, wrapErr(ErrMissingListFile, err, "cannot open list file").WithPath(string(listPath))
	}
	defer f.Close()

	dir := Path(path.Dir(string(listPath)))
	prevAnchor := pc.SetAnchor(dir)
	defer pc.SetAnchor(prevAnchor)

	out := NewPathSet()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := stripComment(scanner.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := pc.addString(out, line); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, wrapErr(ErrMissingListFile, err, "error reading list file").WithPath(string(listPath))
	}

	pc.listCache[listPath] = out
	return out, nil
}

// stripComment removes everything from the first "#" onward.
// The list-file grammar does not specify escaping of "#" inside paths
// (spec.md §9 open question); this engine takes "#" as an unconditional
// comment start, matching the original implementation's behavior.
func stripComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}

// Stat returns the cached, or freshly retrieved, metadata for p. A
// nonexistent path yields the sentinel entry rather than an error.
func (pc *PathContext) Stat(p Path) StatEntry {
	if entry, ok := pc.statCache[p]; ok {
		pc.hits++
		return entry
	}
	entry := pc.statUncached(p)
	pc.statCache[p] = entry
	pc.misses++
	return entry
}

func (pc *PathContext) statUncached(p Path) StatEntry {
	fi, err := pc.fs.Stat(string(p))
	if err != nil {
		return sentinelStat
	}
	entry := StatEntry{Mode: fi.Mode(), Size: fi.Size(), ModTime: fi.ModTime()}
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		entry.CTime = time.Unix(sys.Ctim.Sec, sys.Ctim.Nsec)
	} else {
		// In-memory and non-unix filesystems don't carry a ctime; fall
		// back to mtime so exists() still reports true for real entries.
		entry.CTime = fi.ModTime()
	}
	return entry
}

// IsDir reports whether p names a directory.
func (pc *PathContext) IsDir(p Path) bool {
	return pc.Stat(p).Mode.IsDir()
}

// Exists reports whether p names something on disk. Defined as "ctime !=
// 0" so the sentinel (which zeroes ctime) reads as nonexistent; a real file
// with a true zero ctime is not observed in practice and is the accepted
// trade-off (spec.md §4.1).
func (pc *PathContext) Exists(p Path) bool {
	return !pc.Stat(p).CTime.IsZero()
}

// Newest returns the path in set with the greatest mtime. Fails on an
// empty set. Ties are broken by returning the first such path encountered
// in iteration order; the specification leaves tie-breaking unspecified.
func (pc *PathContext) Newest(set *PathSet) (Path, error) {
	return pc.extreme(set, func(a, b time.Time) bool { return a.After(b) })
}

// Oldest returns the path in set with the least mtime. Fails on an empty
// set.
func (pc *PathContext) Oldest(set *PathSet) (Path, error) {
	return pc.extreme(set, func(a, b time.Time) bool { return a.Before(b) })
}

func (pc *PathContext) extreme(set *PathSet, better func(a, b time.Time) bool) (Path, error) {
	paths := set.Paths()
	if len(paths) == 0 {
		return "", newErr(ErrEmptySet, "newest/oldest called on an empty path set")
	}
	best := paths[0]
	bestTime := pc.Stat(best).ModTime
	for _, p := range paths[1:] {
		t := pc.Stat(p).ModTime
		if better(t, bestTime) {
			best, bestTime = p, t
		}
	}
	return best, nil
}

// Directories returns, for every path in set, the path itself if it is a
// directory or its parent directory otherwise. Results are memoized.
func (pc *PathContext) Directories(set *PathSet) *PathSet {
	out := NewPathSet()
	for _, p := range set.Paths() {
		dir, ok := pc.dirCache[p]
		if !ok {
			if pc.IsDir(p) {
				dir = p
			} else {
				dir = Path(path.Dir(string(p)))
			}
			pc.dirCache[p] = dir
		}
		out.Add(dir)
	}
	return out
}

// Files returns the subset of set whose members are not directories.
func (pc *PathContext) Files(set *PathSet) *PathSet {
	out := NewPathSet()
	for _, p := range set.Paths() {
		if !pc.IsDir(p) {
			out.Add(p)
		}
	}
	return out
}

// Filter compiles each pattern as a regular expression and returns one
// PathSet per pattern, containing the paths whose textual form contains a
// match. The regular-expression semantics are mandated by the
// specification itself (not a stylistic choice), so there is no
// third-party glob/matcher library to substitute here.
func (pc *PathContext) Filter(set *PathSet, patterns ...string) ([]*PathSet, error) {
	regexps := make([]*regexp.Regexp, len(patterns))
	for i, pat := range patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid filter pattern %q", pat)
		}
		regexps[i] = re
	}
	results := make([]*PathSet, len(patterns))
	for i := range results {
		results[i] = NewPathSet()
	}
	for _, p := range set.Paths() {
		for i, re := range regexps {
			if re.MatchString(string(p)) {
				results[i].Add(p)
			}
		}
	}
	return results, nil
}

// Relative returns the relative-path form of every member of set, computed
// against from, preserving set order.
func (pc *PathContext) Relative(from Path, set *PathSet) []string {
	out := make([]string, 0, set.Len())
	for _, p := range set.Paths() {
		rel, err := filepath.Rel(string(from), string(p))
		if err != nil {
			rel = string(p)
		}
		out = append(out, rel)
	}
	return out
}
