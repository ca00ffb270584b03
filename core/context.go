package core

import (
	"path"
	"sort"

	"github.com/spf13/afero"
)

// ScriptName is the default name of a script file the discovery subsystem
// looks for while walking a directory tree upward.
const ScriptName = "BUILD.star"

// ScriptRunner is the embedding language's module loader: given a script's
// absolute path, it loads and executes the script, then (if the script
// defines a build entry point) invokes it with ctx. Its internals are an
// external collaborator (spec.md §1); this package only needs the
// interface. internal/script provides the Starlark-backed implementation.
type ScriptRunner interface {
	RunScript(ctx *Context, scriptPath Path) error
}

// reservedNames are the Context facade's own attribute names; a rule may
// not be declared under any of these (spec.md §4.4, "Name uniqueness").
var reservedNames = []string{
	"pathset", "paths", "canonical", "stat", "isdir", "exists",
	"newest", "oldest", "directories", "files", "filter", "relative",
	"rule", "build", "rules", "emit", "targets", "anchor", "root", "cwd",
	"hits", "misses",
}

// Context is the per-project facade scripts interact with. It glues the
// path subsystem, the rule/build registry, and the script loader into one
// object with the lifetime of a single evaluation. Every field is private
// to this Context; no state is ever shared between two Context values.
type Context struct {
	Paths    *PathContext
	Rules    *RuleRegistry
	Ledger   *BuildLedger
	Runner   ScriptRunner
	fs       afero.Fs
	scanName string

	scanned map[Path]bool
	loaded  map[Path]bool
	emitted bool
}

// NewContext constructs a Context rooted at startDir (or the process's
// current directory, if empty), using fs for all filesystem access and
// runner to load scripts discovered during evaluation.
func NewContext(fs afero.Fs, startDir string, runner ScriptRunner) (*Context, error) {
	pc, err := NewPathContext(fs, startDir)
	if err != nil {
		return nil, err
	}
	return &Context{
		Paths:    pc,
		Rules:    NewRuleRegistry(reservedNames...),
		Ledger:   NewBuildLedger(),
		Runner:   runner,
		fs:       fs,
		scanName: ScriptName,
		scanned:  map[Path]bool{},
		loaded:   map[Path]bool{},
	}, nil
}

// SetScriptName overrides the discovered script's filename (default
// "BUILD.star", the Go-native analog of spec.md's "hb.py").
func (ctx *Context) SetScriptName(name string) { ctx.scanName = name }

// Reset clears every cache, registry, and ledger entry accumulated against
// ctx, returning it to the state NewContext left it in (root/cwd/anchor and
// the script name are untouched). It is the Go analog of the original
// implementation's hb.clear(), which resets the path cache, the loaded-file
// set, and the rule/build registries together (original_source's
// hb/__init__.py composes path_clear/read_clear/rule_clear the same way).
func (ctx *Context) Reset() {
	ctx.Paths.Reset()
	ctx.Rules = NewRuleRegistry(reservedNames...)
	ctx.Ledger = NewBuildLedger()
	ctx.scanned = map[Path]bool{}
	ctx.loaded = map[Path]bool{}
	ctx.emitted = false
}

// Root, Cwd, Anchor, Hits and Misses simply delegate to the path context,
// forming the read-only half of the Context API surface (spec.md §6).
func (ctx *Context) Root() Path    { return ctx.Paths.Root() }
func (ctx *Context) Cwd() Path     { return ctx.Paths.Cwd() }
func (ctx *Context) Anchor() Path  { return ctx.Paths.Anchor() }
func (ctx *Context) Hits() int     { return ctx.Paths.Hits() }
func (ctx *Context) Misses() int   { return ctx.Paths.Misses() }
func (ctx *Context) Targets() *PathSet { return ctx.Ledger.Targets() }

// PathSet coerces inputs into a PathSet (see PathContext.PathSet).
func (ctx *Context) PathSet(inputs ...interface{}) (*PathSet, error) {
	return ctx.Paths.PathSet(inputs...)
}

// Rule declares a new rule. See RuleOptions for the available attachments.
func (ctx *Context) Rule(name, command, doc string, opts RuleOptions) (*RuleHandle, error) {
	return ctx.Rules.Declare(name, command, doc, opts)
}

// BuildSpec is the set of arguments to Build, mirroring spec.md §4.5.
type BuildSpec struct {
	Dst    interface{}
	Src    interface{}
	Deps   interface{}
	Oodeps interface{}
	Vars   map[string]string
}

// Build registers a build edge against handle's rule, flips the rule's
// used flag, and triggers on-demand script discovery over the directories
// of Src ∪ Deps ∪ Oodeps — the demand-driven evaluation spec.md describes
// as the system's "hard engineering".
func (ctx *Context) Build(handle *RuleHandle, spec BuildSpec) error {
	if ctx.emitted {
		return newErr(ErrAlreadyEmitted, "cannot build after emission").WithRule(handle.Name())
	}

	dst, err := ctx.Paths.PathSet(spec.Dst)
	if err != nil {
		return err
	}
	src, err := ctx.Paths.PathSet(spec.Src)
	if err != nil {
		return err
	}
	deps, err := ctx.Paths.PathSet(spec.Deps)
	if err != nil {
		return err
	}
	oodeps, err := ctx.Paths.PathSet(spec.Oodeps)
	if err != nil {
		return err
	}
	vars := spec.Vars
	if vars == nil {
		vars = map[string]string{}
	}

	handle.rule.used = true
	if err := ctx.Ledger.Append(&BuildEdge{
		RuleName: handle.Name(),
		Dst:      dst,
		Src:      src,
		Deps:     deps,
		Oodeps:   oodeps,
		Vars:     vars,
	}); err != nil {
		return err
	}

	scanDirs := NewPathSet()
	scanDirs.Merge(ctx.Paths.Directories(src))
	scanDirs.Merge(ctx.Paths.Directories(deps))
	scanDirs.Merge(ctx.Paths.Directories(oodeps))
	return ctx.scanAndLoad(scanDirs)
}

// scanAndLoad walks dirs upward looking for the scan script (an explicit
// worklist internally, see scanOnce) and loads-and-runs every newly
// discovered one. Running a script may itself call Build, which recurses
// into scanAndLoad for the directories it discovers; the ctx.scanned and
// ctx.loaded memoization sets (shared across the whole evaluation, not
// just one call) are what make that recursion terminate, per spec.md §5.
func (ctx *Context) scanAndLoad(dirs *PathSet) error {
	found, err := ctx.scanOnce(dirs.Paths())
	if err != nil {
		return err
	}
	for _, scriptPath := range found {
		if ctx.loaded[scriptPath] {
			continue
		}
		ctx.loaded[scriptPath] = true
		if err := ctx.runScript(scriptPath); err != nil {
			return err
		}
	}
	return nil
}

// LoadScript loads and runs scriptPath directly, without a preceding scan.
// It is how a driver bootstraps evaluation at the root script; every other
// script reachable from it is discovered on demand through Build. Calling
// LoadScript twice on the same path is a no-op the second time, matching
// the memoized load_and_run behavior Build relies on internally.
func (ctx *Context) LoadScript(scriptPath Path) error {
	if ctx.loaded[scriptPath] {
		return nil
	}
	ctx.loaded[scriptPath] = true
	return ctx.runScript(scriptPath)
}

func (ctx *Context) runScript(scriptPath Path) error {
	prevAnchor := ctx.Paths.SetAnchor(Path(path.Dir(string(scriptPath))))
	defer ctx.Paths.SetAnchor(prevAnchor)
	if err := ctx.Runner.RunScript(ctx, scriptPath); err != nil {
		return wrapErr(ErrScriptExecution, err, "error running script").WithScript(string(scriptPath))
	}
	return nil
}

// scanOnce implements the upward-walking scan algorithm from spec.md §4.3
// for one batch of directories, using ctx.scanned as the persistent
// memoization set across the whole evaluation.
func (ctx *Context) scanOnce(dirs []Path) ([]Path, error) {
	var found []Path
	worklist := append([]Path{}, dirs...)
	for len(worklist) > 0 {
		d := worklist[0]
		worklist = worklist[1:]

		if ctx.scanned[d] {
			continue
		}
		ctx.scanned[d] = true

		if !ctx.Paths.Exists(d) {
			worklist = append(worklist, Path(path.Dir(string(d))))
			continue
		}

		entries, err := afero.ReadDir(ctx.fs, string(d))
		if err != nil {
			worklist = append(worklist, Path(path.Dir(string(d))))
			continue
		}
		hasScript, hasMarker := false, false
		for _, e := range entries {
			switch e.Name() {
			case ctx.scanName:
				hasScript = true
			case rootMarker:
				hasMarker = true
			}
		}
		if hasScript {
			found = append(found, Path(path.Join(string(d), ctx.scanName)))
			continue // do not walk further up from d
		}
		if hasMarker || d == "/" {
			continue
		}
		worklist = append(worklist, Path(path.Dir(string(d))))
	}
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	return found, nil
}
