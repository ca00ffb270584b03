package core_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nbscript/nb/core"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T, root string) (afero.Fs, *core.PathContext) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, root+"/.hbroot", nil, 0644))
	pc, err := core.NewPathContext(fs, root)
	require.NoError(t, err)
	return fs, pc
}

func TestCanonical(t *testing.T) {
	_, pc := newTestContext(t, "/proj")

	cases := []struct {
		name, in, want string
	}{
		{"absolute", "/etc/passwd", "/etc/passwd"},
		{"root-relative", "$root/src/a.c", "/proj/src/a.c"},
		{"anchor-relative", "src/a.c", "/proj/src/a.c"},
		{"dot-anchor", ".", "/proj"},
		{"comma-anchor", ",", "/proj"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, core.Path(c.want), pc.Canonical(c.in))
		})
	}
}

func TestPathSetFromList(t *testing.T) {
	fs, pc := newTestContext(t, "/proj")
	require.NoError(t, afero.WriteFile(fs, "/proj/src/a.c", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/src/b.c", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/src/sources.list", []byte(
		"a.c\n# a comment line\nb.c # trailing comment\n\n",
	), 0644))

	set, err := pc.PathSet("src/sources.list")
	require.NoError(t, err)

	got := set.Paths()
	want := []core.Path{"/proj/src/a.c", "/proj/src/b.c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pathset from list mismatch (-want +got):\n%s", diff)
	}
}

func TestPathSetNestedList(t *testing.T) {
	fs, pc := newTestContext(t, "/proj")
	require.NoError(t, afero.WriteFile(fs, "/proj/a.c", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/inner/b.c", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/inner/inner.list", []byte("b.c\n"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/outer.list", []byte("a.c\ninner/inner.list\n"), 0644))

	set, err := pc.PathSet("outer.list")
	require.NoError(t, err)
	require.Equal(t, []core.Path{"/proj/a.c", "/proj/inner/b.c"}, set.Paths())
}

func TestPathSetMissingListFile(t *testing.T) {
	_, pc := newTestContext(t, "/proj")
	_, err := pc.PathSet("missing.list")
	require.Error(t, err)
}

func TestStatSentinelForMissingPath(t *testing.T) {
	_, pc := newTestContext(t, "/proj")
	require.False(t, pc.Exists("/proj/nope.c"))
	require.False(t, pc.IsDir("/proj/nope.c"))
}

func TestStatCacheCounters(t *testing.T) {
	fs, pc := newTestContext(t, "/proj")
	require.NoError(t, afero.WriteFile(fs, "/proj/a.c", nil, 0644))

	require.Equal(t, 0, pc.Hits())
	require.Equal(t, 0, pc.Misses())

	pc.Stat("/proj/a.c")
	require.Equal(t, 0, pc.Hits())
	require.Equal(t, 1, pc.Misses())

	pc.Stat("/proj/a.c")
	require.Equal(t, 1, pc.Hits())
	require.Equal(t, 1, pc.Misses())
}

func TestNewestOldest(t *testing.T) {
	fs, pc := newTestContext(t, "/proj")
	now := time.Now()
	require.NoError(t, afero.WriteFile(fs, "/proj/old.c", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/new.c", nil, 0644))
	require.NoError(t, fs.Chtimes("/proj/old.c", now.Add(-time.Hour), now.Add(-time.Hour)))
	require.NoError(t, fs.Chtimes("/proj/new.c", now, now))

	set, err := pc.PathSet("old.c", "new.c")
	require.NoError(t, err)

	newest, err := pc.Newest(set)
	require.NoError(t, err)
	require.Equal(t, core.Path("/proj/new.c"), newest)

	oldest, err := pc.Oldest(set)
	require.NoError(t, err)
	require.Equal(t, core.Path("/proj/old.c"), oldest)
}

func TestNewestOnEmptySetFails(t *testing.T) {
	_, pc := newTestContext(t, "/proj")
	_, err := pc.Newest(core.NewPathSet())
	require.Error(t, err)
}

func TestDirectoriesAndFiles(t *testing.T) {
	fs, pc := newTestContext(t, "/proj")
	require.NoError(t, afero.WriteFile(fs, "/proj/src/a.c", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/src/b.c", nil, 0644))

	set, err := pc.PathSet("src/a.c", "src/b.c", "src")
	require.NoError(t, err)

	dirs := pc.Directories(set)
	require.Equal(t, []core.Path{"/proj/src"}, dirs.Paths())

	files := pc.Files(set)
	require.Equal(t, []core.Path{"/proj/src/a.c", "/proj/src/b.c"}, files.Paths())
}

func TestFilter(t *testing.T) {
	_, pc := newTestContext(t, "/proj")
	set, err := pc.PathSet("a.c", "b.h", "c.o")
	require.NoError(t, err)

	results, err := pc.Filter(set, `\.c$`, `\.h$`)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []core.Path{"/proj/a.c"}, results[0].Paths())
	require.Equal(t, []core.Path{"/proj/b.h"}, results[1].Paths())
}

func TestRelative(t *testing.T) {
	_, pc := newTestContext(t, "/proj")
	set, err := pc.PathSet("src/a.c", "src/sub/b.c")
	require.NoError(t, err)

	rel := pc.Relative("/proj/src", set)
	require.Equal(t, []string{"a.c", "sub/b.c"}, rel)
}

func TestPathSetRejectsUnknownType(t *testing.T) {
	_, pc := newTestContext(t, "/proj")
	_, err := pc.PathSet(42)
	require.Error(t, err)
}

func TestNewPathContextMissingRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/some/where", 0755))
	_, err := core.NewPathContext(fs, "/some/where")
	require.Error(t, err)
}
