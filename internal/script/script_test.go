package script_test

import (
	"bytes"
	"testing"

	"github.com/nbscript/nb/core"
	"github.com/nbscript/nb/internal/script"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T, fs afero.Fs, root string) *core.Context {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, root+"/.hbroot", nil, 0644))
	ctx, err := core.NewContext(fs, root, &script.Loader{Fs: fs})
	require.NoError(t, err)
	return ctx
}

func TestRunScriptDeclaresRuleAndBuilds(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := newTestContext(t, fs, "/proj")
	require.NoError(t, afero.WriteFile(fs, "/proj/src/a.c", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/BUILD.star", []byte(`
echo_rule = ctx.rule("echo", "echo $msg > $out", doc = "write a message")

def build(ctx):
    ctx.build(echo_rule, dst = "build/out.txt", src = "src/a.c", msg = "hi")
`), 0644))

	require.NoError(t, ctx.LoadScript("/proj/BUILD.star"))
	require.Len(t, ctx.Ledger.Edges(), 1)

	var buf bytes.Buffer
	require.NoError(t, ctx.Emit(&buf))
	require.Contains(t, buf.String(), "rule echo")
	require.Contains(t, buf.String(), "build build/out.txt: echo src/a.c")
}

func TestRunScriptPathsetAndFilter(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := newTestContext(t, fs, "/proj")
	require.NoError(t, afero.WriteFile(fs, "/proj/a.c", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/b.h", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/result.txt", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/BUILD.star", []byte(`
write_rule = ctx.rule("write", "echo $count > $out")

def build(ctx):
    srcs = ctx.pathset("a.c", "b.h")
    cfiles, hfiles = ctx.filter(srcs, r"\.c$", r"\.h$")
    ctx.build(write_rule, dst = "result.txt", count = str(len(ctx.paths(cfiles)) + len(ctx.paths(hfiles))))
`), 0644))

	require.NoError(t, ctx.LoadScript("/proj/BUILD.star"))
	edges := ctx.Ledger.Edges()
	require.Len(t, edges, 1)
	require.Equal(t, "2", edges[0].Vars["count"])
}

func TestRunScriptRejectsNonCallableBuild(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := newTestContext(t, fs, "/proj")
	require.NoError(t, afero.WriteFile(fs, "/proj/BUILD.star", []byte("build = 1\n"), 0644))

	require.Error(t, ctx.LoadScript("/proj/BUILD.star"))
}
