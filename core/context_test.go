package core_test

import (
	"testing"

	"github.com/nbscript/nb/core"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// recordingRunner simulates a script that, once run, declares a rule and
// builds an edge into a deeper subdirectory — exercising the recursive
// scan-then-load chain a real Starlark script would trigger.
type recordingRunner struct {
	fs  afero.Fs
	ran []core.Path
}

func (r *recordingRunner) RunScript(ctx *core.Context, scriptPath core.Path) error {
	r.ran = append(r.ran, scriptPath)
	switch scriptPath {
	case "/proj/BUILD.star":
		handle, err := ctx.Rule("step1", "touch $out", "", core.RuleOptions{})
		if err != nil {
			return err
		}
		return ctx.Build(handle, core.BuildSpec{Dst: "build/one.txt", Src: "sub/src.c"})
	case "/proj/sub/BUILD.star":
		handle, err := ctx.Rule("step2", "touch $out", "", core.RuleOptions{})
		if err != nil {
			return err
		}
		return ctx.Build(handle, core.BuildSpec{Dst: "build/two.txt", Src: "src.c"})
	}
	return nil
}

func TestContextDiscoversNestedScripts(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proj/.hbroot", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/BUILD.star", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/sub/BUILD.star", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/sub/src.c", nil, 0644))

	runner := &recordingRunner{fs: fs}
	ctx, err := core.NewContext(fs, "/proj", runner)
	require.NoError(t, err)

	require.NoError(t, ctx.LoadScript("/proj/BUILD.star"))

	require.Equal(t, []core.Path{"/proj/BUILD.star", "/proj/sub/BUILD.star"}, runner.ran)
	require.Len(t, ctx.Ledger.Edges(), 2)
}

func TestContextReset(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proj/.hbroot", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/BUILD.star", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/src/a.c", nil, 0644))

	runner := &recordingRunner{fs: fs}
	ctx, err := core.NewContext(fs, "/proj", runner)
	require.NoError(t, err)

	handle, err := ctx.Rule("gcc", "gcc -c $in -o $out", "", core.RuleOptions{})
	require.NoError(t, err)
	require.NoError(t, ctx.Build(handle, core.BuildSpec{Dst: "build/a.o", Src: "src/a.c"}))
	ctx.Paths.Stat("/proj/src/a.c")

	require.NotEmpty(t, ctx.Rules.All())
	require.NotEmpty(t, ctx.Ledger.Edges())
	require.Greater(t, ctx.Hits()+ctx.Misses(), 0)

	ctx.Reset()

	require.Empty(t, ctx.Rules.All())
	require.Empty(t, ctx.Ledger.Edges())
	require.Equal(t, 0, ctx.Hits())
	require.Equal(t, 0, ctx.Misses())
	require.Equal(t, core.Path("/proj"), ctx.Root())

	// The Build above already ran the root script once: scanning upward
	// from /proj/src found /proj/BUILD.star. The loaded-script set was
	// cleared too, so this is a second real run, not a skipped no-op the
	// way a second LoadScript call on the same path normally would be.
	require.NoError(t, ctx.LoadScript("/proj/BUILD.star"))
	require.Equal(t, []core.Path{"/proj/BUILD.star", "/proj/BUILD.star"}, runner.ran)
}

func TestContextLoadScriptIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proj/.hbroot", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/proj/BUILD.star", nil, 0644))

	runner := &recordingRunner{fs: fs}
	ctx, err := core.NewContext(fs, "/proj", runner)
	require.NoError(t, err)

	require.NoError(t, ctx.LoadScript("/proj/BUILD.star"))
	require.NoError(t, ctx.LoadScript("/proj/BUILD.star"))
	require.Len(t, runner.ran, 1)
}
