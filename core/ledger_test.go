package core_test

import (
	"testing"

	"github.com/nbscript/nb/core"
	"github.com/stretchr/testify/require"
)

func pathSet(t *testing.T, paths ...core.Path) *core.PathSet {
	t.Helper()
	s := core.NewPathSet()
	for _, p := range paths {
		s.Add(p)
	}
	return s
}

func TestBuildLedgerAppendAndTargets(t *testing.T) {
	l := core.NewBuildLedger()
	err := l.Append(&core.BuildEdge{
		RuleName: "gcc",
		Dst:      pathSet(t, "/proj/build/a.o"),
		Src:      pathSet(t, "/proj/src/a.c"),
		Deps:     core.NewPathSet(),
		Oodeps:   core.NewPathSet(),
	})
	require.NoError(t, err)
	require.Equal(t, []core.Path{"/proj/build/a.o"}, l.Targets().Paths())
	require.Len(t, l.Edges(), 1)
}

func TestBuildLedgerRejectsEmptyOutputs(t *testing.T) {
	l := core.NewBuildLedger()
	err := l.Append(&core.BuildEdge{
		RuleName: "gcc",
		Dst:      core.NewPathSet(),
	})
	require.Error(t, err)
}

func TestBuildLedgerRejectsAppendAfterEmission(t *testing.T) {
	l := core.NewBuildLedger()
	l.MarkEmitted()
	err := l.Append(&core.BuildEdge{RuleName: "gcc", Dst: pathSet(t, "/a")})
	require.Error(t, err)
}

func TestBuildEdgePrimaryOutput(t *testing.T) {
	e := &core.BuildEdge{Dst: pathSet(t, "/a/b.o", "/a/c.o")}
	require.Equal(t, core.Path("/a/b.o"), e.PrimaryOutput())

	empty := &core.BuildEdge{Dst: core.NewPathSet()}
	require.Equal(t, core.Path(""), empty.PrimaryOutput())
}
