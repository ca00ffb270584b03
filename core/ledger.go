package core

import "strings"

// BuildEdge is one concrete invocation of a rule, binding outputs, inputs,
// and variable values. The first path in Dst is the "primary output" used
// for depfile naming and default-target eligibility.
type BuildEdge struct {
	RuleName string
	Dst      *PathSet
	Src      *PathSet
	Deps     *PathSet
	Oodeps   *PathSet
	Vars     map[string]string
}

// PrimaryOutput returns the edge's first declared output.
func (e *BuildEdge) PrimaryOutput() Path {
	paths := e.Dst.Paths()
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

// BuildLedger holds the ordered sequence of build edges declared against a
// Context, plus the running union of all their outputs.
type BuildLedger struct {
	edges   []*BuildEdge
	targets *PathSet
	emitted bool
}

// NewBuildLedger constructs an empty ledger.
func NewBuildLedger() *BuildLedger {
	return &BuildLedger{targets: NewPathSet()}
}

// Append records a new build edge, unioning its outputs into Targets().
// Outputs must be non-empty.
func (l *BuildLedger) Append(edge *BuildEdge) error {
	if l.emitted {
		return newErr(ErrAlreadyEmitted, "cannot add a build edge after emission")
	}
	if edge.Dst == nil || edge.Dst.Len() == 0 {
		return newErr(ErrInvalidPathInput, "build edge for rule %q has no outputs", edge.RuleName).WithRule(edge.RuleName)
	}
	l.edges = append(l.edges, edge)
	l.targets.Merge(edge.Dst)
	return nil
}

// Edges returns every recorded edge in declaration order.
func (l *BuildLedger) Edges() []*BuildEdge {
	out := make([]*BuildEdge, len(l.edges))
	copy(out, l.edges)
	return out
}

// Targets returns the union of every edge's outputs.
func (l *BuildLedger) Targets() *PathSet { return l.targets.Clone() }

// MarkEmitted freezes the ledger so further edges are rejected.
func (l *BuildLedger) MarkEmitted() { l.emitted = true }

// mangleDepfilePath turns a primary output path into the ".hb/"-relative
// depfile path convention: "/" becomes "__", ".." becomes "up".
func mangleDepfilePath(primary Path) string {
	s := string(primary)
	s = strings.ReplaceAll(s, "/", "__")
	s = strings.ReplaceAll(s, "..", "up")
	return ".hb/" + s + ".d"
}
