package core

import (
	"io"
	"regexp"
	"strings"

	"github.com/nbscript/nb/internal/ninjawriter"
)

// stdVars are the Ninja-reserved identifiers passed through a rule's
// command template verbatim; every other identifier is rule-scoped at
// emission time (spec.md §4.4).
var stdVars = map[string]bool{
	"in": true, "out": true, "depfile": true, "deps": true,
	"description": true, "generator": true, "pool": true,
	"restat": true, "rspfile": true, "rspfile_content": true,
}

var varRef = regexp.MustCompile(`\$\{?(\w+)\}?`)

// Emit walks the rule registry and build ledger, writing a complete Ninja
// manifest to w. It is terminal: after Emit returns successfully, further
// Rule/Build calls on ctx are rejected.
func (ctx *Context) Emit(w io.Writer) error {
	if ctx.emitted {
		return newErr(ErrAlreadyEmitted, "Emit called more than once")
	}

	nw := ninjawriter.New(w)
	nw.Variable("builddir", ".hb")
	nw.Newline()

	// decl tracks each used rule's resolved extra deps/oodeps, including
	// whatever its callback contributed, so build-edge emission can fold
	// them in below.
	decl := map[string]struct{ deps, oodeps *PathSet }{}

	for _, rule := range ctx.Rules.All() {
		if !rule.used {
			continue
		}
		deps, oodeps := rule.DeclDeps.Clone(), rule.DeclOodeps.Clone()
		if rule.Callback != nil {
			extraDeps, extraOodeps, err := rule.Callback(ctx)
			if err != nil {
				return wrapErr(ErrScriptExecution, err, "rule callback failed").WithRule(rule.Name)
			}
			deps.Merge(extraDeps)
			oodeps.Merge(extraOodeps)
		}
		decl[rule.Name] = struct{ deps, oodeps *PathSet }{deps, oodeps}

		if err := writeRule(nw, rule); err != nil {
			return err
		}
	}

	for _, edge := range ctx.Ledger.Edges() {
		rule, ok := ctx.Rules.Lookup(edge.RuleName)
		if !ok {
			return newErr(ErrInvalidPathInput, "build edge references unknown rule %q", edge.RuleName)
		}
		extra := decl[edge.RuleName]
		writeBuild(nw, ctx.Paths.Cwd(), ctx.Paths, rule, edge, extra.deps, extra.oodeps)
	}

	if err := nw.Err(); err != nil {
		return err
	}

	ctx.emitted = true
	ctx.Rules.MarkEmitted()
	ctx.Ledger.MarkEmitted()
	return nil
}

// writeRule extracts rule-scoped variables from the command template,
// emits them, emits the pool (if any), then the rule itself.
func writeRule(nw *ninjawriter.Writer, rule *Rule) error {
	command, scoped := extractCmdVars(rule)
	for _, name := range scoped.order {
		nw.Variable(name, scoped.values[name])
	}

	pool := rule.Pool
	if rule.MaxParallel > 0 {
		pool = rule.Name + "_pool"
		nw.Pool(pool, rule.MaxParallel)
	}

	depfile := ""
	if rule.HasDepfile {
		depfile = "$depfile"
	}
	nw.Rule(rule.Name, command, depfile, pool)
	nw.Newline()
	return nil
}

type scopedVars struct {
	order  []string
	values map[string]string
}

// extractCmdVars rewrites every non-standard $var/${var} reference in the
// command template to ${rulename_var}, collecting the renamed names (with
// defaults from the rule, or the empty string if undeclared — spec.md
// §7's MissingCommandVariable is non-fatal by design) in first-seen order.
func extractCmdVars(rule *Rule) (string, scopedVars) {
	scoped := scopedVars{values: map[string]string{}}
	seen := map[string]bool{}

	rewritten := varRef.ReplaceAllStringFunc(rule.Command, func(m string) string {
		name := varRef.FindStringSubmatch(m)[1]
		if stdVars[name] {
			return m
		}
		scopedName := rule.Name + "_" + name
		if !seen[scopedName] {
			seen[scopedName] = true
			scoped.order = append(scoped.order, scopedName)
			scoped.values[scopedName] = rule.DefaultVars[name]
		}
		return "${" + scopedName + "}"
	})
	return rewritten, scoped
}

// writeBuild relativizes an edge's paths against cwd (not root, per
// spec.md §4.6) and emits the build statement, wiring in the rule's
// declared (+ callback-contributed) deps/oodeps and the depfile
// convention.
func writeBuild(nw *ninjawriter.Writer, cwd Path, pc *PathContext, rule *Rule, edge *BuildEdge, extraDeps, extraOodeps *PathSet) {
	deps := edge.Deps.Clone()
	deps.Merge(extraDeps)
	oodeps := edge.Oodeps.Clone()
	oodeps.Merge(extraOodeps)

	dst := pc.Relative(cwd, edge.Dst)
	src := pc.Relative(cwd, edge.Src)
	relDeps := pc.Relative(cwd, deps)
	relOodeps := pc.Relative(cwd, oodeps)

	vars := map[string]string{}
	for k, v := range edge.Vars {
		vars[scopedVarName(rule, k)] = v
	}
	if rule.HasDepfile {
		vars["depfile"] = mangleDepfilePath(Path(dst[0]))
	}

	nw.Build(dst, rule.Name, src, relDeps, relOodeps, vars)
	if !strings.Contains(dst[0], "/") {
		nw.Default(dst[:1])
	}
	nw.Newline()
}

// scopedVarName mirrors extractCmdVars' renaming so that per-edge
// variables land on the same ${rulename_var} slot as the command
// template's placeholders.
func scopedVarName(rule *Rule, name string) string {
	if stdVars[name] {
		return name
	}
	return rule.Name + "_" + name
}
