// Package ninjawriter is the low-level Ninja manifest text writer. It is
// the "utility library the emitter calls" that spec.md places out of
// scope for the evaluation engine itself (spec.md §1): it knows nothing
// about rules, paths, or pools as domain concepts, only how to format the
// corresponding Ninja syntax deterministically. No published Go library
// in the example pack fills this role (maruel-nin is a Ninja *reader* and
// executor, not a manifest writer), so this is a small hand-rolled
// formatter in the style of the teacher's own ctx.ninjaFile string
// building (RULES/core/context.go).
package ninjawriter

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Writer emits a Ninja manifest to an underlying io.Writer. Calls must
// follow Ninja's own ordering rules: variables/pools/rules before the
// build statements that reference them.
type Writer struct {
	w   io.Writer
	err error
}

// New wraps w in a Writer.
func New(w io.Writer) *Writer { return &Writer{w: w} }

// Err returns the first error encountered by any Write call, if any.
func (w *Writer) Err() error { return w.err }

func (w *Writer) printf(format string, args ...interface{}) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
}

// Variable emits a top-level or rule-scoped "name = value" assignment.
func (w *Writer) Variable(name, value string) {
	w.printf("%s = %s\n", name, value)
}

// Pool emits a named concurrency pool with the given depth.
func (w *Writer) Pool(name string, depth int) {
	w.printf("pool %s\n  depth = %d\n", name, depth)
}

// Rule emits a rule declaration. depfile and pool are omitted when empty.
func (w *Writer) Rule(name, command, depfile, pool string) {
	w.printf("rule %s\n", name)
	w.printf("  command = %s\n", command)
	if depfile != "" {
		w.printf("  depfile = %s\n", depfile)
	}
	if pool != "" {
		w.printf("  pool = %s\n", pool)
	}
}

// Build emits one build edge: outs built by rule from ins, with the given
// order-only and implicit dependencies, plus any per-edge variables.
func (w *Writer) Build(outs []string, rule string, ins, implicitDeps, orderOnlyDeps []string, vars map[string]string) {
	line := fmt.Sprintf("build %s: %s", strings.Join(outs, " "), rule)
	if len(ins) > 0 {
		line += " " + strings.Join(ins, " ")
	}
	if len(implicitDeps) > 0 {
		line += " | " + strings.Join(implicitDeps, " ")
	}
	if len(orderOnlyDeps) > 0 {
		line += " || " + strings.Join(orderOnlyDeps, " ")
	}
	w.printf("%s\n", line)

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w.printf("  %s = %s\n", name, vars[name])
	}
}

// Default marks the given outputs as default targets.
func (w *Writer) Default(outs []string) {
	w.printf("default %s\n", strings.Join(outs, " "))
}

// Newline emits a blank separator line, matching the teacher's habit of
// visually separating rule/build stanzas.
func (w *Writer) Newline() { w.printf("\n") }
