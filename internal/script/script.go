// Package script is the Starlark embedding layer: the "embedding
// language" spec.md leaves as an external collaborator. It turns
// *.star files into running programs that see a single predeclared `ctx`
// value exposing the full Context API surface from spec.md §6, and turns
// Starlark calls back into core.Context method calls.
package script

import (
	"fmt"
	"sort"

	"github.com/nbscript/nb/core"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Loader is a core.ScriptRunner backed by go.starlark.net. It is the
// concrete implementation of the "embedding language's module loader"
// spec.md places out of scope for the core evaluation engine.
type Loader struct {
	Fs afero.Fs

	// Predeclared are extra names made available to every script besides
	// "ctx" (e.g. a "host" struct with OS/arch information). Optional.
	Predeclared starlark.StringDict
}

// RunScript reads scriptPath, executes it as a Starlark program with ctx
// predeclared as "ctx", and — if the script defines a top-level "build"
// function — calls it with ctx, matching spec.md §4.3's load-and-run step.
func (l *Loader) RunScript(ctx *core.Context, scriptPath core.Path) error {
	src, err := afero.ReadFile(l.Fs, string(scriptPath))
	if err != nil {
		return errors.Wrapf(err, "reading script %s", scriptPath)
	}

	predeclared := starlark.StringDict{}
	for k, v := range l.Predeclared {
		predeclared[k] = v
	}
	predeclared["ctx"] = newCtxValue(ctx)

	thread := &starlark.Thread{Name: string(scriptPath)}
	globals, err := starlark.ExecFile(thread, string(scriptPath), src, predeclared)
	if err != nil {
		return errors.Wrapf(err, "executing script %s", scriptPath)
	}

	buildFn, ok := globals["build"]
	if !ok {
		return nil
	}
	callable, ok := buildFn.(starlark.Callable)
	if !ok {
		return errors.Errorf("script %s defines 'build' but it is not callable", scriptPath)
	}
	if _, err := starlark.Call(thread, callable, starlark.Tuple{predeclared["ctx"]}, nil); err != nil {
		return errors.Wrapf(err, "running build() in %s", scriptPath)
	}
	return nil
}

// ---- ctx value -------------------------------------------------------

type ctxValue struct {
	ctx *core.Context
}

func newCtxValue(ctx *core.Context) *ctxValue { return &ctxValue{ctx: ctx} }

func (c *ctxValue) String() string        { return fmt.Sprintf("<context root=%s>", c.ctx.Root()) }
func (c *ctxValue) Type() string          { return "context" }
func (c *ctxValue) Freeze()               {}
func (c *ctxValue) Truth() starlark.Bool  { return starlark.True }
func (c *ctxValue) Hash() (uint32, error) { return 0, errors.New("unhashable type: context") }

var ctxAttrNames = []string{
	"pathset", "paths", "canonical", "stat", "isdir", "exists",
	"newest", "oldest", "directories", "files", "filter", "relative",
	"rule", "build", "rules", "emit", "targets", "anchor", "root", "cwd",
	"hits", "misses",
}

func (c *ctxValue) AttrNames() []string { return ctxAttrNames }

func (c *ctxValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "root":
		return starlark.String(c.ctx.Root()), nil
	case "cwd":
		return starlark.String(c.ctx.Cwd()), nil
	case "anchor":
		return starlark.String(c.ctx.Anchor()), nil
	case "hits":
		return starlark.MakeInt(c.ctx.Hits()), nil
	case "misses":
		return starlark.MakeInt(c.ctx.Misses()), nil
	case "targets":
		return newPathSetValue(c.ctx.Targets()), nil
	case "pathset":
		return builtin(name, c.bPathset), nil
	case "paths":
		return builtin(name, c.bPaths), nil
	case "canonical":
		return builtin(name, c.bCanonical), nil
	case "stat":
		return builtin(name, c.bStat), nil
	case "isdir":
		return builtin(name, c.bIsdir), nil
	case "exists":
		return builtin(name, c.bExists), nil
	case "newest":
		return builtin(name, c.bNewest), nil
	case "oldest":
		return builtin(name, c.bOldest), nil
	case "directories":
		return builtin(name, c.bDirectories), nil
	case "files":
		return builtin(name, c.bFiles), nil
	case "filter":
		return builtin(name, c.bFilter), nil
	case "relative":
		return builtin(name, c.bRelative), nil
	case "rule":
		return builtin(name, c.bRule), nil
	case "build":
		return builtin(name, c.bBuild), nil
	case "rules":
		return builtin(name, c.bRules), nil
	case "emit":
		return builtin(name, c.bEmit), nil
	}
	return nil, nil
}

func builtin(name string, fn func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)) *starlark.Builtin {
	return starlark.NewBuiltin(name, fn)
}

// ---- path set value ----------------------------------------------------

// PathSetValue is the Starlark representation of a core.PathSet: an
// iterable, indexable, immutable sequence of canonical path strings.
type PathSetValue struct {
	set *core.PathSet
}

func newPathSetValue(s *core.PathSet) *PathSetValue { return &PathSetValue{set: s} }

func (p *PathSetValue) String() string {
	return fmt.Sprintf("pathset(%v)", p.set.Paths())
}
func (p *PathSetValue) Type() string         { return "pathset" }
func (p *PathSetValue) Freeze()              {}
func (p *PathSetValue) Truth() starlark.Bool { return starlark.Bool(p.set.Len() > 0) }
func (p *PathSetValue) Hash() (uint32, error) {
	return 0, errors.New("unhashable type: pathset")
}
func (p *PathSetValue) Len() int { return p.set.Len() }
func (p *PathSetValue) Index(i int) starlark.Value {
	return starlark.String(p.set.Paths()[i])
}
func (p *PathSetValue) Iterate() starlark.Iterator {
	return &pathSetIterator{paths: p.set.Paths()}
}

type pathSetIterator struct {
	paths []core.Path
	idx   int
}

func (it *pathSetIterator) Next(p *starlark.Value) bool {
	if it.idx >= len(it.paths) {
		return false
	}
	*p = starlark.String(it.paths[it.idx])
	it.idx++
	return true
}
func (it *pathSetIterator) Done() {}

// ---- rule handle value ---------------------------------------------------

// RuleHandleValue is the Starlark representation of a *core.RuleHandle.
type RuleHandleValue struct {
	handle *core.RuleHandle
}

func newRuleHandleValue(h *core.RuleHandle) *RuleHandleValue { return &RuleHandleValue{handle: h} }

func (r *RuleHandleValue) String() string        { return fmt.Sprintf("<rule %s>", r.handle.Name()) }
func (r *RuleHandleValue) Type() string          { return "rule" }
func (r *RuleHandleValue) Freeze()               {}
func (r *RuleHandleValue) Truth() starlark.Bool  { return starlark.True }
func (r *RuleHandleValue) Hash() (uint32, error) { return starlark.String(r.handle.Name()).Hash() }

// ---- value conversion helpers --------------------------------------------

// toPathInput converts a Starlark value into the interface{} shapes
// core.PathContext.PathSet knows how to coerce: string, *core.PathSet, or
// []interface{} of the same, recursively.
func toPathInput(v starlark.Value) (interface{}, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.String:
		return string(x), nil
	case *PathSetValue:
		return x.set, nil
	case starlark.Iterable:
		it := x.Iterate()
		defer it.Done()
		var out []interface{}
		var item starlark.Value
		for it.Next(&item) {
			converted, err := toPathInput(item)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	default:
		return nil, errors.Errorf("cannot use %s as a path input", v.Type())
	}
}

func stringValue(v starlark.Value) (string, error) {
	s, ok := starlark.AsString(v)
	if !ok {
		return "", errors.Errorf("expected string, got %s", v.Type())
	}
	return s, nil
}

// kwargsToStringMap converts Starlark **kwargs (command-template / edge
// variables) into a map[string]string: strings are taken as is, bools
// become "true"/"false", and any other value is rendered with its Starlark
// String form, preserving none of Starlark's richer types since Ninja
// variables are always plain text.
func kwargsToStringMap(kwargs []starlark.Tuple) (map[string]string, error) {
	out := map[string]string{}
	for _, kv := range kwargs {
		key, _ := starlark.AsString(kv[0])
		val := kv[1]
		switch v := val.(type) {
		case starlark.String:
			out[key] = string(v)
		case starlark.Bool:
			out[key] = fmt.Sprintf("%t", bool(v))
		case starlark.Int:
			out[key] = v.String()
		default:
			out[key] = val.String()
		}
	}
	return out, nil
}

// splitKnownKwargs partitions kwargs into the subset whose keys are in
// known (passed through to starlark.UnpackArgs) and everything else
// (treated as free-form default/edge variables).
func splitKnownKwargs(kwargs []starlark.Tuple, known map[string]bool) (matched, rest []starlark.Tuple) {
	for _, kv := range kwargs {
		k, _ := starlark.AsString(kv[0])
		if known[k] {
			matched = append(matched, kv)
		} else {
			rest = append(rest, kv)
		}
	}
	return matched, rest
}

// ---- builtin implementations ---------------------------------------------

func (c *ctxValue) bPathset(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	inputs := make([]interface{}, 0, len(args))
	for _, a := range args {
		in, err := toPathInput(a)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	set, err := c.ctx.PathSet(inputs...)
	if err != nil {
		return nil, err
	}
	return newPathSetValue(set), nil
}

func (c *ctxValue) bPaths(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var setArg starlark.Value
	if err := starlark.UnpackArgs("paths", args, kwargs, "set", &setArg); err != nil {
		return nil, err
	}
	set, ok := setArg.(*PathSetValue)
	if !ok {
		return nil, errors.New("paths() expects a pathset")
	}
	items := make([]starlark.Value, 0, set.set.Len())
	for _, p := range set.set.Paths() {
		items = append(items, starlark.String(p))
	}
	return starlark.NewList(items), nil
}

func (c *ctxValue) bCanonical(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs("canonical", args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	return starlark.String(c.ctx.Paths.Canonical(p)), nil
}

func statStruct(se core.StatEntry) *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"size":  starlark.MakeInt64(se.Size),
		"mode":  starlark.MakeInt(int(se.Mode)),
		"mtime": starlark.MakeInt64(se.ModTime.Unix()),
		"ctime": starlark.MakeInt64(se.CTime.Unix()),
	})
}

func (c *ctxValue) bStat(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs("stat", args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	return statStruct(c.ctx.Paths.Stat(c.ctx.Paths.Canonical(p))), nil
}

func (c *ctxValue) bIsdir(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs("isdir", args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	return starlark.Bool(c.ctx.Paths.IsDir(c.ctx.Paths.Canonical(p))), nil
}

func (c *ctxValue) bExists(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs("exists", args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	return starlark.Bool(c.ctx.Paths.Exists(c.ctx.Paths.Canonical(p))), nil
}

func setArgToPathSet(v starlark.Value, fnName string) (*core.PathSet, error) {
	set, ok := v.(*PathSetValue)
	if !ok {
		return nil, errors.Errorf("%s() expects a pathset argument", fnName)
	}
	return set.set, nil
}

func (c *ctxValue) bNewest(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var setArg starlark.Value
	if err := starlark.UnpackArgs("newest", args, kwargs, "set", &setArg); err != nil {
		return nil, err
	}
	set, err := setArgToPathSet(setArg, "newest")
	if err != nil {
		return nil, err
	}
	p, err := c.ctx.Paths.Newest(set)
	if err != nil {
		return nil, err
	}
	return starlark.String(p), nil
}

func (c *ctxValue) bOldest(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var setArg starlark.Value
	if err := starlark.UnpackArgs("oldest", args, kwargs, "set", &setArg); err != nil {
		return nil, err
	}
	set, err := setArgToPathSet(setArg, "oldest")
	if err != nil {
		return nil, err
	}
	p, err := c.ctx.Paths.Oldest(set)
	if err != nil {
		return nil, err
	}
	return starlark.String(p), nil
}

func (c *ctxValue) bDirectories(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var setArg starlark.Value
	if err := starlark.UnpackArgs("directories", args, kwargs, "set", &setArg); err != nil {
		return nil, err
	}
	set, err := setArgToPathSet(setArg, "directories")
	if err != nil {
		return nil, err
	}
	return newPathSetValue(c.ctx.Paths.Directories(set)), nil
}

func (c *ctxValue) bFiles(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var setArg starlark.Value
	if err := starlark.UnpackArgs("files", args, kwargs, "set", &setArg); err != nil {
		return nil, err
	}
	set, err := setArgToPathSet(setArg, "files")
	if err != nil {
		return nil, err
	}
	return newPathSetValue(c.ctx.Paths.Files(set)), nil
}

func (c *ctxValue) bFilter(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) < 1 {
		return nil, errors.New("filter() requires a pathset and at least one pattern")
	}
	set, err := setArgToPathSet(args[0], "filter")
	if err != nil {
		return nil, err
	}
	patterns := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		s, err := stringValue(a)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, s)
	}
	results, err := c.ctx.Paths.Filter(set, patterns...)
	if err != nil {
		return nil, err
	}
	if len(results) == 1 {
		return newPathSetValue(results[0]), nil
	}
	items := make([]starlark.Value, len(results))
	for i, r := range results {
		items[i] = newPathSetValue(r)
	}
	return starlark.Tuple(items), nil
}

func (c *ctxValue) bRelative(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var from string
	var setArg starlark.Value
	if err := starlark.UnpackArgs("relative", args, kwargs, "from", &from, "set", &setArg); err != nil {
		return nil, err
	}
	set, err := setArgToPathSet(setArg, "relative")
	if err != nil {
		return nil, err
	}
	rel := c.ctx.Paths.Relative(c.ctx.Paths.Canonical(from), set)
	items := make([]starlark.Value, len(rel))
	for i, r := range rel {
		items[i] = starlark.String(r)
	}
	return starlark.NewList(items), nil
}

// bRule implements ctx.rule(name, command, pool="", max_parallel=0, doc="",
// decl_deps=None, decl_oodeps=None, callback=None, **default_vars).
func (c *ctxValue) bRule(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	known := map[string]bool{
		"name": true, "command": true, "pool": true, "max_parallel": true,
		"decl_deps": true, "decl_oodeps": true, "callback": true, "doc": true,
	}
	knownKwargs, rest := splitKnownKwargs(kwargs, known)

	var name, command, pool, doc string
	var maxParallel int
	var declDepsV, declOodepsV, callbackV starlark.Value

	if err := starlark.UnpackArgs("rule", args, knownKwargs,
		"name", &name, "command", &command,
		"pool?", &pool, "max_parallel?", &maxParallel, "doc?", &doc,
		"decl_deps?", &declDepsV, "decl_oodeps?", &declOodepsV, "callback?", &callbackV,
	); err != nil {
		return nil, err
	}

	defaultVars, err := kwargsToStringMap(rest)
	if err != nil {
		return nil, err
	}

	opts := core.RuleOptions{
		Pool:        pool,
		MaxParallel: maxParallel,
		DefaultVars: defaultVars,
	}
	if declDepsV != nil {
		in, err := toPathInput(declDepsV)
		if err != nil {
			return nil, err
		}
		set, err := c.ctx.PathSet(in)
		if err != nil {
			return nil, err
		}
		opts.DeclDeps = set
	}
	if declOodepsV != nil {
		in, err := toPathInput(declOodepsV)
		if err != nil {
			return nil, err
		}
		set, err := c.ctx.PathSet(in)
		if err != nil {
			return nil, err
		}
		opts.DeclOodeps = set
	}
	if callbackV != nil {
		callable, ok := callbackV.(starlark.Callable)
		if !ok {
			return nil, errors.New("callback must be callable")
		}
		opts.Callback = func(ctx *core.Context) (*core.PathSet, *core.PathSet, error) {
			result, err := starlark.Call(thread, callable, starlark.Tuple{newCtxValue(ctx)}, nil)
			if err != nil {
				return nil, nil, err
			}
			tup, ok := result.(starlark.Tuple)
			if !ok || len(tup) != 2 {
				return nil, nil, errors.New("rule callback must return (extra_deps, extra_oodeps)")
			}
			depsIn, err := toPathInput(tup[0])
			if err != nil {
				return nil, nil, err
			}
			oodepsIn, err := toPathInput(tup[1])
			if err != nil {
				return nil, nil, err
			}
			deps, err := ctx.PathSet(depsIn)
			if err != nil {
				return nil, nil, err
			}
			oodeps, err := ctx.PathSet(oodepsIn)
			if err != nil {
				return nil, nil, err
			}
			return deps, oodeps, nil
		}
	}

	handle, err := c.ctx.Rule(name, command, doc, opts)
	if err != nil {
		return nil, err
	}
	return newRuleHandleValue(handle), nil
}

// bBuild implements ctx.build(handle, dst=[], src=[], deps=[], oodeps=[],
// **vars).
func (c *ctxValue) bBuild(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) < 1 {
		return nil, errors.New("build() requires a rule handle")
	}
	handleVal, ok := args[0].(*RuleHandleValue)
	if !ok {
		return nil, errors.New("build()'s first argument must be a rule handle")
	}

	known := map[string]bool{"dst": true, "src": true, "deps": true, "oodeps": true}
	knownKwargs, rest := splitKnownKwargs(kwargs, known)

	var dstV, srcV, depsV, oodepsV starlark.Value
	if err := starlark.UnpackArgs("build", args[1:], knownKwargs,
		"dst?", &dstV, "src?", &srcV, "deps?", &depsV, "oodeps?", &oodepsV,
	); err != nil {
		return nil, err
	}

	toIn := func(v starlark.Value) (interface{}, error) {
		if v == nil {
			return nil, nil
		}
		return toPathInput(v)
	}
	dstIn, err := toIn(dstV)
	if err != nil {
		return nil, err
	}
	srcIn, err := toIn(srcV)
	if err != nil {
		return nil, err
	}
	depsIn, err := toIn(depsV)
	if err != nil {
		return nil, err
	}
	oodepsIn, err := toIn(oodepsV)
	if err != nil {
		return nil, err
	}

	vars, err := kwargsToStringMap(rest)
	if err != nil {
		return nil, err
	}

	err = c.ctx.Build(handleVal.handle, core.BuildSpec{
		Dst: dstIn, Src: srcIn, Deps: depsIn, Oodeps: oodepsIn, Vars: vars,
	})
	if err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (c *ctxValue) bRules(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	rules := c.ctx.Rules.All()
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	items := make([]starlark.Value, len(rules))
	for i, r := range rules {
		items[i] = starlark.String(r.Name)
	}
	return starlark.NewList(items), nil
}

func (c *ctxValue) bEmit(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return nil, errors.New("emit() is invoked by the driver, not by scripts")
}
