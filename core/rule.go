package core

// RuleCallback is invoked exactly once at emission time, only for rules
// that were actually used, and may contribute extra dependencies that were
// not known until every build edge had been declared (e.g. "every header
// emitted anywhere in the graph", as in the original hb/rules/_gcc.py).
type RuleCallback func(ctx *Context) (extraDeps, extraOodeps *PathSet, err error)

// Rule is a named command template together with its defaults and
// attachments. Rules are immutable after registration except for the used
// flag, which flips the first time a script builds an edge against them.
type Rule struct {
	Name         string
	Command      string
	Doc          string
	DefaultVars  map[string]string
	Pool         string
	MaxParallel  int
	DeclDeps     *PathSet
	DeclOodeps   *PathSet
	Callback     RuleCallback
	HasDepfile   bool
	used         bool
}

// Used reports whether any script has built an edge against this rule.
func (r *Rule) Used() bool { return r.used }

// RuleOptions configures a rule at registration time.
type RuleOptions struct {
	Name        string
	Pool        string
	MaxParallel int
	DeclDeps    *PathSet
	DeclOodeps  *PathSet
	Callback    RuleCallback
	DefaultVars map[string]string
}

// RuleHandle is the value scripts hold on to after registering a rule. It
// replaces the source implementation's "decorator returns a wrapped
// function" pattern (spec.md §9, "Decorator pattern"): there is no Go
// closure to wrap, since rule bodies are authored in the embedded script
// language, not in Go. Build references a rule purely by handle.
type RuleHandle struct {
	rule *Rule
}

// Name returns the rule's registered name.
func (h *RuleHandle) Name() string { return h.rule.Name }

// RuleRegistry records declared rules, keyed by name, enforcing uniqueness
// both within the registry and against a set of reserved facade names.
type RuleRegistry struct {
	byName   map[string]*Rule
	order    []*Rule
	reserved map[string]bool
	emitted  bool
}

// NewRuleRegistry constructs an empty registry. reservedNames are facade
// attribute names (pathset, build, emit, ...) a rule name must not collide
// with.
func NewRuleRegistry(reservedNames ...string) *RuleRegistry {
	reserved := make(map[string]bool, len(reservedNames))
	for _, n := range reservedNames {
		reserved[n] = true
	}
	return &RuleRegistry{byName: map[string]*Rule{}, reserved: reserved}
}

// Declare registers a new rule. It fails if emission has already happened,
// or if the name collides with an existing rule or a reserved facade name.
func (reg *RuleRegistry) Declare(name, command, doc string, opts RuleOptions) (*RuleHandle, error) {
	if reg.emitted {
		return nil, newErr(ErrAlreadyEmitted, "cannot declare rule %q after emission", name).WithRule(name)
	}
	if reg.reserved[name] {
		return nil, newErr(ErrNameAlreadyDefined, "rule name %q collides with a context attribute", name).WithRule(name)
	}
	if _, exists := reg.byName[name]; exists {
		return nil, newErr(ErrNameAlreadyDefined, "rule %q already defined", name).WithRule(name)
	}
	defaults := opts.DefaultVars
	if defaults == nil {
		defaults = map[string]string{}
	}
	_, hasDepfile := defaults["depfile"]
	r := &Rule{
		Name:        name,
		Command:     command,
		Doc:         doc,
		DefaultVars: defaults,
		Pool:        opts.Pool,
		MaxParallel: opts.MaxParallel,
		DeclDeps:    orEmpty(opts.DeclDeps),
		DeclOodeps:  orEmpty(opts.DeclOodeps),
		Callback:    opts.Callback,
		HasDepfile:  hasDepfile,
	}
	reg.byName[name] = r
	reg.order = append(reg.order, r)
	return &RuleHandle{rule: r}, nil
}

// Lookup returns the rule registered under name, if any.
func (reg *RuleRegistry) Lookup(name string) (*Rule, bool) {
	r, ok := reg.byName[name]
	return r, ok
}

// All returns every declared rule in registration order.
func (reg *RuleRegistry) All() []*Rule {
	out := make([]*Rule, len(reg.order))
	copy(out, reg.order)
	return out
}

// MarkEmitted freezes the registry so further declarations are rejected.
func (reg *RuleRegistry) MarkEmitted() { reg.emitted = true }

func orEmpty(s *PathSet) *PathSet {
	if s == nil {
		return NewPathSet()
	}
	return s
}
