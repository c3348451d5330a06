package wisp

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// ScopeGraphEventKind enumerates scope-graph-originated events; currently
// only RemoveScope exists, emitted by widget-destroy callbacks.
type ScopeGraphEventKind int

const (
	EventRemoveScope ScopeGraphEventKind = iota
)

// ScopeGraphEvent is sent on the channel passed to FromGlobalVars, used by
// listeners that need to request asynchronous self-removal of a scope
// without mutating the graph from outside the dispatcher goroutine.
type ScopeGraphEvent struct {
	Kind  ScopeGraphEventKind
	Index ScopeIndex
}

// ScopeGraph is the reactive core: nested scopes plus the two edge
// relations over them. It carries no internal mutex: only the dispatcher
// goroutine ever touches it, so exclusivity is an architectural property
// rather than a locking discipline.
type ScopeGraph struct {
	scopes      map[ScopeIndex]*Scope
	inheritance *oneToMany[map[VarName]struct{}]
	hierarchy   *oneToMany[[]ProvidedAttr]

	nextIndex   ScopeIndex
	globalIndex ScopeIndex

	events chan<- ScopeGraphEvent

	// DebugValidate, when true, runs Validate after every mutation. The
	// dispatcher enables it in development builds and leaves it off in
	// production.
	DebugValidate bool

	Log *slog.Logger
}

// FromGlobalVars seeds the global scope with vars and returns a new graph.
// events is used only by listeners to request asynchronous self-removal of
// a scope (HandleScopeGraphEvent); it may be nil if nothing consumes events.
func FromGlobalVars(vars map[VarName]Dyn, events chan<- ScopeGraphEvent) *ScopeGraph {
	g := &ScopeGraph{
		scopes:      make(map[ScopeIndex]*Scope),
		inheritance: newOneToMany[map[VarName]struct{}](),
		hierarchy:   newOneToMany[[]ProvidedAttr](),
		events:      events,
		Log:         slog.Default(),
	}
	g.seedGlobal(vars)
	return g
}

func (g *ScopeGraph) seedGlobal(vars map[VarName]Dyn) {
	idx := g.allocIndex()
	global := newScope(idx, "global")
	for k, v := range vars {
		global.data[k] = v
	}
	g.scopes[idx] = global
	g.globalIndex = idx
}

func (g *ScopeGraph) allocIndex() ScopeIndex {
	idx := g.nextIndex
	g.nextIndex++
	return idx
}

// Clear drops all scopes and re-creates the global scope with vars,
// resetting index allocation.
func (g *ScopeGraph) Clear(vars map[VarName]Dyn) {
	g.scopes = make(map[ScopeIndex]*Scope)
	g.inheritance = newOneToMany[map[VarName]struct{}]()
	g.hierarchy = newOneToMany[[]ProvidedAttr]()
	g.nextIndex = 0
	g.seedGlobal(vars)
}

// GlobalIndex returns the index of the never-removed global scope.
func (g *ScopeGraph) GlobalIndex() ScopeIndex { return g.globalIndex }

// ScopeAt returns the scope at idx, or nil if it does not exist (or was
// removed).
func (g *ScopeGraph) ScopeAt(idx ScopeIndex) *Scope {
	return g.scopes[idx]
}

// FindScopeWithVariable returns the closest scope to idx (including idx
// itself) whose data contains var, walking the inheritance chain upward.
// No edge-set filtering happens here; it is purely a data lookup. Edge
// reference sets are maintained separately by RegisterScopeReferencingVariable.
func (g *ScopeGraph) FindScopeWithVariable(idx ScopeIndex, v VarName) (ScopeIndex, bool) {
	cur := idx
	for {
		s, ok := g.scopes[cur]
		if !ok {
			return 0, false
		}
		if _, ok := s.data[v]; ok {
			return cur, true
		}
		e, ok := g.inheritance.parentOf(cur)
		if !ok {
			return 0, false
		}
		cur = e.parent
	}
}

// LookupVariableInScope resolves var as seen from idx via inheritance.
func (g *ScopeGraph) LookupVariableInScope(idx ScopeIndex, v VarName) (Dyn, error) {
	found, ok := g.FindScopeWithVariable(idx, v)
	if !ok {
		return Dyn{}, errVariableNotInScope(v)
	}
	return g.scopes[found].data[v], nil
}

// buildEnv resolves every variable referenced in refs, as seen from idx,
// into an Env suitable for Eval.
func (g *ScopeGraph) buildEnv(idx ScopeIndex, names []VarName) (Env, error) {
	env := make(Env, len(names))
	for _, n := range names {
		v, err := g.LookupVariableInScope(idx, n)
		if err != nil {
			return nil, err
		}
		env[n] = v
	}
	return env, nil
}

func exprVarNames(e Expr) []VarName {
	refs := VarRefs(e)
	out := make([]VarName, len(refs))
	for i, r := range refs {
		out[i] = r.Name
	}
	return out
}

// RegisterNewScope instantiates a widget scope: attrs are evaluated in
// callingScope first (atomically — any failure leaves the graph untouched),
// then the new scope is created with an optional inheritance edge to
// superscope and a hierarchy edge from callingScope carrying the provided
// attributes.
func (g *ScopeGraph) RegisterNewScope(name string, superscope *ScopeIndex, callingScope ScopeIndex, attrs []ProvidedAttr) (ScopeIndex, error) {
	if _, ok := g.scopes[callingScope]; !ok {
		return 0, errScopeMissing(callingScope)
	}
	if superscope != nil {
		if _, ok := g.scopes[*superscope]; !ok {
			return 0, errScopeMissing(*superscope)
		}
	}

	// Step 1: evaluate every attribute in callingScope's context before
	// mutating anything.
	evaluated := make(map[AttrName]Dyn, len(attrs))
	for _, a := range attrs {
		env, err := g.buildEnv(callingScope, exprVarNames(a.Expr))
		if err != nil {
			return 0, err
		}
		val, err := Eval(a.Expr, env)
		if err != nil {
			return 0, err
		}
		evaluated[a.AttrName] = val
	}

	// Step 2: create the new scope.
	idx := g.allocIndex()
	scope := newScope(idx, name)
	for attr, val := range evaluated {
		scope.data[VarName(attr)] = val
	}
	g.scopes[idx] = scope

	// Step 3: optional inheritance edge, empty reference set initially.
	if superscope != nil {
		g.inheritance.insert(idx, *superscope, make(map[VarName]struct{}))
	}

	// Step 4: hierarchy edge from idx to its ancestor callingScope (always
	// inserted, so RemoveScope cascades through it), carrying every attribute
	// with at least one variable reference, plus reference registration for
	// each variable mentioned.
	var provided []ProvidedAttr
	for _, a := range attrs {
		refs := exprVarNames(a.Expr)
		if len(refs) == 0 {
			continue
		}
		provided = append(provided, a)
		for _, v := range refs {
			if err := g.RegisterScopeReferencingVariable(callingScope, v); err != nil {
				return 0, err
			}
		}
	}
	g.hierarchy.insert(idx, callingScope, provided)

	g.maybeValidate()
	return idx, nil
}

// RegisterScopeReferencingVariable ensures that every inheritance edge from
// scope up to the scope that actually stores var has var in its reference
// set. No-op if scope itself stores var. Errors if the chain runs out
// before finding var.
func (g *ScopeGraph) RegisterScopeReferencingVariable(scope ScopeIndex, v VarName) error {
	s, ok := g.scopes[scope]
	if !ok {
		return errScopeMissing(scope)
	}
	if _, ok := s.data[v]; ok {
		return nil
	}
	e, ok := g.inheritance.parentOf(scope)
	if !ok {
		return errVariableNotInScope(v)
	}
	if e.data == nil {
		e.data = make(map[VarName]struct{})
	}
	e.data[v] = struct{}{}
	g.inheritance.childToParent[scope] = e
	return g.RegisterScopeReferencingVariable(e.parent, v)
}

// RegisterListener stores l in scope under every needed variable and
// immediately invokes it once to seed the caller. An empty needed-variable
// list fires the callback once with an empty map and returns without
// touching inheritance at all.
func (g *ScopeGraph) RegisterListener(scope ScopeIndex, l *Listener) error {
	if _, ok := g.scopes[scope]; !ok {
		return errScopeMissing(scope)
	}
	if len(l.NeededVariables) == 0 {
		l.Callback(Env{})
		return nil
	}
	for _, v := range l.NeededVariables {
		if err := g.RegisterScopeReferencingVariable(scope, v); err != nil {
			return err
		}
	}
	s := g.scopes[scope]
	for _, v := range l.NeededVariables {
		s.listeners[v] = append(s.listeners[v], l)
	}
	env, err := g.buildEnv(scope, l.NeededVariables)
	if err != nil {
		// Seeding failure is not expected once RegisterScopeReferencingVariable
		// has succeeded for every needed variable, but guard anyway.
		g.Log.Warn("listener seed lookup failed", "scope", scope, "error", err)
		return nil
	}
	l.Callback(env)
	return nil
}

// UpdateValue finds the nearest ancestor-or-self scope storing var, writes
// newValue there, and triggers propagation.
func (g *ScopeGraph) UpdateValue(originScope ScopeIndex, v VarName, newValue Dyn) error {
	found, ok := g.FindScopeWithVariable(originScope, v)
	if !ok {
		return errVariableNotInScope(v)
	}
	g.scopes[found].data[v] = newValue
	g.notifyValueChanged(found, v)
	g.maybeValidate()
	return nil
}

// RemoveScope recursively removes every hierarchy descendant of idx, then
// idx itself, along with every edge touching any removed scope.
func (g *ScopeGraph) RemoveScope(idx ScopeIndex) error {
	if _, ok := g.scopes[idx]; !ok {
		return errScopeMissing(idx)
	}
	if idx == g.globalIndex {
		return &GraphError{Kind: "CannotRemoveGlobal", Index: idx}
	}
	toRemove := append(g.hierarchy.descendants(idx), idx)
	// Remove leaves first so that partially-removed parents are never
	// observed mid-cascade.
	for i := len(toRemove) - 1; i >= 0; i-- {
		child := toRemove[i]
		g.inheritance.remove(child)
		g.hierarchy.remove(child)
		delete(g.scopes, child)
	}
	g.maybeValidate()
	return nil
}

// HandleScopeGraphEvent applies a ScopeGraphEvent to the graph. Errors are
// logged, not surfaced, since the event's originator (a listener callback)
// has no reply channel to receive them on.
func (g *ScopeGraph) HandleScopeGraphEvent(evt ScopeGraphEvent) {
	switch evt.Kind {
	case EventRemoveScope:
		if err := g.RemoveScope(evt.Index); err != nil {
			g.Log.Warn("handling scope graph event", "event", "RemoveScope", "index", evt.Index, "error", err)
		}
	}
}

// RequestRemoveScope lets a listener callback ask for its own scope's
// removal without reentering the graph directly; it sends on the events
// channel supplied to FromGlobalVars.
func (g *ScopeGraph) RequestRemoveScope(idx ScopeIndex) {
	if g.events == nil {
		return
	}
	g.events <- ScopeGraphEvent{Kind: EventRemoveScope, Index: idx}
}

// CurrentlyUsedGlobals returns every variable stored in the global scope
// that is used (possibly transitively) by a listener anywhere in the graph.
func (g *ScopeGraph) CurrentlyUsedGlobals() []VarName {
	used := g.VariablesUsedInSelfOrSubscopesOf(g.globalIndex)
	global := g.scopes[g.globalIndex]
	var out []VarName
	for _, v := range used {
		if _, ok := global.data[v]; ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CurrentlyUnusedGlobals returns every global-scope variable not returned by
// CurrentlyUsedGlobals.
func (g *ScopeGraph) CurrentlyUnusedGlobals() []VarName {
	used := make(map[VarName]bool)
	for _, v := range g.CurrentlyUsedGlobals() {
		used[v] = true
	}
	global := g.scopes[g.globalIndex]
	var out []VarName
	for v := range global.data {
		if !used[v] {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// VariablesUsedInSelfOrSubscopesOf returns every variable referenced by a
// listener in idx or any transitive inheritance-subscope of idx, the set
// script-var liveness diffing is computed from.
func (g *ScopeGraph) VariablesUsedInSelfOrSubscopesOf(idx ScopeIndex) []VarName {
	seen := map[VarName]bool{}
	collect := func(s *Scope) {
		for v := range s.listeners {
			if len(s.listeners[v]) > 0 {
				seen[v] = true
			}
		}
	}
	if s, ok := g.scopes[idx]; ok {
		collect(s)
	}
	for _, child := range g.inheritanceDescendants(idx) {
		if s, ok := g.scopes[child]; ok {
			collect(s)
		}
	}
	out := make([]VarName, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InheritanceChildren returns the direct inheritance (subscope) children of
// idx, stable-ordered. Exposed for diagnostics (extensions/graph_debug.go's
// tree rendering) that need to walk the graph's topology from outside the
// package.
func (g *ScopeGraph) InheritanceChildren(idx ScopeIndex) []ScopeIndex {
	return g.inheritance.childrenOf(idx)
}

// HierarchyChildren returns the direct hierarchy (descendant) children of
// idx, stable-ordered.
func (g *ScopeGraph) HierarchyChildren(idx ScopeIndex) []ScopeIndex {
	return g.hierarchy.childrenOf(idx)
}

// inheritanceDescendants performs the same iterative traversal as
// hierarchy.descendants but over the inheritance relation, since
// VariablesUsedInSelfOrSubscopesOf and notifyValueChanged's step 3 both walk
// "subscopes" (inheritance children), not hierarchy descendants.
func (g *ScopeGraph) inheritanceDescendants(idx ScopeIndex) []ScopeIndex {
	return g.inheritance.descendants(idx)
}

// maybeValidate runs Validate when DebugValidate is set, logging (not
// panicking) on failure so that a caught inconsistency doesn't itself crash
// the dispatcher. Validate is a diagnostic aid, not a fatal assertion.
func (g *ScopeGraph) maybeValidate() {
	if !g.DebugValidate {
		return
	}
	if err := g.Validate(); err != nil {
		g.Log.Error("scope graph validation failed", "error", err)
	}
}

// Validate checks the graph's structural invariants: relation consistency
// (delegated to oneToMany.validate), every edge referencing only live
// scopes, and every inheritance-edge variable resolvable from its parent.
func (g *ScopeGraph) Validate() error {
	if err := g.inheritance.validate(); err != nil {
		return err
	}
	if err := g.hierarchy.validate(); err != nil {
		return err
	}
	for child, e := range g.inheritance.childToParent {
		if _, ok := g.scopes[child]; !ok {
			return &GraphError{Kind: "DanglingEdge", Detail: "inheritance child missing", Index: child}
		}
		if _, ok := g.scopes[e.parent]; !ok {
			return &GraphError{Kind: "DanglingEdge", Detail: "inheritance parent missing", Index: e.parent}
		}
		for v := range e.data {
			if _, ok := g.FindScopeWithVariable(e.parent, v); !ok {
				return &GraphError{Kind: "UnresolvableInheritedVariable", Detail: string(v), Index: child}
			}
		}
	}
	for child, e := range g.hierarchy.childToParent {
		if _, ok := g.scopes[child]; !ok {
			return &GraphError{Kind: "DanglingEdge", Detail: "hierarchy child missing", Index: child}
		}
		if _, ok := g.scopes[e.parent]; !ok {
			return &GraphError{Kind: "DanglingEdge", Detail: "hierarchy parent missing", Index: e.parent}
		}
	}
	return nil
}

// Visualize renders the scope graph as Graphviz DOT text: solid edges for
// inheritance (subscope -> superscope), dashed edges for hierarchy
// (descendant -> ancestor, labeled with provided attribute names).
func (g *ScopeGraph) Visualize() string {
	var b strings.Builder
	b.WriteString("digraph scopegraph {\n")
	ids := make([]ScopeIndex, 0, len(g.scopes))
	for idx := range g.scopes {
		ids = append(ids, idx)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, idx := range ids {
		s := g.scopes[idx]
		b.WriteString(fmt.Sprintf("  s%d [label=%q];\n", idx, fmt.Sprintf("%s (#%d)", s.Name, idx)))
	}
	for _, idx := range ids {
		if e, ok := g.inheritance.parentOf(idx); ok {
			vars := make([]string, 0, len(e.data))
			for v := range e.data {
				vars = append(vars, string(v))
			}
			sort.Strings(vars)
			b.WriteString(fmt.Sprintf("  s%d -> s%d [style=solid label=%q];\n", idx, e.parent, strings.Join(vars, ",")))
		}
		if e, ok := g.hierarchy.parentOf(idx); ok {
			names := make([]string, len(e.data))
			for i, a := range e.data {
				names[i] = string(a.AttrName)
			}
			b.WriteString(fmt.Sprintf("  s%d -> s%d [style=dashed label=%q];\n", idx, e.parent, strings.Join(names, ",")))
		}
	}
	b.WriteString("}\n")
	return b.String()
}
