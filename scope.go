package wisp

// ScopeIndex is a stable, opaque handle uniquely identifying a scope for its
// lifetime. Indices are monotonically increasing and never reused within a
// run, even across RemoveScope calls — only Clear resets allocation.
type ScopeIndex uint64

// ProvidedAttr describes one attribute computed in an ancestor scope and
// assigned as a variable in a descendant scope, per the hierarchy relation.
type ProvidedAttr struct {
	AttrName AttrName
	Expr     Expr
}

// Scope is a node in the scope graph: a debug name, the data it stores
// directly, and the listeners registered against it. A Scope never reaches
// across the inheritance/hierarchy edges itself; all cross-scope lookups
// live on ScopeGraph, which owns the topology.
type Scope struct {
	Index ScopeIndex
	Name  string

	data      map[VarName]Dyn
	listeners map[VarName][]*Listener
}

func newScope(idx ScopeIndex, name string) *Scope {
	return &Scope{
		Index:     idx,
		Name:      name,
		data:      make(map[VarName]Dyn),
		listeners: make(map[VarName][]*Listener),
	}
}

// Data returns a copy of the scope's directly-stored variables, for
// introspection only; graph code should use lookups on ScopeGraph instead of
// reaching into this map so that inheritance is respected.
func (s *Scope) Data() map[VarName]Dyn {
	out := make(map[VarName]Dyn, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}
