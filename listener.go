package wisp

// ListenerFunc is invoked with the current values of every variable the
// listener needs, keyed by name, whenever one of them changes (or once
// immediately at registration, to seed the UI).
type ListenerFunc func(values Env)

// Listener is a registered callback plus the variables it needs. The same
// *Listener pointer is filed under every key it needs in a scope's listener
// map, so a listener reached via two different variables still refers to
// one callback instance, never a clone of it.
type Listener struct {
	NeededVariables []VarName
	Callback        ListenerFunc
}

// NewListener builds a listener needing the given variables.
func NewListener(needed []VarName, cb ListenerFunc) *Listener {
	return &Listener{NeededVariables: needed, Callback: cb}
}
