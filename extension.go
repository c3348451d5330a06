package wisp

import "context"

// Extension provides cross-cutting hooks into the dispatcher command loop
// and the scope graph's mutation lifecycle: each extension can observe a
// command, time it, and react to its error without the dispatcher itself
// growing cross-cutting logic.
type Extension interface {
	// Name returns the extension's name.
	Name() string

	// Order determines extension execution order (lower = earlier).
	Order() int

	// Init is called once when the extension is attached to a dispatcher.
	Init(d *Dispatcher) error

	// Wrap intercepts a command's execution, middleware-style: call
	// next() to continue the chain.
	Wrap(ctx context.Context, next func() (any, error), op *CommandOp) (any, error)

	// OnError is called when a command's execution returns an error.
	OnError(err error, op *CommandOp)

	// OnGraphMutation is called after each scope the dispatcher creates
	// while handling op — ScopeGraph has no hooks of its own, so the
	// dispatcher calls this directly after each RegisterNewScope it drives,
	// with MutationScopeCreated. UpdateValue and RemoveScope calls do not
	// fire it.
	OnGraphMutation(op *CommandOp, kind GraphMutationKind, index ScopeIndex)

	// Dispose is called when the dispatcher shuts down.
	Dispose(d *Dispatcher) error
}

// GraphMutationKind identifies which scope-graph operation a mutation hook
// fired for.
type GraphMutationKind string

const (
	MutationScopeCreated GraphMutationKind = "scope_created"
	MutationScopeRemoved GraphMutationKind = "scope_removed"
	MutationValueUpdated GraphMutationKind = "value_updated"
)

// BaseExtension provides no-op defaults for every Extension method, so a
// concrete extension embedding it only overrides the hooks it cares about.
type BaseExtension struct {
	name string
}

// NewBaseExtension creates a base extension with the given name.
func NewBaseExtension(name string) BaseExtension {
	return BaseExtension{name: name}
}

func (e *BaseExtension) Name() string { return e.name }

func (e *BaseExtension) Order() int { return 100 }

func (e *BaseExtension) Init(d *Dispatcher) error { return nil }

func (e *BaseExtension) Wrap(ctx context.Context, next func() (any, error), op *CommandOp) (any, error) {
	return next()
}

func (e *BaseExtension) OnError(err error, op *CommandOp) {}

func (e *BaseExtension) OnGraphMutation(op *CommandOp, kind GraphMutationKind, index ScopeIndex) {}

func (e *BaseExtension) Dispose(d *Dispatcher) error { return nil }

// CommandOp describes the command currently executing, passed to every
// extension hook.
type CommandOp struct {
	Kind    CommandKind
	Command DaemonCommand
}
