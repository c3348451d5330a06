package wisp

import (
	"fmt"
	"log/slog"
	"sort"
)

// CommandKind enumerates the DaemonCommand variants the dispatcher
// recognizes.
type CommandKind string

const (
	CommandNoOp               CommandKind = "no_op"
	CommandUpdateVars         CommandKind = "update_vars"
	CommandReloadConfigAndCss CommandKind = "reload_config_and_css"
	CommandUpdateConfig       CommandKind = "update_config"
	CommandUpdateCss          CommandKind = "update_css"
	CommandOpenWindow         CommandKind = "open_window"
	CommandCloseWindow        CommandKind = "close_window"
	CommandOpenMany           CommandKind = "open_many"
	CommandCloseAll           CommandKind = "close_all"
	CommandKillServer         CommandKind = "kill_server"
	CommandPrintState         CommandKind = "print_state"
	CommandPrintDebug         CommandKind = "print_debug"
	CommandPrintWindows       CommandKind = "print_windows"
	CommandPrintGraph         CommandKind = "print_graph"
)

// DaemonResponse is what a command's reply channel carries: either a
// success payload or a failure message.
type DaemonResponse struct {
	Success bool
	Text    string
}

// WindowOpenRequest carries OpenWindow's geometry-override parameters.
type WindowOpenRequest struct {
	Name   string
	Pos    *ExprCoords
	Size   *ExprCoords
	Anchor string
	Screen *int
	Toggle bool
}

// ExprCoords is a pair of expressions evaluated against the global scope at
// OpenWindow time to override a window's declared geometry.
type ExprCoords struct {
	X, Y Expr
}

// DaemonCommand is the single message type the dispatcher's command channel
// carries; Kind selects which fields are meaningful.
type DaemonCommand struct {
	Kind CommandKind

	UpdateVars map[VarName]Dyn
	Config     *Config
	Css        string
	Open       WindowOpenRequest
	OpenNames  []string
	CloseName  string
	PrintAll   bool

	Reply chan<- DaemonResponse
}

// reply sends at most one response on cmd.Reply then clears it; reply
// channels are single-shot.
func (c *DaemonCommand) reply(success bool, text string) {
	if c.Reply == nil {
		return
	}
	c.Reply <- DaemonResponse{Success: success, Text: text}
	c.Reply = nil
}

// WindowGeometryValues is a window's fully evaluated geometry at open time:
// the declared expressions (or the caller's overrides) reduced to concrete
// numbers, ready for the toolkit to place the window with.
type WindowGeometryValues struct {
	X, Y          float64
	Width, Height float64
	Anchor        string
	Screen        int
}

// WidgetRenderer is the GUI toolkit collaborator boundary: the dispatcher
// calls it when a window opens with evaluated geometry, whenever a widget's
// resolved attribute values are (re)computed, and when a scope is torn
// down, but never reaches into it for anything that would make the core
// depend on a real toolkit. NopRenderer is the zero-dependency default used
// headless and in tests.
type WidgetRenderer interface {
	OpenWindow(scope ScopeIndex, win *WindowDefinition, geometry WindowGeometryValues)
	Render(scope ScopeIndex, node *WidgetNode, values Env)
	Remove(scope ScopeIndex)
}

// NopRenderer discards every renderer call.
type NopRenderer struct{}

func (NopRenderer) OpenWindow(ScopeIndex, *WindowDefinition, WindowGeometryValues) {}
func (NopRenderer) Render(ScopeIndex, *WidgetNode, Env)                            {}
func (NopRenderer) Remove(ScopeIndex)                                              {}

// Dispatcher is the single-threaded command loop that owns the scope graph
// and the open-window set. Exactly one goroutine calls
// Run; every other goroutine in the process talks to it only by sending on
// Commands() or GraphEvents().
type Dispatcher struct {
	graph      *ScopeGraph
	resolver   *Resolver
	scriptVars *ScriptVarHandler
	renderer   WidgetRenderer
	mutLog     *MutationLog
	extensions []Extension
	log        *slog.Logger

	commands    chan DaemonCommand
	graphEvents chan ScopeGraphEvent

	openWindows map[string]ScopeIndex

	done chan struct{}
}

// DispatcherOption configures NewDispatcher.
type DispatcherOption func(*Dispatcher)

// WithRenderer overrides the default NopRenderer.
func WithRenderer(r WidgetRenderer) DispatcherOption {
	return func(d *Dispatcher) { d.renderer = r }
}

// WithMutationLog attaches a mutation log mirror.
func WithMutationLog(l *MutationLog) DispatcherOption {
	return func(d *Dispatcher) { d.mutLog = l }
}

// WithExtensions registers extensions. NewDispatcher orders them by Order(),
// keeping registration order among extensions with equal Order().
func WithExtensions(exts ...Extension) DispatcherOption {
	return func(d *Dispatcher) { d.extensions = append(d.extensions, exts...) }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

// NewDispatcher builds a dispatcher over resolver's initial state. It does
// not start Run; call Run in its own goroutine.
func NewDispatcher(resolver *Resolver, opts ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{
		resolver:    resolver,
		renderer:    NopRenderer{},
		log:         slog.Default(),
		commands:    make(chan DaemonCommand, 64),
		graphEvents: make(chan ScopeGraphEvent, 64),
		openWindows: make(map[string]ScopeIndex),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.scriptVars = NewScriptVarHandler(d.commands, d.log)

	initial, err := resolver.GenerateInitialState()
	if err != nil {
		return nil, fmt.Errorf("wisp: generating initial state: %w", err)
	}
	d.graph = FromGlobalVars(initial, d.graphEvents)
	d.graph.Log = d.log

	sort.SliceStable(d.extensions, func(i, j int) bool { return d.extensions[i].Order() < d.extensions[j].Order() })
	for _, ext := range d.extensions {
		if err := ext.Init(d); err != nil {
			return nil, fmt.Errorf("wisp: initializing extension %q: %w", ext.Name(), err)
		}
	}
	return d, nil
}

// Commands returns the channel external producers (IPC, CLI-in-process,
// poll/listen goroutines) send DaemonCommand values on.
func (d *Dispatcher) Commands() chan<- DaemonCommand { return d.commands }

// GraphEvents returns the channel widget-destroy callbacks send
// ScopeGraphEvent values on.
func (d *Dispatcher) GraphEvents() chan<- ScopeGraphEvent { return d.graphEvents }

// Graph exposes the scope graph for read-only introspection from within the
// dispatcher goroutine only (e.g. from inside a command handler or test
// running single-threaded). Nothing else may hold this pointer across a
// suspension point.
func (d *Dispatcher) Graph() *ScopeGraph { return d.graph }

// SetDebugValidate toggles post-mutation Validate() calls.
func (d *Dispatcher) SetDebugValidate(on bool) { d.graph.DebugValidate = on }

// Run is the command loop: select over commands and graph events until
// KillServer or Close is called. It must run on its own goroutine and must
// be the only thing that ever mutates d.graph.
func (d *Dispatcher) Run() {
	for {
		select {
		case <-d.done:
			return
		case evt := <-d.graphEvents:
			d.graph.HandleScopeGraphEvent(evt)
		case cmd := <-d.commands:
			d.dispatch(cmd)
		}
	}
}

// Close stops Run. It does not itself stop script vars or close windows;
// callers wanting a clean shutdown should send CommandKillServer instead.
func (d *Dispatcher) Close() {
	close(d.done)
}

func (d *Dispatcher) dispatch(cmd DaemonCommand) {
	op := &CommandOp{Kind: cmd.Kind, Command: cmd}
	result, err := d.runExtensionChain(op, func() (any, error) {
		return nil, d.handle(&cmd)
	})
	_ = result
	if err != nil {
		d.log.Error("command failed", "kind", cmd.Kind, "error", err)
		for _, ext := range d.extensions {
			ext.OnError(err, op)
		}
		cmd.reply(false, err.Error())
	}
	if d.mutLog != nil {
		d.mutLog.Record(cmd.Kind, err)
	}
}

// runExtensionChain builds the Wrap middleware chain in d.extensions order
// (Order() ascending, then registration order): the first is outermost.
func (d *Dispatcher) runExtensionChain(op *CommandOp, final func() (any, error)) (any, error) {
	next := final
	for i := len(d.extensions) - 1; i >= 0; i-- {
		ext := d.extensions[i]
		prev := next
		next = func() (any, error) { return ext.Wrap(nil, prev, op) }
	}
	return next()
}

// disposeExtensions calls Dispose on every registered extension, in
// d.extensions order, as part of CommandKillServer's shutdown sequence.
func (d *Dispatcher) disposeExtensions() {
	for _, ext := range d.extensions {
		if err := ext.Dispose(d); err != nil {
			d.log.Warn("disposing extension", "extension", ext.Name(), "error", err)
		}
	}
}

func (d *Dispatcher) notifyMutation(op *CommandOp, kind GraphMutationKind, idx ScopeIndex) {
	for _, ext := range d.extensions {
		ext.OnGraphMutation(op, kind, idx)
	}
}

func (d *Dispatcher) handle(cmd *DaemonCommand) error {
	switch cmd.Kind {
	case CommandNoOp:
		cmd.reply(true, "")
		return nil

	case CommandUpdateVars:
		for name, val := range cmd.UpdateVars {
			if err := d.graph.UpdateValue(d.graph.GlobalIndex(), name, val); err != nil {
				d.log.Warn("update var failed", "var", name, "error", err)
			}
		}
		cmd.reply(true, "")
		return nil

	case CommandUpdateCss:
		// CSS application is the GUI toolkit collaborator's job; the
		// dispatcher only needs to accept and ack it.
		cmd.reply(true, "")
		return nil

	case CommandUpdateConfig:
		if err := d.handleUpdateConfig(cmd); err != nil {
			return err
		}
		cmd.reply(true, "")
		return nil

	case CommandReloadConfigAndCss:
		// Re-parsing configuration/CSS from disk is the configuration
		// parser's job; by the time a ReloadConfigAndCss command reaches
		// the dispatcher, cmd.Config already holds the freshly re-parsed
		// Config. If re-parsing failed, the caller sends Config == nil
		// with the failure text in Css; a nil Config with no failure text
		// (an IPC Reload, which cannot carry a Config) re-applies the
		// current one.
		if cmd.Config == nil {
			if cmd.Css != "" {
				cmd.reply(false, cmd.Css)
				return nil
			}
			cmd.Config = d.resolver.cfg
		}
		if err := d.handleUpdateConfig(cmd); err != nil {
			return err
		}
		cmd.reply(true, "")
		return nil

	case CommandOpenWindow:
		return d.handleOpenWindow(cmd, cmd.Open)

	case CommandOpenMany:
		var failures []string
		for _, name := range cmd.OpenNames {
			if err := d.handleOpenWindow(&DaemonCommand{}, WindowOpenRequest{Name: name, Toggle: cmd.Open.Toggle}); err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			}
		}
		if len(failures) > 0 {
			cmd.reply(false, fmt.Sprintf("%d window(s) failed to open: %v", len(failures), failures))
			return nil
		}
		cmd.reply(true, "")
		return nil

	case CommandCloseWindow:
		if err := d.handleCloseWindow(cmd.CloseName); err != nil {
			return err
		}
		cmd.reply(true, "")
		return nil

	case CommandCloseAll:
		names := make([]string, 0, len(d.openWindows))
		for name := range d.openWindows {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := d.handleCloseWindow(name); err != nil {
				d.log.Warn("closing window during CloseAll", "window", name, "error", err)
			}
		}
		cmd.reply(true, "")
		return nil

	case CommandKillServer:
		d.scriptVars.StopAllListen()
		d.scriptVars.StopAllPoll()
		names := make([]string, 0, len(d.openWindows))
		for name := range d.openWindows {
			names = append(names, name)
		}
		for _, name := range names {
			_ = d.handleCloseWindow(name)
		}
		d.disposeExtensions()
		cmd.reply(true, "")
		d.Close()
		return nil

	case CommandPrintState:
		cmd.reply(true, d.printState(cmd.PrintAll))
		return nil

	case CommandPrintWindows:
		cmd.reply(true, d.printWindows())
		return nil

	case CommandPrintDebug:
		cmd.reply(true, d.printDebug())
		return nil

	case CommandPrintGraph:
		cmd.reply(true, d.graph.Visualize())
		return nil
	}
	return &TransportError{Detail: fmt.Sprintf("unrecognized command kind %q", cmd.Kind)}
}

func (d *Dispatcher) handleUpdateConfig(cmd *DaemonCommand) error {
	if cmd.Config == nil {
		return &ValidationError{Detail: "UpdateConfig requires a non-nil Config"}
	}
	resolver, err := NewResolver(cmd.Config)
	if err != nil {
		return err
	}

	d.scriptVars.StopAllListen()
	d.scriptVars.StopAllPoll()

	preserved := make(map[VarName]Dyn)
	for name := range cmd.Config.VarDefinitions {
		if v, err := d.graph.LookupVariableInScope(d.graph.GlobalIndex(), name); err == nil {
			preserved[name] = v
		}
	}

	initial, err := resolver.GenerateInitialState()
	if err != nil {
		return err
	}
	for name, v := range preserved {
		initial[name] = v
	}

	openNames := make([]string, 0, len(d.openWindows))
	for name := range d.openWindows {
		openNames = append(openNames, name)
	}
	sort.Strings(openNames)
	for _, name := range openNames {
		_ = d.handleCloseWindow(name)
	}

	d.resolver = resolver
	d.graph.Clear(initial)

	for _, name := range openNames {
		if err := d.handleOpenWindow(&DaemonCommand{}, WindowOpenRequest{Name: name}); err != nil {
			d.log.Warn("reopening window after config reload", "window", name, "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) handleOpenWindow(cmd *DaemonCommand, req WindowOpenRequest) error {
	if _, open := d.openWindows[req.Name]; open {
		if req.Toggle {
			if err := d.handleCloseWindow(req.Name); err != nil {
				return err
			}
		}
		cmd.reply(true, "")
		return nil
	}
	win, ok := d.resolver.GetWindow(req.Name)
	if !ok {
		return &ValidationError{Detail: fmt.Sprintf("unknown window %q", req.Name)}
	}

	geom, err := d.evalWindowGeometry(win, req)
	if err != nil {
		return err
	}

	global := d.graph.GlobalIndex()
	rootIdx, err := d.graph.RegisterNewScope("window:"+req.Name, &global, global, nil)
	if err != nil {
		return err
	}
	d.notifyMutation(&CommandOp{Kind: cmd.Kind, Command: *cmd}, MutationScopeCreated, rootIdx)

	if err := d.instantiateWidgetTree(rootIdx, win.Body); err != nil {
		_ = d.graph.RemoveScope(rootIdx)
		return err
	}

	d.openWindows[req.Name] = rootIdx
	d.renderer.OpenWindow(rootIdx, win, geom)
	d.reconcileScriptVars()
	cmd.reply(true, "")
	return nil
}

// evalWindowGeometry reduces a window's declared geometry expressions, with
// the open request's overrides taking precedence, to concrete values
// against the global scope. Evaluation failure fails the whole OpenWindow
// before any scope is created.
func (d *Dispatcher) evalWindowGeometry(win *WindowDefinition, req WindowOpenRequest) (WindowGeometryValues, error) {
	g := WindowGeometryValues{Anchor: win.Geometry.Anchor}
	if req.Anchor != "" {
		g.Anchor = req.Anchor
	}
	if req.Screen != nil {
		g.Screen = *req.Screen
	}

	slots := []struct {
		dst  *float64
		expr Expr
	}{
		{&g.X, win.Geometry.X},
		{&g.Y, win.Geometry.Y},
		{&g.Width, win.Geometry.Width},
		{&g.Height, win.Geometry.Height},
	}
	if req.Pos != nil {
		slots[0].expr, slots[1].expr = req.Pos.X, req.Pos.Y
	}
	if req.Size != nil {
		slots[2].expr, slots[3].expr = req.Size.X, req.Size.Y
	}
	for _, s := range slots {
		if s.expr == nil {
			continue
		}
		env, err := d.graph.buildEnv(d.graph.GlobalIndex(), exprVarNames(s.expr))
		if err != nil {
			return WindowGeometryValues{}, err
		}
		v, err := Eval(s.expr, env)
		if err != nil {
			return WindowGeometryValues{}, err
		}
		f, err := v.AsFloat64()
		if err != nil {
			return WindowGeometryValues{}, err
		}
		*s.dst = f
	}
	return g, nil
}

func (d *Dispatcher) handleCloseWindow(name string) error {
	idx, open := d.openWindows[name]
	if !open {
		return nil
	}
	if err := d.graph.RemoveScope(idx); err != nil {
		return err
	}
	d.renderer.Remove(idx)
	delete(d.openWindows, name)
	d.reconcileScriptVars()
	return nil
}

// instantiateWidgetTree recursively turns a WidgetNode tree into scopes:
// each node becomes a scope whose superscope and hierarchy-ancestor are
// both callingScope, since at ordinary widget nesting a child widget both
// inherits its parent's variables and receives provided attributes from it.
// A node naming a user-defined WidgetDefinition additionally recurses into
// that definition's Body using the new scope as the nested tree's
// calling/superscope, so the definition's body expressions see the
// invocation's evaluated parameters.
func (d *Dispatcher) instantiateWidgetTree(callingScope ScopeIndex, node *WidgetNode) error {
	if node == nil {
		return nil
	}
	idx, err := d.graph.RegisterNewScope(node.WidgetType, &callingScope, callingScope, node.Attrs)
	if err != nil {
		return err
	}
	d.notifyMutation(&CommandOp{Kind: CommandOpenWindow}, MutationScopeCreated, idx)

	if def, ok := d.resolver.GetWidgetDefinitions()[node.WidgetType]; ok {
		if err := d.instantiateWidgetTree(idx, def.Body); err != nil {
			return err
		}
	} else {
		needed := collectAttrVarRefs(node.Attrs)
		if len(needed) > 0 {
			listener := NewListener(needed, func(values Env) {
				d.renderer.Render(idx, node, values)
			})
			if err := d.graph.RegisterListener(idx, listener); err != nil {
				return err
			}
		} else {
			d.renderer.Render(idx, node, Env{})
		}
	}

	for _, child := range node.Children {
		if err := d.instantiateWidgetTree(idx, child); err != nil {
			return err
		}
	}
	return nil
}

func collectAttrVarRefs(attrs []ProvidedAttr) []VarName {
	seen := map[VarName]bool{}
	var out []VarName
	for _, a := range attrs {
		for _, ref := range VarRefs(a.Expr) {
			if !seen[ref.Name] {
				seen[ref.Name] = true
				out = append(out, ref.Name)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// reconcileScriptVars diffs the variables currently referenced by any
// listener against the set of running poll/listen vars and starts/stops
// the difference: a variable is in use iff it appears in a listener's
// needed set anywhere in the graph, computed from
// VariablesUsedInSelfOrSubscopesOf(global).
func (d *Dispatcher) reconcileScriptVars() {
	used := make(map[VarName]bool)
	for _, v := range d.graph.VariablesUsedInSelfOrSubscopesOf(d.graph.GlobalIndex()) {
		used[v] = true
	}
	for _, sv := range d.resolver.AllScriptVars() {
		inUse := used[sv.Name]
		switch sv.Kind {
		case ScriptVarPoll:
			running := d.scriptVars.IsPollRunning(sv.Name)
			if inUse && !running {
				d.scriptVars.StartPoll(toPollScriptVar(sv))
			} else if !inUse && running {
				d.scriptVars.StopPoll(sv.Name)
			}
		case ScriptVarListen:
			running := d.scriptVars.IsListenRunning(sv.Name)
			if inUse && !running {
				d.scriptVars.StartListen(toListenScriptVar(sv))
			} else if !inUse && running {
				d.scriptVars.StopListen(sv.Name)
			}
		}
	}
}

func (d *Dispatcher) printState(all bool) string {
	var names []VarName
	if all {
		names = append(d.graph.CurrentlyUsedGlobals(), d.graph.CurrentlyUnusedGlobals()...)
	} else {
		names = d.graph.CurrentlyUsedGlobals()
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	out := ""
	for _, n := range names {
		v, err := d.graph.LookupVariableInScope(d.graph.GlobalIndex(), n)
		if err != nil {
			continue
		}
		out += fmt.Sprintf("%s: %s\n", n, v.String())
	}
	return out
}

func (d *Dispatcher) printWindows() string {
	names := make([]string, 0, len(d.openWindows))
	for name := range d.openWindows {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for _, n := range names {
		out += n + "\n"
	}
	return out
}

func (d *Dispatcher) printDebug() string {
	out := fmt.Sprintf("open windows: %d\n", len(d.openWindows))
	out += fmt.Sprintf("scopes: %d\n", len(d.graph.scopes))
	if d.mutLog != nil {
		out += d.mutLog.Render()
	}
	return out
}
