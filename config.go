package wisp

import (
	"fmt"
	"sort"
	"time"

	"github.com/wisp-widgets/wisp/internal/schema"
)

// WidgetNode is one node of a widget's body tree: a widget type (either a
// built-in GTK-equivalent widget name or the name of a user-defined
// WidgetDefinition) plus the attributes passed to it and its children.
// Attrs become ProvidedAttr edges when the node is instantiated as a scope
// (scopegraph.go's RegisterNewScope) — WidgetNode is the static shape,
// ProvidedAttr is the runtime edge payload the same data feeds into.
type WidgetNode struct {
	WidgetType string
	Attrs      []ProvidedAttr
	Children   []*WidgetNode
}

// WidgetDefinition is a user-defined widget: a parameter list (the
// variables it expects its instantiator to provide) and a body tree.
type WidgetDefinition struct {
	Name   string
	Params []AttrName
	Body   *WidgetNode
}

// WindowGeometry holds the position/size expressions for a window, each
// re-evaluated at OpenWindow time against any caller-supplied overrides.
type WindowGeometry struct {
	X, Y          Expr
	Width, Height Expr
	Anchor        string
}

// WindowDefinition is a top-level window: geometry, stacking strategy,
// arbitrary backend options (forwarded verbatim to the GUI toolkit
// collaborator), and a body tree.
type WindowDefinition struct {
	Name           string
	Geometry       WindowGeometry
	Stacking       string
	BackendOptions map[string]string
	Body           *WidgetNode
}

// ScriptVarKind distinguishes a poll-style from a listen-style script
// variable definition.
type ScriptVarKind int

const (
	ScriptVarPoll ScriptVarKind = iota
	ScriptVarListen
)

// ScriptVarDef is the static, parsed definition of a script variable — the
// resolver's representation, distinct from scriptvar.go's PollScriptVar/
// ListenScriptVar, which are the runtime structs the ScriptVarHandler
// actually schedules. The dispatcher converts between the two at the
// resolver boundary (toPollScriptVar/toListenScriptVar in builtins.go) so
// that scriptvar.go stays ignorant of where a definition came from.
type ScriptVarDef struct {
	Name     VarName
	Kind     ScriptVarKind
	NameSpan Span

	// Poll-only fields.
	Interval time.Duration
	Initial  *Dyn
	Func     func() (Dyn, error)
	RunWhile Expr

	// Shared: shell command (poll's value source, or listen's subprocess).
	Command string
}

// Config is the resolver's input: the already-parsed semantic content of a
// configuration file. No component downstream of the resolver parses
// source text.
type Config struct {
	WidgetDefinitions    map[string]*WidgetDefinition
	WindowDefinitions    map[string]*WindowDefinition
	VarDefinitions       map[VarName]Dyn
	ScriptVarDefinitions map[VarName]*ScriptVarDef
}

// builtinWidgetTypes is the fixed set of widget types the GUI toolkit
// collaborator is assumed to understand natively, so Validate does not flag
// them as references to an undeclared WidgetDefinition.
var builtinWidgetTypes = map[string]bool{
	"box": true, "label": true, "button": true, "image": true,
	"slider": true, "progress": true, "literal": true, "overlay": true,
	"eventbox": true, "scroll": true, "stack": true, "combo-box-text": true,
	"checkbox": true, "graph": true, "transform": true, "circular-progress": true,
	"systray": true,
}

// stackingModes and anchorPoints ground WindowDefinition validation in the
// schema package rather than an ad hoc switch statement.
var stackingModes = schema.OneOf("foreground", "background", "always_on_top", "always_on_bottom")
var anchorPoints = schema.OneOf(
	"top left", "top center", "top right",
	"center left", "center center", "center right",
	"bottom left", "bottom center", "bottom right",
)

// Validate runs the resolver's structural checks: every widget type used
// anywhere resolves to a builtin or a declared WidgetDefinition, every
// widget's parameter list is duplicate-free, every window's stacking mode
// and anchor are in the accepted vocabulary, and no declared variable name
// shadows a built-in system-stat variable.
func Validate(cfg *Config) error {
	for name, wd := range cfg.WidgetDefinitions {
		params := make([]string, len(wd.Params))
		for i, p := range wd.Params {
			params[i] = string(p)
		}
		if _, err := schema.UniqueStrings().Validate(params); err != nil {
			return &ValidationError{Detail: fmt.Sprintf("widget %q: %v", name, err)}
		}
		if err := validateWidgetTree(cfg, wd.Body); err != nil {
			return &ValidationError{Detail: fmt.Sprintf("widget %q: %v", name, err)}
		}
	}
	for name, win := range cfg.WindowDefinitions {
		if win.Stacking != "" {
			if _, err := stackingModes.Validate(win.Stacking); err != nil {
				return &ValidationError{Detail: fmt.Sprintf("window %q stacking: %v", name, err)}
			}
		}
		if win.Geometry.Anchor != "" {
			if _, err := anchorPoints.Validate(win.Geometry.Anchor); err != nil {
				return &ValidationError{Detail: fmt.Sprintf("window %q anchor: %v", name, err)}
			}
		}
		if err := validateWidgetTree(cfg, win.Body); err != nil {
			return &ValidationError{Detail: fmt.Sprintf("window %q: %v", name, err)}
		}
	}
	for name := range cfg.VarDefinitions {
		if isBuiltinVarName(name) {
			return &ValidationError{Detail: fmt.Sprintf("variable %q shadows a built-in", name)}
		}
	}
	for name := range cfg.ScriptVarDefinitions {
		if isBuiltinVarName(name) {
			return &ValidationError{Detail: fmt.Sprintf("script variable %q shadows a built-in", name)}
		}
	}
	return nil
}

func validateWidgetTree(cfg *Config, n *WidgetNode) error {
	if n == nil {
		return nil
	}
	if !builtinWidgetTypes[n.WidgetType] {
		if _, ok := cfg.WidgetDefinitions[n.WidgetType]; !ok {
			return fmt.Errorf("unknown widget type %q", n.WidgetType)
		}
	}
	for _, c := range n.Children {
		if err := validateWidgetTree(cfg, c); err != nil {
			return err
		}
	}
	return nil
}

// Resolver is the boundary between the parsed Config AST and runtime
// scope-graph state: it merges declared definitions with built-in
// system-stat variables and exposes the lookups the dispatcher needs.
type Resolver struct {
	cfg *Config

	widgets    *definitionCache[*WidgetDefinition]
	windows    *definitionCache[*WindowDefinition]
	scriptVars *definitionCache[*ScriptVarDef]

	// varToScriptVars maps a variable name to every script var whose
	// RunWhile expression mentions it. Indexed but not yet acted on: the
	// dispatcher does not start/stop poll vars from RunWhile truth changes.
	varToScriptVars map[VarName][]VarName
}

// NewResolver validates cfg and builds a Resolver over it, merging in the
// built-in system-stat script variables (builtins.go).
func NewResolver(cfg *Config) (*Resolver, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	r := &Resolver{
		cfg:        cfg,
		widgets:    newDefinitionCache[*WidgetDefinition](),
		windows:    newDefinitionCache[*WindowDefinition](),
		scriptVars: newDefinitionCache[*ScriptVarDef](),
	}
	for name, wd := range cfg.WidgetDefinitions {
		r.widgets.Store(name, wd)
	}
	for name, win := range cfg.WindowDefinitions {
		r.windows.Store(name, win)
	}
	for name, sv := range cfg.ScriptVarDefinitions {
		r.scriptVars.Store(string(name), sv)
	}
	for _, b := range builtinScriptVars() {
		r.scriptVars.Store(string(b.Name), b)
	}
	r.varToScriptVars = buildRunWhileIndex(r.scriptVars)
	return r, nil
}

// GetWindow looks up a declared window definition by name.
func (r *Resolver) GetWindow(name string) (*WindowDefinition, bool) {
	return r.windows.Load(name)
}

// GetScriptVar looks up a script variable definition (declared or builtin)
// by name.
func (r *Resolver) GetScriptVar(name VarName) (*ScriptVarDef, bool) {
	return r.scriptVars.Load(string(name))
}

// GetWidgetDefinitions returns every declared widget definition, for the
// dispatcher to resolve custom widget-type references during instantiation.
func (r *Resolver) GetWidgetDefinitions() map[string]*WidgetDefinition {
	out := make(map[string]*WidgetDefinition, r.widgets.Size())
	r.widgets.Range(func(name string, wd *WidgetDefinition) bool {
		out[name] = wd
		return true
	})
	return out
}

// ScriptVarsTriggeredBy returns every script var (by name) whose RunWhile
// expression references v.
func (r *Resolver) ScriptVarsTriggeredBy(v VarName) []VarName {
	return r.varToScriptVars[v]
}

// AllScriptVars returns every script variable definition known to the
// resolver, declared plus builtin, sorted by name for deterministic
// iteration (startup ordering, test fixtures).
func (r *Resolver) AllScriptVars() []*ScriptVarDef {
	out := make([]*ScriptVarDef, 0, r.scriptVars.Size())
	r.scriptVars.Range(func(_ string, sv *ScriptVarDef) bool {
		out = append(out, sv)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GenerateInitialState builds the map every variable name seeds the global
// scope with at startup: regular variables contribute their declared
// literal; poll variables contribute their declared initial value or, if
// absent, the result of running their source once synchronously. Listen
// variables contribute no seed value; they have none until their
// subprocess produces a first line.
func (r *Resolver) GenerateInitialState() (map[VarName]Dyn, error) {
	out := make(map[VarName]Dyn, len(r.cfg.VarDefinitions))
	for name, v := range r.cfg.VarDefinitions {
		out[name] = v
	}
	for _, sv := range r.AllScriptVars() {
		if sv.Kind != ScriptVarPoll {
			continue
		}
		if sv.Initial != nil {
			out[sv.Name] = *sv.Initial
			continue
		}
		val, err := runPollOnce(toPollScriptVar(sv))
		if err != nil {
			return nil, fmt.Errorf("wisp: seeding poll variable %q: %w", sv.Name, err)
		}
		out[sv.Name] = val
	}
	return out, nil
}

func buildRunWhileIndex(scriptVars *definitionCache[*ScriptVarDef]) map[VarName][]VarName {
	idx := make(map[VarName][]VarName)
	scriptVars.Range(func(_ string, sv *ScriptVarDef) bool {
		if sv.Kind != ScriptVarPoll || sv.RunWhile == nil {
			return true
		}
		for _, ref := range VarRefs(sv.RunWhile) {
			idx[ref.Name] = append(idx[ref.Name], sv.Name)
		}
		return true
	})
	for v := range idx {
		sort.Slice(idx[v], func(i, j int) bool { return idx[v][i] < idx[v][j] })
	}
	return idx
}
