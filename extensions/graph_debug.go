package extensions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/m1gwings/treedrawer/tree"
	wisp "github.com/wisp-widgets/wisp"
)

// GraphDebugExtension logs the scope graph's inheritance and hierarchy
// trees when a dispatcher command fails, rendering each relation as an
// ASCII tree.
//
// Usage:
//
//	// Human-readable formatted output (with line breaks)
//	handler := extensions.NewHumanHandler(os.Stdout, slog.LevelError)
//	ext := extensions.NewGraphDebugExtension(handler)
//
//	// Structured JSON logging (compact, machine-readable)
//	handler := slog.NewJSONHandler(os.Stdout, nil)
//	ext := extensions.NewGraphDebugExtension(handler)
//
//	// Silent (for testing)
//	ext := extensions.NewGraphDebugExtension(extensions.NewSilentHandler())
type GraphDebugExtension struct {
	wisp.BaseExtension

	dispatcher *wisp.Dispatcher
	logger     *slog.Logger
}

// NewGraphDebugExtension creates a new graph debug extension.
// logHandler: slog.Handler for logging (use HumanHandler for formatted output, or any other slog.Handler)
func NewGraphDebugExtension(logHandler slog.Handler) *GraphDebugExtension {
	return &GraphDebugExtension{
		BaseExtension: wisp.NewBaseExtension("graph-debug"),
		logger:        slog.New(logHandler),
	}
}

// Init stashes the dispatcher so OnError can read its scope graph; the
// extension has no other way to reach it, since ScopeGraph carries no
// back-reference to the dispatcher that owns it.
func (e *GraphDebugExtension) Init(d *wisp.Dispatcher) error {
	e.dispatcher = d
	return nil
}

func (e *GraphDebugExtension) Wrap(ctx context.Context, next func() (any, error), op *wisp.CommandOp) (any, error) {
	return next()
}

// OnError logs the scope graph's trees when a command fails.
func (e *GraphDebugExtension) OnError(err error, op *wisp.CommandOp) {
	graphOutput := e.formatScopeGraph()

	e.logger.Error("Scope Graph Error",
		"command", string(op.Kind),
		"error", err.Error(),
		"scope_graph", graphOutput,
	)
}

// formatScopeGraph renders both edge relations rooted at the global scope,
// trying a horizontal treedrawer tree first and always including the
// detailed per-scope listing.
func (e *GraphDebugExtension) formatScopeGraph() string {
	var sb strings.Builder

	if e.dispatcher == nil {
		sb.WriteString("\n(no scope graph attached)")
		return sb.String()
	}
	graph := e.dispatcher.Graph()
	root := graph.GlobalIndex()

	sb.WriteString("\nInheritance tree:\n")
	if horiz := e.tryFormatTree(graph, root, graph.InheritanceChildren); horiz != "" {
		sb.WriteString(horiz)
		sb.WriteString("\n")
	}

	sb.WriteString("\nHierarchy tree:\n")
	if horiz := e.tryFormatTree(graph, root, graph.HierarchyChildren); horiz != "" {
		sb.WriteString(horiz)
		sb.WriteString("\n")
	}

	sb.WriteString("\nDetailed View:\n")
	e.formatDetailed(&sb, graph, root, graph.HierarchyChildren, 0)

	return sb.String()
}

// tryFormatTree renders graph's tree rooted at root using childrenOf to
// walk down, via treedrawer, parameterized over which of the two
// scope-graph relations to walk.
func (e *GraphDebugExtension) tryFormatTree(g *wisp.ScopeGraph, root wisp.ScopeIndex, childrenOf func(wisp.ScopeIndex) []wisp.ScopeIndex) string {
	t := e.buildTree(g, root, childrenOf, make(map[wisp.ScopeIndex]bool))
	if t == nil {
		return ""
	}
	return t.String()
}

func (e *GraphDebugExtension) buildTree(g *wisp.ScopeGraph, idx wisp.ScopeIndex, childrenOf func(wisp.ScopeIndex) []wisp.ScopeIndex, visited map[wisp.ScopeIndex]bool) *tree.Tree {
	if visited[idx] {
		return nil
	}
	visited[idx] = true

	scope := g.ScopeAt(idx)
	label := e.scopeLabel(idx, scope)
	node := tree.NewTree(tree.NodeString(label))

	children := append([]wisp.ScopeIndex(nil), childrenOf(idx)...)
	sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
	for _, child := range children {
		childTree := e.buildTree(g, child, childrenOf, visited)
		if childTree != nil {
			e.addTreeAsChild(node, childTree)
		}
	}
	return node
}

// addTreeAsChild adds a tree as a child to another tree node.
func (e *GraphDebugExtension) addTreeAsChild(parent *tree.Tree, child *tree.Tree) {
	newChild := parent.AddChild(child.Val())
	for _, grandchild := range child.Children() {
		e.addTreeAsChild(newChild, grandchild)
	}
}

func (e *GraphDebugExtension) formatDetailed(sb *strings.Builder, g *wisp.ScopeGraph, idx wisp.ScopeIndex, childrenOf func(wisp.ScopeIndex) []wisp.ScopeIndex, depth int) {
	scope := g.ScopeAt(idx)
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(sb, "%s%s\n", indent, e.scopeLabel(idx, scope))

	children := append([]wisp.ScopeIndex(nil), childrenOf(idx)...)
	sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
	for _, child := range children {
		e.formatDetailed(sb, g, child, childrenOf, depth+1)
	}
}

func (e *GraphDebugExtension) scopeLabel(idx wisp.ScopeIndex, scope *wisp.Scope) string {
	if scope == nil {
		return fmt.Sprintf("#%d (removed)", idx)
	}
	return fmt.Sprintf("%s (#%d)", scope.Name, idx)
}

// SilentHandler is a slog.Handler that discards all log output.
// Useful for testing when you don't want log output.
type SilentHandler struct{}

// NewSilentHandler creates a new silent log handler.
func NewSilentHandler() *SilentHandler {
	return &SilentHandler{}
}

func (h *SilentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return false
}

func (h *SilentHandler) Handle(ctx context.Context, record slog.Record) error {
	return nil
}

func (h *SilentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *SilentHandler) WithGroup(name string) slog.Handler {
	return h
}

// HumanHandler is a slog.Handler that formats logs for human readability
// with proper line breaks and visual formatting (especially for the scope
// graph trees).
type HumanHandler struct {
	writer io.Writer
	level  slog.Level
}

// NewHumanHandler creates a new human-readable log handler.
func NewHumanHandler(writer io.Writer, level slog.Level) *HumanHandler {
	return &HumanHandler{
		writer: writer,
		level:  level,
	}
}

func (h *HumanHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *HumanHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Message == "Scope Graph Error" {
		return h.handleScopeGraphError(record)
	}

	if _, err := fmt.Fprintf(h.writer, "[%s] %s\n", record.Level, record.Message); err != nil {
		return err
	}
	var writeErr error
	record.Attrs(func(a slog.Attr) bool {
		if _, err := fmt.Fprintf(h.writer, "  %s: %v\n", a.Key, a.Value); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	return writeErr
}

func (h *HumanHandler) handleScopeGraphError(record slog.Record) error {
	var command, errorMsg, scopeGraph string

	record.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "command":
			command = a.Value.String()
		case "error":
			errorMsg = a.Value.String()
		case "scope_graph":
			scopeGraph = a.Value.String()
		}
		return true
	})

	writes := []func() error{
		func() error { _, err := fmt.Fprintln(h.writer); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintln(h.writer, "[GraphDebug] Scope Graph Error"); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "\nFailed Command: %s\n", command); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "Error: %s\n", errorMsg); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "\nScope Graph:%s", scopeGraph); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintln(h.writer); return err },
	}

	for _, write := range writes {
		if err := write(); err != nil {
			return err
		}
	}

	return nil
}

func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *HumanHandler) WithGroup(name string) slog.Handler {
	return h
}
