package extensions

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	wisp "github.com/wisp-widgets/wisp"
)

func newTestDispatcher(t *testing.T, opts ...wisp.DispatcherOption) *wisp.Dispatcher {
	t.Helper()
	cfg := &wisp.Config{
		VarDefinitions: map[wisp.VarName]wisp.Dyn{
			"greeting": wisp.FromString("hi"),
		},
	}
	resolver, err := wisp.NewResolver(cfg)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	d, err := wisp.NewDispatcher(resolver, opts...)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func TestGraphDebugExtension_OnError(t *testing.T) {
	var buf bytes.Buffer
	multiWriter := io.MultiWriter(&buf, os.Stdout)
	handler := NewHumanHandler(multiWriter, slog.LevelError)
	ext := NewGraphDebugExtension(handler)

	d := newTestDispatcher(t, wisp.WithExtensions(ext))
	go d.Run()
	defer func() {
		reply := make(chan wisp.DaemonResponse, 1)
		d.Commands() <- wisp.DaemonCommand{Kind: wisp.CommandKillServer, Reply: reply}
		<-reply
	}()

	reply := make(chan wisp.DaemonResponse, 1)
	d.Commands() <- wisp.DaemonCommand{Kind: wisp.CommandOpenWindow, Open: wisp.WindowOpenRequest{Name: "does-not-exist"}, Reply: reply}
	resp := <-reply
	if resp.Success {
		t.Fatal("expected opening an undeclared window to fail")
	}

	output := buf.String()
	if !strings.Contains(output, "======================================================================") {
		t.Error("expected separator line with equals signs")
	}
	if !strings.Contains(output, "[GraphDebug] Scope Graph Error") {
		t.Error("expected '[GraphDebug] Scope Graph Error' header")
	}
	if !strings.Contains(output, "Failed Command: open_window") {
		t.Error("expected 'Failed Command: open_window'")
	}
	if !strings.Contains(output, "Scope Graph:") {
		t.Error("expected 'Scope Graph:' section")
	}
	if !strings.Contains(output, "global") {
		t.Error("expected the global scope to appear in the rendered graph")
	}
}

func TestSilentHandler(t *testing.T) {
	handler := NewSilentHandler()

	if handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected SilentHandler to be disabled for Debug level")
	}
	if handler.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected SilentHandler to be disabled for Error level")
	}

	record := slog.Record{}
	if err := handler.Handle(context.Background(), record); err != nil {
		t.Errorf("expected Handle to return nil, got %v", err)
	}

	if withAttrs := handler.WithAttrs([]slog.Attr{}); withAttrs != handler {
		t.Error("expected WithAttrs to return self")
	}
	if withGroup := handler.WithGroup("test"); withGroup != handler {
		t.Error("expected WithGroup to return self")
	}

	ext := NewGraphDebugExtension(handler)
	d := newTestDispatcher(t, wisp.WithExtensions(ext))
	go d.Run()
	defer func() {
		reply := make(chan wisp.DaemonResponse, 1)
		d.Commands() <- wisp.DaemonCommand{Kind: wisp.CommandKillServer, Reply: reply}
		<-reply
	}()

	reply := make(chan wisp.DaemonResponse, 1)
	d.Commands() <- wisp.DaemonCommand{Kind: wisp.CommandCloseWindow, CloseName: "never-opened", Reply: reply}
	<-reply
}
