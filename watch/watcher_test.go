package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	wisp "github.com/wisp-widgets/wisp"
)

func TestWatcher_DebouncesBurstIntoOneReload(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "wisp.yuck")
	if err := os.WriteFile(cfgPath, []byte("(defwindow bar)"), 0o644); err != nil {
		t.Fatalf("seeding config file: %v", err)
	}

	commands := make(chan wisp.DaemonCommand, 16)
	reloadCount := 0
	reload := func() (*wisp.Config, string, error) {
		reloadCount++
		return &wisp.Config{}, "", nil
	}

	w, err := New(dir, commands, reload, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()
	go w.Run()

	// A burst of three writes within the debounce window should coalesce
	// into a single reload.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(cfgPath, []byte("(defwindow bar)"), 0o644); err != nil {
			t.Fatalf("rewriting config file: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case cmd := <-commands:
		if cmd.Kind != wisp.CommandReloadConfigAndCss {
			t.Fatalf("expected ReloadConfigAndCss, got %v", cmd.Kind)
		}
		cmd.Reply <- wisp.DaemonResponse{Success: true}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload command")
	}

	select {
	case cmd := <-commands:
		t.Fatalf("expected exactly one reload command, got a second: %v", cmd.Kind)
	case <-time.After(150 * time.Millisecond):
	}

	if reloadCount != 1 {
		t.Errorf("expected reload to be called exactly once, got %d", reloadCount)
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	otherPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(otherPath, []byte("hi"), 0o644); err != nil {
		t.Fatalf("seeding unrelated file: %v", err)
	}

	commands := make(chan wisp.DaemonCommand, 16)
	reload := func() (*wisp.Config, string, error) {
		return &wisp.Config{}, "", nil
	}

	w, err := New(dir, commands, reload, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()
	go w.Run()

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(otherPath, []byte("hi again"), 0o644); err != nil {
			t.Fatalf("rewriting unrelated file: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case cmd := <-commands:
		t.Fatalf("expected no reload for a non-config file, got %v", cmd.Kind)
	case <-time.After(200 * time.Millisecond):
	}
}
