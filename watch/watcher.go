// Package watch debounces filesystem change notifications on a config
// directory into ReloadConfigAndCss commands. Re-parsing the changed files
// into a Config is the configuration parser's job; this package only
// decides *when* to reload and hands the result to the dispatcher.
package watch

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	wisp "github.com/wisp-widgets/wisp"
)

// ReloadFunc re-parses whatever changed on disk into a fresh Config and the
// raw CSS text, or returns an error describing why reloading failed.
type ReloadFunc func() (*wisp.Config, string, error)

// Watcher watches a config directory for writes to its main config and
// stylesheet files and debounces bursts of events (editors commonly emit
// several writes per save, e.g. a temp-file-then-rename sequence) into a
// single ReloadConfigAndCss command per quiet period.
type Watcher struct {
	fsw      *fsnotify.Watcher
	commands chan<- wisp.DaemonCommand
	reload   ReloadFunc
	debounce time.Duration
	log      *slog.Logger

	done chan struct{}
}

// New creates a Watcher over dir, calling reload once per debounced burst of
// changes and sending the resulting ReloadConfigAndCss command on commands.
// debounce of zero defaults to 300ms, long enough to coalesce an editor's
// write-then-rename save sequence into one reload.
func New(dir string, commands chan<- wisp.DaemonCommand, reload ReloadFunc, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		fsw:      fsw,
		commands: commands,
		reload:   reload,
		debounce: debounce,
		log:      log,
		done:     make(chan struct{}),
	}, nil
}

// Run processes filesystem events until Close is called. It must run on its
// own goroutine.
func (w *Watcher) Run() {
	var timer *time.Timer
	var timerC <-chan time.Time

	reset := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		}
		timerC = timer.C
	}

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevantEvent(event) {
				continue
			}
			w.log.Debug("config change detected", "path", event.Name, "op", event.Op.String())
			reset()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)

		case <-timerC:
			timerC = nil
			w.triggerReload()
		}
	}
}

// relevantEvent reports whether event should restart the debounce timer: any
// write, create, or rename of a `.yuck` or `.scss` file, ignoring chmod-only
// noise some editors and tools emit.
func relevantEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	switch filepath.Ext(event.Name) {
	case ".yuck", ".scss":
		return true
	default:
		return false
	}
}

func (w *Watcher) triggerReload() {
	cfg, css, err := w.reload()
	reply := make(chan wisp.DaemonResponse, 1)
	if err != nil {
		w.log.Warn("config reload failed", "error", err)
		w.commands <- wisp.DaemonCommand{Kind: wisp.CommandReloadConfigAndCss, Config: nil, Css: err.Error(), Reply: reply}
		<-reply
		return
	}
	w.commands <- wisp.DaemonCommand{Kind: wisp.CommandReloadConfigAndCss, Config: cfg, Css: css, Reply: reply}
	resp := <-reply
	if !resp.Success {
		w.log.Warn("config reload rejected by dispatcher", "error", resp.Text)
	}
}

// Close stops Run and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
