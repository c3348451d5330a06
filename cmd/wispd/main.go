// Command wispd wires the dispatcher, IPC server, and file-watch adapter
// into a running daemon. Argument parsing is deliberately thin (stdlib
// flag, no subcommands); the full CLI front-end lives elsewhere.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wisp-widgets/wisp"
	"github.com/wisp-widgets/wisp/extensions"
	"github.com/wisp-widgets/wisp/ipc"
	"github.com/wisp-widgets/wisp/watch"
)

func main() {
	app := flag.String("app", "wisp", "application name, used to namespace the IPC socket and log file")
	configDir := flag.String("config-dir", ".", "directory containing the .yuck config and .scss stylesheet")
	debug := flag.Bool("debug", false, "enable debug logging and post-mutation graph validation")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if err := run(*app, *configDir, *debug, log); err != nil {
		log.Error("wispd exiting", "error", err)
		os.Exit(1)
	}
}

// loadConfig is the seam where the configuration parser plugs in: today it
// always returns an empty Config, since parsing .yuck/.scss source text is
// the parser's job, not the reactive core's.
func loadConfig(configDir string) (*wisp.Config, string, error) {
	return &wisp.Config{}, "", nil
}

func run(app, configDir string, debug bool, log *slog.Logger) error {
	cfg, _, err := loadConfig(configDir)
	if err != nil {
		return fmt.Errorf("wispd: loading initial configuration: %w", err)
	}

	resolver, err := wisp.NewResolver(cfg)
	if err != nil {
		return fmt.Errorf("wispd: resolving initial configuration: %w", err)
	}

	mutLog := wisp.NewMutationLog(256)

	d, err := wisp.NewDispatcher(
		resolver,
		wisp.WithLogger(log),
		wisp.WithMutationLog(mutLog),
		wisp.WithExtensions(
			extensions.NewLoggingExtension(log),
			extensions.NewGraphDebugExtension(extensions.NewHumanHandler(os.Stderr, slog.LevelError)),
		),
	)
	if err != nil {
		return fmt.Errorf("wispd: initializing dispatcher: %w", err)
	}
	d.SetDebugValidate(debug)

	sockPath, err := ipc.SocketPath(app, configDir)
	if err != nil {
		return fmt.Errorf("wispd: computing socket path: %w", err)
	}
	server, err := ipc.Listen(sockPath, d.Commands(), log)
	if err != nil {
		return fmt.Errorf("wispd: starting IPC server: %w", err)
	}
	log.Info("listening for IPC connections", "socket", sockPath)

	watcher, err := watch.New(configDir, d.Commands(), func() (*wisp.Config, string, error) {
		return loadConfig(configDir)
	}, 0, log)
	if err != nil {
		server.Close()
		return fmt.Errorf("wispd: starting file watcher: %w", err)
	}

	go d.Run()
	go watcher.Run()
	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- server.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig)
	case err := <-serveErrCh:
		if err != nil {
			log.Error("IPC server stopped unexpectedly", "error", err)
		}
	}

	watcher.Close()
	server.Close()

	reply := make(chan wisp.DaemonResponse, 1)
	d.Commands() <- wisp.DaemonCommand{Kind: wisp.CommandKillServer, Reply: reply}
	<-reply
	return nil
}
