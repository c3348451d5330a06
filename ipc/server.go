package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	wisp "github.com/wisp-widgets/wisp"
)

// Server accepts connections on a Unix-domain socket, decodes one Action per
// connection, forwards it to a dispatcher as a DaemonCommand, and writes
// back exactly one framed Response before closing the stream. It carries no
// state of its own beyond the listener and a handle on the dispatcher's
// command channel; the single-threaded command loop it forwards to is what
// actually owns the scope graph.
type Server struct {
	listener *net.UnixListener
	commands chan<- wisp.DaemonCommand
	log      *slog.Logger

	wg sync.WaitGroup
}

// Listen creates the socket at path, removing any stale socket file left
// behind by a previous instance that exited uncleanly (Unix sockets are
// filesystem entries; bind fails if the path already exists).
func Listen(path string, commands chan<- wisp.DaemonCommand, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ipc: removing stale socket %q: %w", path, err)
	}
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: resolving socket address %q: %w", path, err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("ipc: listening on %q: %w", path, err)
	}
	return &Server{listener: ln, commands: commands, log: log}, nil
}

// Addr returns the socket's filesystem path.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve runs the accept loop until the listener is closed, spawning one
// goroutine per connection. It returns nil on a clean shutdown (Close
// called) and the accept error otherwise.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("ipc: accept: %w", err)
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close stops the accept loop and removes the socket file.
func (s *Server) Close() error {
	path := s.listener.Addr().String()
	err := s.listener.Close()
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		s.log.Warn("removing socket file on close", "path", path, "error", rmErr)
	}
	return err
}

func (s *Server) handleConn(conn *net.UnixConn) {
	defer s.wg.Done()
	defer conn.Close()

	requestID := uuid.NewString()
	log := s.log.With("request_id", requestID)

	payload, err := readFrame(conn)
	if err != nil {
		log.Warn("reading action frame", "error", err)
		return
	}
	var action Action
	if err := json.Unmarshal(payload, &action); err != nil {
		s.writeResponse(conn, log, Response{Success: false, Text: fmt.Sprintf("malformed action: %v", err)})
		return
	}
	log.Debug("action received", "kind", action.Kind)

	switch action.Kind {
	case ActionGetVar:
		s.handleGetVar(conn, log, action)
		return
	case ActionCloseWindows:
		s.handleCloseWindows(conn, log, action)
		return
	}

	reply := make(chan wisp.DaemonResponse, 1)
	cmd, err := toDaemonCommand(action, reply)
	if err != nil {
		s.writeResponse(conn, log, Response{Success: false, Text: err.Error()})
		return
	}
	s.commands <- cmd
	resp := <-reply

	s.writeResponse(conn, log, Response{Success: resp.Success, Text: resp.Text})
}

// handleGetVar serves a single-variable lookup by requesting the full
// variable dump via CommandPrintState and filtering it locally, since the
// dispatcher has no dedicated single-variable-lookup command (see
// toDaemonCommand's ActionGetVar case).
func (s *Server) handleGetVar(conn *net.UnixConn, log *slog.Logger, action Action) {
	reply := make(chan wisp.DaemonResponse, 1)
	s.commands <- wisp.DaemonCommand{Kind: wisp.CommandPrintState, PrintAll: true, Reply: reply}
	resp := <-reply
	if !resp.Success {
		s.writeResponse(conn, log, Response{Success: false, Text: resp.Text})
		return
	}
	prefix := string(action.VarName) + ": "
	for _, line := range splitLines(resp.Text) {
		if len(line) > len(prefix) && line[:len(prefix)] == prefix {
			s.writeResponse(conn, log, Response{Success: true, Text: line[len(prefix):]})
			return
		}
	}
	s.writeResponse(conn, log, Response{Success: false, Text: fmt.Sprintf("unknown variable %q", action.VarName)})
}

// handleCloseWindows closes each named window in turn, since DaemonCommand
// closes one window per command; a multi-name CloseWindows action fans out
// to one CommandCloseWindow per name and aggregates any failures into a
// single response, the same pattern CommandOpenMany uses inside the
// dispatcher itself for OpenMany.
func (s *Server) handleCloseWindows(conn *net.UnixConn, log *slog.Logger, action Action) {
	var failures []string
	for _, name := range action.Names {
		reply := make(chan wisp.DaemonResponse, 1)
		s.commands <- wisp.DaemonCommand{Kind: wisp.CommandCloseWindow, CloseName: name, Reply: reply}
		resp := <-reply
		if !resp.Success {
			failures = append(failures, fmt.Sprintf("%s: %s", name, resp.Text))
		}
	}
	if len(failures) > 0 {
		s.writeResponse(conn, log, Response{Success: false, Text: fmt.Sprintf("%d window(s) failed to close: %v", len(failures), failures)})
		return
	}
	s.writeResponse(conn, log, Response{Success: true})
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func (s *Server) writeResponse(conn *net.UnixConn, log *slog.Logger, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Error("marshalling response", "error", err)
		return
	}
	if err := writeFrame(conn, payload); err != nil {
		log.Warn("writing response frame", "error", err)
	}
}
