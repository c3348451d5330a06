package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is a thin one-shot dialer for sending a single Action to a running
// daemon and reading back its Response, used by an external CLI front-end
// and by tests driving the server end-to-end.
type Client struct {
	path    string
	timeout time.Duration
}

// NewClient returns a Client that dials the socket at path.
func NewClient(path string) *Client {
	return &Client{path: path, timeout: 5 * time.Second}
}

// WithTimeout overrides the default dial/round-trip timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// Do dials the socket, sends action as one framed JSON message, reads back
// one framed Response, and closes the connection — mirroring the
// one-request-per-connection shape the server implements.
func (c *Client) Do(action Action) (Response, error) {
	conn, err := net.DialTimeout("unix", c.path, c.timeout)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: dialing %q: %w", c.path, err)
	}
	defer conn.Close()

	if c.timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return Response{}, fmt.Errorf("ipc: setting deadline: %w", err)
		}
	}

	payload, err := json.Marshal(action)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: marshalling action: %w", err)
	}
	if err := writeFrame(conn, payload); err != nil {
		return Response{}, err
	}

	respPayload, err := readFrame(conn)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: reading response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(respPayload, &resp); err != nil {
		return Response{}, fmt.Errorf("ipc: decoding response: %w", err)
	}
	return resp, nil
}

// Ping sends an ActionPing and reports whether the daemon is reachable.
func (c *Client) Ping() error {
	resp, err := c.Do(Action{Kind: ActionPing})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("ipc: ping failed: %s", resp.Text)
	}
	return nil
}
