// Package monitor is a terminal dashboard for a running disaster manager.
// It subscribes to the host link WebSocket and renders per-tool extrusion,
// drift and recent pause requests.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"disaster-manager-go/pkg/guard"
)

// Client is a minimal JSON-RPC client for the host link.
type Client struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	nextID int64
}

// Dial connects to url (ws://host:port/websocket).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Call sends a request. The reply arrives through Next.
func (c *Client) Call(method string, params any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	req := map[string]any{"jsonrpc": "2.0", "method": method, "id": c.nextID}
	if params != nil {
		req["params"] = params
	}
	return c.conn.WriteJSON(req)
}

type message struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	Result json.RawMessage   `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StatusMsg carries a fresh controller status.
type StatusMsg guard.Status

// PauseMsg carries a pause request pushed by the server.
type PauseMsg guard.PauseRequest

// ErrMsg reports a connection or RPC failure.
type ErrMsg struct{ Err error }

func (e ErrMsg) Error() string { return e.Err.Error() }

// Next blocks until a message the dashboard cares about arrives.
func (c *Client) Next() (any, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		msg, ok, err := decode(data)
		if err != nil {
			return nil, err
		}
		if ok {
			return msg, nil
		}
	}
}

// decode maps one wire message to a dashboard message. ok is false for
// messages the dashboard ignores.
func decode(data []byte) (msg any, ok bool, err error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("decode message: %w", err)
	}
	switch {
	case m.Error != nil:
		return ErrMsg{Err: fmt.Errorf("server: %s", m.Error.Message)}, true, nil
	case m.Method == "notify_status_update" && len(m.Params) > 0:
		var st guard.Status
		if err := json.Unmarshal(m.Params[0], &st); err != nil {
			return nil, false, fmt.Errorf("decode status: %w", err)
		}
		return StatusMsg(st), true, nil
	case m.Method == "notify_pause_request" && len(m.Params) > 0:
		var req guard.PauseRequest
		if err := json.Unmarshal(m.Params[0], &req); err != nil {
			return nil, false, fmt.Errorf("decode pause request: %w", err)
		}
		return PauseMsg(req), true, nil
	case len(m.Result) > 0:
		// odometer.subscribe and odometer.reset answer with a status
		var st guard.Status
		if json.Unmarshal(m.Result, &st) == nil && st.State != "" {
			return StatusMsg(st), true, nil
		}
	}
	return nil, false, nil
}
