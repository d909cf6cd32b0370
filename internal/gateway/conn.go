// Package gateway is the client-facing surface: WebSocket upgrade and
// authentication, per-frame routing, the per-session code cache, and
// the health endpoint.
package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client-facing error codes.
const (
	codeUnauthorized       = "unauthorized"
	codeBinaryNotSupported = "binary_not_supported"
	codeInvalidPayload     = "invalid_payload"
	codeInvalidEventType   = "invalid_event_type"
	codePublishFailed      = "publish_failed"
)

// Close status for connections rejected at authentication.
const closeUnauthorized = 4001

const writeTimeout = 10 * time.Second

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type ackFrame struct {
	Type  string `json:"type"`
	Event string `json:"event"`
}

// clientConn is the per-frame writing surface the router needs.
// Conn implements it for real sockets; tests substitute a recorder.
type clientConn interface {
	SendEvent(v interface{}) error
	SendRaw(data []byte) error
	CloseWith(status int, reason string) error
}

// Conn wraps a WebSocket with a write lock; gorilla connections allow
// only one concurrent writer.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// NewConn wraps an upgraded connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// SendEvent marshals and writes one JSON text frame.
func (c *Conn) SendEvent(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw writes one text frame as-is.
func (c *Conn) SendRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// CloseWith sends a close frame with the given status and closes.
func (c *Conn) CloseWith(status int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(status, reason))
	return c.ws.Close()
}
