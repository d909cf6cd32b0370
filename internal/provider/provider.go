// Package provider bridges interview sessions to upstream realtime voice
// services. Both adapters present the OpenAI realtime event shapes to the
// client, reconnect transparently with a bounded retry budget and flush
// the session's transcript buffer when the bridge goes down for good.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"interview-realtime-gateway/internal/directory"
	"interview-realtime-gateway/internal/observability/metrics"
	"interview-realtime-gateway/internal/transcript"
)

// Error codes surfaced to the client.
const (
	CodeProviderUnavailable = "provider_unavailable"
	CodeRateLimited         = "rate_limit_exceeded"
)

const (
	maxReconnects  = 3
	cleanupTimeout = 10 * time.Second
)

var reconnectDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Callbacks deliver provider output back to the owning connection.
type Callbacks struct {
	// OnMessage receives canonical event frames to forward to the client.
	OnMessage func(data []byte)

	// OnError receives an error code and a human-readable message.
	OnError func(code, message string)

	// OnClose fires exactly once when the bridge is torn down.
	OnClose func()
}

// Handle drives a connected voice bridge.
type Handle interface {
	// Send forwards a client audio-plane frame upstream. Frames sent
	// while the bridge is down are dropped.
	Send(data []byte)

	// InjectTimeWarning asks the interviewer to work a time reminder
	// into the conversation.
	InjectTimeWarning(text string)

	// InjectObserverInsight hands the interviewer background context
	// about the candidate's code.
	InjectObserverInsight(text string)

	// Disconnect tears the bridge down. Safe to call more than once.
	Disconnect()
}

// connState is the bridge lifecycle. Transitions: connecting → open on
// a successful dial; open/connecting → reconnecting while the retry
// budget lasts; any state → closed, and closed is terminal.
type connState int

const (
	stateConnecting connState = iota
	stateOpen
	stateReconnecting
	stateClosed
)

// bridge is the reconnecting WebSocket core shared by the adapters. The
// adapter supplies dialing, session configuration and frame handling;
// the bridge owns connection state, the retry budget and teardown.
type bridge struct {
	provider  string
	sessionID string
	callbacks Callbacks
	log       zerolog.Logger

	dial      func() (*websocket.Conn, error)
	configure func(write func(v interface{}) error) error
	handleRaw func(data []byte)

	transcripts *transcript.Buffer
	dir         directory.Directory
	metrics     *metrics.Metrics

	mu      sync.Mutex
	state   connState
	conn    *websocket.Conn
	attempt int
}

// start dials the first connection. Dial failures enter the same retry
// path as a dropped connection.
func (b *bridge) start() {
	b.state = stateConnecting
	go b.connect()
}

func (b *bridge) connect() {
	b.mu.Lock()
	if b.state == stateClosed {
		b.mu.Unlock()
		return
	}
	b.state = stateConnecting
	b.mu.Unlock()

	conn, err := b.dial()
	if err != nil {
		b.log.Error().Str("error", sanitizeError(err)).Msg("Dial failed")
		b.handleDisconnect()
		return
	}

	b.mu.Lock()
	if b.state == stateClosed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.state = stateOpen
	b.conn = conn
	b.mu.Unlock()

	if err := b.configure(b.writeJSON); err != nil {
		b.log.Error().Str("error", sanitizeError(err)).Msg("Session configuration failed")
		b.callbacks.OnError(CodeProviderUnavailable, "Failed to configure session")
		b.cleanup()
		return
	}

	b.metrics.RecordProviderSession(b.provider)
	go b.readLoop(conn)
}

func (b *bridge) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			if b.conn == conn {
				b.conn = nil
			}
			closed := b.state == stateClosed
			b.mu.Unlock()
			if !closed {
				b.handleDisconnect()
			}
			return
		}
		b.mu.Lock()
		closed := b.state == stateClosed
		b.mu.Unlock()
		if closed {
			return
		}
		b.handleRaw(data)
	}
}

// handleDisconnect retries with escalating delays until the budget is
// spent, then marks the session errored and tears down.
func (b *bridge) handleDisconnect() {
	b.mu.Lock()
	if b.state == stateClosed {
		b.mu.Unlock()
		return
	}
	if b.attempt < maxReconnects {
		b.state = stateReconnecting
		delay := reconnectDelays[b.attempt]
		b.attempt++
		attempt := b.attempt
		b.mu.Unlock()

		b.metrics.RecordProviderReconnect(b.provider)
		b.log.Warn().
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Connection lost, reconnecting")
		time.AfterFunc(delay, b.connect)
		return
	}
	b.mu.Unlock()

	b.metrics.RecordProviderFailure(b.provider)
	b.log.Error().Msg("Reconnect budget exhausted")

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := b.dir.MarkErrored(ctx, b.sessionID); err != nil {
		b.log.Error().Err(err).Msg("Failed to mark session errored")
	}
	b.callbacks.OnError(CodeProviderUnavailable, "Voice provider unavailable. Please try again.")
	b.cleanup()
}

// cleanup closes the connection, flushes and clears the session's
// transcript buffer, and fires OnClose. Idempotent.
func (b *bridge) cleanup() {
	b.mu.Lock()
	if b.state == stateClosed {
		b.mu.Unlock()
		return
	}
	b.state = stateClosed
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	b.transcripts.FlushNow(ctx, b.sessionID)
	b.transcripts.Clear(b.sessionID)

	b.callbacks.OnClose()
}

func (b *bridge) writeJSON(v interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateOpen || b.conn == nil {
		return websocket.ErrCloseSent
	}
	return b.conn.WriteJSON(v)
}

func (b *bridge) writeRaw(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateOpen || b.conn == nil {
		return websocket.ErrCloseSent
	}
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

// Disconnect spends the retry budget and tears down.
func (b *bridge) Disconnect() {
	b.mu.Lock()
	b.attempt = maxReconnects
	b.mu.Unlock()
	b.cleanup()
}
