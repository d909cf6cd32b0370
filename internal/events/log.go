// Package events provides the durable event log and its consumer-group
// worker pool: publish, block-read, acknowledge, retry, reclaim and
// dead-letter.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event is an immutable record appended to the durable log.
type Event struct {
	Type      string
	SessionID string
	Payload   json.RawMessage
}

// Message is a delivered log entry.
type Message struct {
	ID    string
	Event Event
}

// DeadLetter is the terminal record for an event that exhausted its retry
// budget.
type DeadLetter struct {
	OriginalStream string          `json:"originalStream"`
	MessageID      string          `json:"messageId"`
	Type           string          `json:"type"`
	SessionID      string          `json:"sessionId"`
	Payload        json.RawMessage `json:"payload"`
	RetryCount     int             `json:"retryCount"`
	LastError      string          `json:"lastError,omitempty"`
}

// Log is a capped, replayable event log with named consumer groups and
// claim-on-timeout. Any log offering those operations is substitutable.
type Log interface {
	// Add appends an event, trimming the oldest entries past the cap, and
	// returns the assigned message id.
	Add(ctx context.Context, event Event) (string, error)

	// EnsureGroup creates a consumer group if it does not exist.
	EnsureGroup(ctx context.Context, group string) error

	// ReadGroup block-reads up to count undelivered messages for a
	// consumer. It returns an empty slice when the block timeout elapses.
	ReadGroup(ctx context.Context, group, consumer string, block time.Duration, count int) ([]Message, error)

	// Ack acknowledges processed messages for a group.
	Ack(ctx context.Context, group string, ids ...string) error

	// AutoClaim reassigns messages pending longer than minIdle to the
	// calling consumer, scanning from start. It returns the claimed
	// messages and the next scan cursor.
	AutoClaim(ctx context.Context, group, consumer string, minIdle time.Duration, start string, count int) ([]Message, string, error)

	// AddDeadLetter appends a terminal dead-letter entry.
	AddDeadLetter(ctx context.Context, dl DeadLetter) error
}

// Stream event types understood by the worker pool.
const (
	TypeCodeEdited   = "code.edited"
	TypeSessionEnded = "session.ended"
)
