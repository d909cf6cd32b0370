// Package store provides the shared keyed stores backing replay protection,
// session timers and retry counters. Redis implementations are shared across
// gateway instances; memory implementations serve tests and unconfigured
// deployments.
package store

import (
	"context"
	"time"
)

// ReplayStore records single-use credential ids.
type ReplayStore interface {
	// IsUsed reports whether a jti has been seen before.
	IsUsed(ctx context.Context, jti string) (bool, error)

	// MarkUsed records a jti. The mark outlives the credential's max age.
	MarkUsed(ctx context.Context, jti string) error
}

// TimerStore persists per-session expiry instants.
type TimerStore interface {
	// GetExpiresAt returns the stored expiry in unix milliseconds, or 0
	// when no timer exists.
	GetExpiresAt(ctx context.Context, sessionID string) (int64, error)

	// SetExpiresAt stores the expiry with a long retention TTL.
	SetExpiresAt(ctx context.Context, sessionID string, expiresAt int64) error

	// Delete removes the timer.
	Delete(ctx context.Context, sessionID string) error
}

// RetryStore counts processing failures per durable-log message.
type RetryStore interface {
	// Get returns the current retry count, 0 when absent.
	Get(ctx context.Context, stream, messageID string) (int, error)

	// Increment bumps the count and returns the new value. The counter
	// expires so abandoned messages do not accumulate keys.
	Increment(ctx context.Context, stream, messageID string) (int, error)
}

const (
	replayTTL = 2 * time.Hour
	timerTTL  = 24 * time.Hour
	retryTTL  = time.Hour
)
