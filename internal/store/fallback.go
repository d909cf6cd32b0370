package store

import (
	"context"

	"interview-realtime-gateway/internal/observability/logging"
)

// FallbackTimerStore reads and writes through the primary store, falling
// back to an in-process store per operation when the primary fails.
// Reconnects on another instance then cannot see the fallback state, which
// only matters while the shared store is already down.
type FallbackTimerStore struct {
	primary  TimerStore
	fallback TimerStore
}

// NewFallbackTimerStore wraps primary with a memory fallback.
func NewFallbackTimerStore(primary TimerStore) *FallbackTimerStore {
	return &FallbackTimerStore{primary: primary, fallback: NewMemory()}
}

func (f *FallbackTimerStore) GetExpiresAt(ctx context.Context, sessionID string) (int64, error) {
	ms, err := f.primary.GetExpiresAt(ctx, sessionID)
	if err == nil {
		return ms, nil
	}
	logger := logging.WithComponent("timer-store")
	logger.Warn().Err(err).Msg("Primary timer store read failed, using memory")
	return f.fallback.GetExpiresAt(ctx, sessionID)
}

func (f *FallbackTimerStore) SetExpiresAt(ctx context.Context, sessionID string, expiresAt int64) error {
	if err := f.primary.SetExpiresAt(ctx, sessionID, expiresAt); err == nil {
		return nil
	}
	return f.fallback.SetExpiresAt(ctx, sessionID, expiresAt)
}

func (f *FallbackTimerStore) Delete(ctx context.Context, sessionID string) error {
	err := f.primary.Delete(ctx, sessionID)
	ferr := f.fallback.Delete(ctx, sessionID)
	if err != nil {
		return ferr
	}
	return nil
}
