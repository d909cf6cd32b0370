package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count    int
	ms       int64
	deadline time.Time
}

// Memory implements all keyed stores in process memory. Used as the timer
// fallback when Redis is unreachable and standalone in tests and
// Redis-unconfigured deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an in-process keyed store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *Memory) get(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if m.now().After(e.deadline) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *Memory) IsUsed(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.get("jti:" + jti)
	return ok, nil
}

func (m *Memory) MarkUsed(ctx context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries["jti:"+jti] = memoryEntry{deadline: m.now().Add(replayTTL)}
	return nil
}

func (m *Memory) GetExpiresAt(ctx context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(timerKey(sessionID))
	if !ok {
		return 0, nil
	}
	return e.ms, nil
}

func (m *Memory) SetExpiresAt(ctx context.Context, sessionID string, expiresAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[timerKey(sessionID)] = memoryEntry{ms: expiresAt, deadline: m.now().Add(timerTTL)}
	return nil
}

func (m *Memory) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, timerKey(sessionID))
	return nil
}

func (m *Memory) Get(ctx context.Context, stream, messageID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(retryKey(stream, messageID))
	if !ok {
		return 0, nil
	}
	return e.count, nil
}

func (m *Memory) Increment(ctx context.Context, stream, messageID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := retryKey(stream, messageID)
	e, _ := m.get(key)
	e.count++
	e.deadline = m.now().Add(retryTTL)
	m.entries[key] = e
	return e.count, nil
}
