package store

import (
	"context"
	"testing"
	"time"
)

func TestMemory_ReplayMarks(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	used, err := m.IsUsed(ctx, "jti-1")
	if err != nil || used {
		t.Fatalf("expected unused, got used=%v err=%v", used, err)
	}
	if err := m.MarkUsed(ctx, "jti-1"); err != nil {
		t.Fatalf("mark used: %v", err)
	}
	used, _ = m.IsUsed(ctx, "jti-1")
	if !used {
		t.Error("expected jti-1 to be marked used")
	}
	used, _ = m.IsUsed(ctx, "jti-2")
	if used {
		t.Error("expected jti-2 to be unused")
	}
}

func TestMemory_ReplayMarkExpires(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }
	m.MarkUsed(ctx, "jti-1")

	m.now = func() time.Time { return now.Add(replayTTL + time.Second) }
	used, _ := m.IsUsed(ctx, "jti-1")
	if used {
		t.Error("expected mark to expire")
	}
}

func TestMemory_TimerRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ms, _ := m.GetExpiresAt(ctx, "s1")
	if ms != 0 {
		t.Errorf("expected 0 for unset timer, got %d", ms)
	}
	if err := m.SetExpiresAt(ctx, "s1", 1234567890123); err != nil {
		t.Fatalf("set: %v", err)
	}
	ms, _ = m.GetExpiresAt(ctx, "s1")
	if ms != 1234567890123 {
		t.Errorf("expected stored expiry, got %d", ms)
	}
	m.Delete(ctx, "s1")
	ms, _ = m.GetExpiresAt(ctx, "s1")
	if ms != 0 {
		t.Errorf("expected 0 after delete, got %d", ms)
	}
}

func TestMemory_RetryCounter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	n, _ := m.Get(ctx, "events", "1-0")
	if n != 0 {
		t.Errorf("expected 0 for new counter, got %d", n)
	}
	for i := 1; i <= 3; i++ {
		n, err := m.Increment(ctx, "events", "1-0")
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if n != i {
			t.Errorf("expected count %d, got %d", i, n)
		}
	}
	// Counters are keyed per message
	n, _ = m.Get(ctx, "events", "2-0")
	if n != 0 {
		t.Errorf("expected independent counter, got %d", n)
	}
}

type failingTimerStore struct{}

func (failingTimerStore) GetExpiresAt(ctx context.Context, sessionID string) (int64, error) {
	return 0, context.DeadlineExceeded
}
func (failingTimerStore) SetExpiresAt(ctx context.Context, sessionID string, expiresAt int64) error {
	return context.DeadlineExceeded
}
func (failingTimerStore) Delete(ctx context.Context, sessionID string) error {
	return context.DeadlineExceeded
}

func TestFallbackTimerStore_UsesMemoryWhenPrimaryFails(t *testing.T) {
	f := NewFallbackTimerStore(failingTimerStore{})
	ctx := context.Background()

	if err := f.SetExpiresAt(ctx, "s1", 42); err != nil {
		t.Fatalf("set should fall back, got %v", err)
	}
	ms, err := f.GetExpiresAt(ctx, "s1")
	if err != nil {
		t.Fatalf("get should fall back, got %v", err)
	}
	if ms != 42 {
		t.Errorf("expected 42 from fallback, got %d", ms)
	}
	if err := f.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete should fall back, got %v", err)
	}
	ms, _ = f.GetExpiresAt(ctx, "s1")
	if ms != 0 {
		t.Errorf("expected 0 after delete, got %d", ms)
	}
}
