package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"interview-realtime-gateway/internal/store"
)

func deliverOne(t *testing.T, log *MemoryLog, group, consumer string) Message {
	t.Helper()
	msgs, err := log.ReadGroup(context.Background(), group, consumer, 0, 1)
	if err != nil {
		t.Fatalf("ReadGroup() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("ReadGroup() delivered %d messages, want 1", len(msgs))
	}
	return msgs[0]
}

func TestWorkerPoolConsumerName(t *testing.T) {
	pool := NewWorkerPool(NewMemoryLog(), store.NewMemory())
	if !strings.HasPrefix(pool.Consumer(), "worker-") {
		t.Errorf("Consumer() = %q, want worker-<pid>-<uuid> shape", pool.Consumer())
	}
}

func TestWorkerPoolAcksOnSuccess(t *testing.T) {
	log := NewMemoryLog()
	pool := NewWorkerPool(log, store.NewMemory())
	ctx := context.Background()

	var handled []string
	pool.Register(GroupObserver, TypeCodeEdited, func(ctx context.Context, msg Message) error {
		handled = append(handled, msg.ID)
		return nil
	})

	log.EnsureGroup(ctx, GroupObserver)
	id, _ := log.Add(ctx, Event{Type: TypeCodeEdited, SessionID: "session-1", Payload: json.RawMessage(`{"code":"x","language":"go"}`)})
	msg := deliverOne(t, log, GroupObserver, pool.Consumer())

	pool.handleMessage(ctx, GroupObserver, msg, zerolog.Nop())

	if len(handled) != 1 || handled[0] != id {
		t.Errorf("handled = %v, want [%s]", handled, id)
	}
	if got := log.PendingCount(GroupObserver); got != 0 {
		t.Errorf("PendingCount() = %d, want 0 after ack", got)
	}
}

func TestWorkerPoolAcksUnregisteredType(t *testing.T) {
	log := NewMemoryLog()
	pool := NewWorkerPool(log, store.NewMemory())
	ctx := context.Background()

	pool.Register(GroupEvaluator, TypeSessionEnded, func(ctx context.Context, msg Message) error {
		t.Fatal("session.ended handler must not see code.edited")
		return nil
	})

	log.EnsureGroup(ctx, GroupEvaluator)
	log.Add(ctx, Event{Type: TypeCodeEdited, SessionID: "session-1", Payload: json.RawMessage(`{}`)})
	msg := deliverOne(t, log, GroupEvaluator, pool.Consumer())

	pool.handleMessage(ctx, GroupEvaluator, msg, zerolog.Nop())

	if got := log.PendingCount(GroupEvaluator); got != 0 {
		t.Errorf("PendingCount() = %d, want 0 for skipped type", got)
	}
	if got := len(log.DeadLetters()); got != 0 {
		t.Errorf("DeadLetters() = %d, want 0", got)
	}
}

// A handler that always fails is retried up to the ceiling, then the
// message lands in the dead-letter stream exactly once and is
// acknowledged so no further delivery occurs.
func TestWorkerPoolDeadLettersAfterRetryCeiling(t *testing.T) {
	log := NewMemoryLog()
	pool := NewWorkerPool(log, store.NewMemory())
	ctx := context.Background()

	attempts := 0
	pool.Register(GroupObserver, TypeCodeEdited, func(ctx context.Context, msg Message) error {
		attempts++
		return errors.New("transient downstream failure")
	})

	log.EnsureGroup(ctx, GroupObserver)
	log.Add(ctx, Event{Type: TypeCodeEdited, SessionID: "session-1", Payload: json.RawMessage(`{}`)})
	msg := deliverOne(t, log, GroupObserver, pool.Consumer())

	// Each redelivery after a reclaim runs the message through the pool
	// again until the retry counter hits the ceiling.
	for i := 0; i < maxRetries; i++ {
		if got := log.PendingCount(GroupObserver); got != 1 {
			t.Fatalf("attempt %d: PendingCount() = %d, want 1 while retrying", i, got)
		}
		pool.handleMessage(ctx, GroupObserver, msg, zerolog.Nop())
	}

	if attempts != maxRetries {
		t.Errorf("handler attempts = %d, want %d", attempts, maxRetries)
	}
	dead := log.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("DeadLetters() = %d, want exactly 1", len(dead))
	}
	if dead[0].MessageID != msg.ID || dead[0].RetryCount != maxRetries {
		t.Errorf("dead letter = %+v, want message %s with retryCount %d", dead[0], msg.ID, maxRetries)
	}
	if dead[0].LastError == "" {
		t.Error("dead letter LastError is empty, want the handler error")
	}
	if got := log.PendingCount(GroupObserver); got != 0 {
		t.Errorf("PendingCount() = %d, want 0 after dead-letter ack", got)
	}

	// A stray redelivery of an already-exhausted message must not run the
	// handler or add a second dead letter beyond the guarded append.
	pool.handleMessage(ctx, GroupObserver, msg, zerolog.Nop())
	if attempts != maxRetries {
		t.Errorf("handler ran after exhaustion, attempts = %d", attempts)
	}
}

func TestWorkerPoolKeepsPendingWhenDeadLetterFails(t *testing.T) {
	inner := NewMemoryLog()
	log := &failingDeadLetterLog{MemoryLog: inner}
	pool := NewWorkerPool(log, store.NewMemory())
	ctx := context.Background()

	pool.Register(GroupObserver, TypeCodeEdited, func(ctx context.Context, msg Message) error {
		return errors.New("boom")
	})

	inner.EnsureGroup(ctx, GroupObserver)
	inner.Add(ctx, Event{Type: TypeCodeEdited, SessionID: "session-1", Payload: json.RawMessage(`{}`)})
	msg := deliverOne(t, inner, GroupObserver, pool.Consumer())

	for i := 0; i < maxRetries; i++ {
		pool.handleMessage(ctx, GroupObserver, msg, zerolog.Nop())
	}

	if got := len(inner.DeadLetters()); got != 0 {
		t.Fatalf("DeadLetters() = %d, want 0 when the append fails", got)
	}
	if got := inner.PendingCount(GroupObserver); got != 1 {
		t.Errorf("PendingCount() = %d, want 1 so the next reclaim retries the move", got)
	}
}

// A message stranded pending by one consumer is reclaimed and processed
// by another once it has sat idle long enough.
func TestWorkerPoolReclaimedMessageIsProcessed(t *testing.T) {
	log := NewMemoryLog()
	pool := NewWorkerPool(log, store.NewMemory())
	ctx := context.Background()

	var handled []string
	pool.Register(GroupObserver, TypeCodeEdited, func(ctx context.Context, msg Message) error {
		handled = append(handled, msg.ID)
		return nil
	})

	base := log.now()
	now := base
	log.now = func() time.Time { return now }

	log.EnsureGroup(ctx, GroupObserver)
	id, _ := log.Add(ctx, Event{Type: TypeCodeEdited, SessionID: "session-1", Payload: json.RawMessage(`{}`)})

	// The stalled consumer reads the message and dies without acking.
	deliverOne(t, log, GroupObserver, "stalled-worker")

	now = base.Add(reclaimMinIdle + time.Second)
	claimed, _, err := log.AutoClaim(ctx, GroupObserver, pool.Consumer(), reclaimMinIdle, reclaimStart, reclaimCount)
	if err != nil {
		t.Fatalf("AutoClaim() error = %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("AutoClaim() = %d messages, want 1", len(claimed))
	}

	pool.handleMessage(ctx, GroupObserver, claimed[0], zerolog.Nop())

	if len(handled) != 1 || handled[0] != id {
		t.Errorf("handled = %v, want [%s]", handled, id)
	}
	if got := log.PendingCount(GroupObserver); got != 0 {
		t.Errorf("PendingCount() = %d, want 0", got)
	}
}

type failingDeadLetterLog struct {
	*MemoryLog
}

func (l *failingDeadLetterLog) AddDeadLetter(ctx context.Context, dl DeadLetter) error {
	return errors.New("dlq unavailable")
}
