package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func addEvents(t *testing.T, log *MemoryLog, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := log.Add(context.Background(), Event{
			Type:      TypeCodeEdited,
			SessionID: "session-1",
			Payload:   json.RawMessage(`{}`),
		})
		if err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestMemoryLogReadGroupDeliversInOrder(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	ids := addEvents(t, log, 3)
	if err := log.EnsureGroup(ctx, GroupObserver); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}

	first, err := log.ReadGroup(ctx, GroupObserver, "c1", 0, 2)
	if err != nil {
		t.Fatalf("ReadGroup() error = %v", err)
	}
	if len(first) != 2 || first[0].ID != ids[0] || first[1].ID != ids[1] {
		t.Fatalf("first read = %v, want ids %v", first, ids[:2])
	}

	second, err := log.ReadGroup(ctx, GroupObserver, "c1", 0, 10)
	if err != nil {
		t.Fatalf("ReadGroup() error = %v", err)
	}
	if len(second) != 1 || second[0].ID != ids[2] {
		t.Fatalf("second read = %v, want only %s", second, ids[2])
	}

	if got := log.PendingCount(GroupObserver); got != 3 {
		t.Errorf("PendingCount() = %d, want 3", got)
	}
}

func TestMemoryLogAckClearsPending(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	ids := addEvents(t, log, 2)
	log.EnsureGroup(ctx, GroupObserver)
	log.ReadGroup(ctx, GroupObserver, "c1", 0, 10)

	if err := log.Ack(ctx, GroupObserver, ids[0]); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if got := log.PendingCount(GroupObserver); got != 1 {
		t.Errorf("PendingCount() after ack = %d, want 1", got)
	}
}

func TestMemoryLogGroupsAreIndependent(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	addEvents(t, log, 2)
	log.EnsureGroup(ctx, GroupObserver)
	log.EnsureGroup(ctx, GroupEvaluator)

	obs, _ := log.ReadGroup(ctx, GroupObserver, "c1", 0, 10)
	eval, _ := log.ReadGroup(ctx, GroupEvaluator, "c1", 0, 10)
	if len(obs) != 2 || len(eval) != 2 {
		t.Fatalf("reads = %d/%d, want each group to see every entry", len(obs), len(eval))
	}
}

func TestMemoryLogAutoClaimRespectsMinIdle(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	base := time.Now()
	now := base
	log.now = func() time.Time { return now }

	ids := addEvents(t, log, 1)
	log.EnsureGroup(ctx, GroupObserver)
	log.ReadGroup(ctx, GroupObserver, "stalled", 0, 10)

	claimed, _, err := log.AutoClaim(ctx, GroupObserver, "rescuer", reclaimMinIdle, reclaimStart, 10)
	if err != nil {
		t.Fatalf("AutoClaim() error = %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("AutoClaim() before minIdle claimed %d messages, want 0", len(claimed))
	}

	now = base.Add(reclaimMinIdle + time.Second)
	claimed, _, err = log.AutoClaim(ctx, GroupObserver, "rescuer", reclaimMinIdle, reclaimStart, 10)
	if err != nil {
		t.Fatalf("AutoClaim() error = %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != ids[0] {
		t.Fatalf("AutoClaim() after minIdle = %v, want %s", claimed, ids[0])
	}

	// The claim resets the idle clock, so an immediate re-claim finds nothing.
	claimed, _, _ = log.AutoClaim(ctx, GroupObserver, "other", reclaimMinIdle, reclaimStart, 10)
	if len(claimed) != 0 {
		t.Errorf("AutoClaim() immediately after claim = %d messages, want 0", len(claimed))
	}
}

func TestMemoryLogTrimsOldestPastCap(t *testing.T) {
	log := NewMemoryLog()
	log.maxLen = 3
	ctx := context.Background()

	log.EnsureGroup(ctx, GroupObserver)
	addEvents(t, log, 2)
	log.ReadGroup(ctx, GroupObserver, "c1", 0, 10)
	ids := addEvents(t, log, 3)

	entries := log.Entries()
	if len(entries) != 3 {
		t.Fatalf("len(Entries()) = %d, want 3", len(entries))
	}
	if entries[2].ID != ids[2] {
		t.Errorf("newest entry = %s, want %s", entries[2].ID, ids[2])
	}

	// The trimmed entries' pending state is gone and the cursor still
	// points at the first undelivered survivor.
	msgs, _ := log.ReadGroup(ctx, GroupObserver, "c1", 0, 10)
	if len(msgs) != 3 {
		t.Fatalf("ReadGroup() after trim = %d messages, want 3", len(msgs))
	}
}

func TestMemoryLogDeadLetters(t *testing.T) {
	log := NewMemoryLog()
	dl := DeadLetter{
		OriginalStream: log.Stream(),
		MessageID:      "1-0",
		Type:           TypeSessionEnded,
		SessionID:      "session-1",
		RetryCount:     maxRetries,
		LastError:      "handler exploded",
	}
	if err := log.AddDeadLetter(context.Background(), dl); err != nil {
		t.Fatalf("AddDeadLetter() error = %v", err)
	}
	got := log.DeadLetters()
	if len(got) != 1 || got[0].MessageID != "1-0" || got[0].RetryCount != maxRetries {
		t.Fatalf("DeadLetters() = %v, want the appended entry", got)
	}
}
