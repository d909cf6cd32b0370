package events

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type pendingEntry struct {
	consumer    string
	deliveredAt time.Time
}

type memoryGroup struct {
	next    int // index of the next undelivered entry
	pending map[string]*pendingEntry
}

// MemoryLog implements Log in process memory. Serves tests and deployments
// without a configured Redis; it offers the same consumer-group and
// claim-on-timeout semantics, scoped to one process.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Message
	seq     int64
	groups  map[string]*memoryGroup
	dead    []DeadLetter
	maxLen  int
	now     func() time.Time
}

// NewMemoryLog creates an in-process event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		groups: make(map[string]*memoryGroup),
		maxLen: maxStreamLen,
		now:    time.Now,
	}
}

// Stream returns the stream key, used for retry-counter scoping.
func (l *MemoryLog) Stream() string {
	return streamName
}

func (l *MemoryLog) Add(ctx context.Context, event Event) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	id := fmt.Sprintf("%d-0", l.seq)
	l.entries = append(l.entries, Message{ID: id, Event: event})

	// Trim oldest past the cap, shifting group cursors with the slice.
	if over := len(l.entries) - l.maxLen; over > 0 {
		for _, g := range l.groups {
			for i := 0; i < over; i++ {
				delete(g.pending, l.entries[i].ID)
			}
			g.next -= over
			if g.next < 0 {
				g.next = 0
			}
		}
		l.entries = l.entries[over:]
	}
	return id, nil
}

func (l *MemoryLog) EnsureGroup(ctx context.Context, group string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.groups[group]; !ok {
		l.groups[group] = &memoryGroup{pending: make(map[string]*pendingEntry)}
	}
	return nil
}

func (l *MemoryLog) ReadGroup(ctx context.Context, group, consumer string, block time.Duration, count int) ([]Message, error) {
	l.mu.Lock()
	g, ok := l.groups[group]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("no such group: %s", group)
	}

	var out []Message
	for g.next < len(l.entries) && len(out) < count {
		m := l.entries[g.next]
		g.pending[m.ID] = &pendingEntry{consumer: consumer, deliveredAt: l.now()}
		out = append(out, m)
		g.next++
	}
	l.mu.Unlock()

	if len(out) == 0 && block > 0 {
		// Approximate the blocking read without a condition variable; the
		// worker loop re-reads on its next iteration anyway.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(block):
		}
	}
	return out, nil
}

func (l *MemoryLog) Ack(ctx context.Context, group string, ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[group]
	if !ok {
		return fmt.Errorf("no such group: %s", group)
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

func (l *MemoryLog) AutoClaim(ctx context.Context, group, consumer string, minIdle time.Duration, start string, count int) ([]Message, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[group]
	if !ok {
		return nil, start, fmt.Errorf("no such group: %s", group)
	}

	var out []Message
	now := l.now()
	for _, m := range l.entries {
		if len(out) >= count {
			break
		}
		p, pending := g.pending[m.ID]
		if !pending || now.Sub(p.deliveredAt) < minIdle {
			continue
		}
		p.consumer = consumer
		p.deliveredAt = now
		out = append(out, m)
	}
	return out, "0-0", nil
}

func (l *MemoryLog) AddDeadLetter(ctx context.Context, dl DeadLetter) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dead = append(l.dead, dl)
	return nil
}

// DeadLetters returns a copy of the dead-letter entries.
func (l *MemoryLog) DeadLetters() []DeadLetter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]DeadLetter(nil), l.dead...)
}

// PendingCount returns the number of unacknowledged messages for a group.
func (l *MemoryLog) PendingCount(group string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[group]
	if !ok {
		return 0
	}
	return len(g.pending)
}

// Entries returns a copy of all log entries.
func (l *MemoryLog) Entries() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.entries...)
}
