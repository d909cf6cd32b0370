package gateway

import (
	"context"
	"sync"
	"time"

	"interview-realtime-gateway/internal/directory"
	"interview-realtime-gateway/internal/observability/logging"
)

const (
	maxCodeSize     = 50 * 1024
	persistInterval = 30 * time.Second
)

var allowedLanguages = map[string]bool{
	"python":     true,
	"javascript": true,
	"java":       true,
}

type codeEntry struct {
	code        string
	language    string
	lastUpdated int64
}

// CodeCache holds the latest editor contents per session and persists
// periodic snapshots to the directory. Oversized edits are dropped;
// unknown languages normalize to python.
type CodeCache struct {
	dir directory.Directory

	mu      sync.Mutex
	entries map[string]codeEntry

	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCodeCache creates an empty code cache persisting into dir.
func NewCodeCache(dir directory.Directory) *CodeCache {
	return &CodeCache{
		dir:     dir,
		entries: make(map[string]codeEntry),
		now:     time.Now,
	}
}

// Update stores a session's latest code. Reports whether the edit was
// accepted.
func (c *CodeCache) Update(sessionID, code, language string) bool {
	if len(code) > maxCodeSize {
		return false
	}
	if !allowedLanguages[language] {
		language = "python"
	}
	c.mu.Lock()
	c.entries[sessionID] = codeEntry{
		code:        code,
		language:    language,
		lastUpdated: c.now().UnixMilli(),
	}
	c.mu.Unlock()
	return true
}

// Remove drops a session's cached code.
func (c *CodeCache) Remove(sessionID string) {
	c.mu.Lock()
	delete(c.entries, sessionID)
	c.mu.Unlock()
}

// Finalize writes a session's last edit as a final snapshot and drops
// the entry, so the periodic loop stops persisting for that session.
// No-op when the session never edited code.
func (c *CodeCache) Finalize(ctx context.Context, sessionID string) {
	c.mu.Lock()
	entry, ok := c.entries[sessionID]
	delete(c.entries, sessionID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.dir.InsertCodeSnapshot(ctx, directory.CodeSnapshot{
		SessionID:    sessionID,
		Code:         entry.code,
		Language:     entry.language,
		TimestampMs:  entry.lastUpdated,
		SnapshotType: "final",
	}); err != nil {
		logger := logging.WithComponent("codecache")
		logger.Error().
			Err(err).
			Str("sessionId", sessionID).
			Msg("Final snapshot persist failed")
	}
}

// Get returns a session's cached code and language.
func (c *CodeCache) Get(sessionID string) (code, language string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[sessionID]
	return entry.code, entry.language, ok
}

// Start launches the periodic snapshot loop.
func (c *CodeCache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(persistInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.persistAll(ctx)
			}
		}
	}()
}

// Stop halts the snapshot loop.
func (c *CodeCache) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *CodeCache) persistAll(ctx context.Context) {
	c.mu.Lock()
	snaps := make([]directory.CodeSnapshot, 0, len(c.entries))
	for sessionID, entry := range c.entries {
		snaps = append(snaps, directory.CodeSnapshot{
			SessionID:    sessionID,
			Code:         entry.code,
			Language:     entry.language,
			TimestampMs:  entry.lastUpdated,
			SnapshotType: "auto",
		})
	}
	c.mu.Unlock()

	for _, snap := range snaps {
		if err := c.dir.InsertCodeSnapshot(ctx, snap); err != nil {
			logger := logging.WithComponent("codecache")
			logger.Error().
				Err(err).
				Str("sessionId", snap.SessionID).
				Msg("Snapshot persist failed")
		}
	}
}
