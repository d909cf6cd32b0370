// Package transcript batches per-session transcript fragments and flushes
// them durably to the session directory.
package transcript

import (
	"context"
	"sync"
	"time"

	"interview-realtime-gateway/internal/directory"
	"interview-realtime-gateway/internal/observability/logging"
	"interview-realtime-gateway/internal/observability/metrics"
)

// Speaker attribution for a fragment.
const (
	SpeakerCandidate   = "candidate"
	SpeakerInterviewer = "interviewer"
	SpeakerSystem      = "system"
)

// Fragment is one piece of transcript text. Providers emit corrected
// transcripts for the same utterance; fragments sharing a ProviderItemID
// replace each other in the buffer.
type Fragment struct {
	SessionID      string
	Speaker        string
	Content        string
	TimestampMs    int64
	ProviderItemID string
}

// Exporter mirrors flushed rows to an external analytics sink. Best-effort:
// export failures never affect the durable write.
type Exporter interface {
	Publish(ctx context.Context, rows []directory.TranscriptRow) error
}

const defaultFlushInterval = 5 * time.Second

// Buffer holds per-session fragment lists with scheduled flushing.
type Buffer struct {
	dir      directory.Directory
	exporter Exporter
	interval time.Duration
	metrics  *metrics.Metrics

	mu      sync.Mutex
	buffers map[string][]Fragment
	timers  map[string]*time.Timer
}

// NewBuffer creates a transcript buffer flushing into dir. exporter may be
// nil.
func NewBuffer(dir directory.Directory, exporter Exporter) *Buffer {
	return &Buffer{
		dir:      dir,
		exporter: exporter,
		interval: defaultFlushInterval,
		metrics:  metrics.DefaultMetrics,
		buffers:  make(map[string][]Fragment),
		timers:   make(map[string]*time.Timer),
	}
}

// Add enqueues a fragment and schedules a flush if none is pending. A
// fragment sharing a ProviderItemID with a buffered one replaces it.
func (b *Buffer) Add(frag Fragment) {
	b.mu.Lock()
	buf := b.buffers[frag.SessionID]
	replaced := false
	if frag.ProviderItemID != "" {
		for i := range buf {
			if buf[i].ProviderItemID == frag.ProviderItemID {
				buf[i] = frag
				replaced = true
				break
			}
		}
	}
	if !replaced {
		buf = append(buf, frag)
	}
	b.buffers[frag.SessionID] = buf

	if _, pending := b.timers[frag.SessionID]; !pending {
		sessionID := frag.SessionID
		b.timers[sessionID] = time.AfterFunc(b.interval, func() {
			b.mu.Lock()
			delete(b.timers, sessionID)
			b.mu.Unlock()
			b.flush(context.Background(), sessionID)
		})
	}
	b.mu.Unlock()

	b.metrics.RecordFragment(frag.Speaker)
}

// FlushNow cancels any scheduled flush and flushes immediately.
func (b *Buffer) FlushNow(ctx context.Context, sessionID string) {
	b.mu.Lock()
	if timer, ok := b.timers[sessionID]; ok {
		timer.Stop()
		delete(b.timers, sessionID)
	}
	b.mu.Unlock()
	b.flush(ctx, sessionID)
}

// Clear discards the buffer and any scheduled flush for a session.
func (b *Buffer) Clear(sessionID string) {
	b.mu.Lock()
	if timer, ok := b.timers[sessionID]; ok {
		timer.Stop()
		delete(b.timers, sessionID)
	}
	delete(b.buffers, sessionID)
	b.mu.Unlock()
}

// Len returns the number of buffered fragments for a session.
func (b *Buffer) Len(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers[sessionID])
}

// flush drains the session buffer and writes it out. A fragment arriving
// mid-flush lands in the next flush. Failed subsets are re-buffered; the
// failure is logged and never surfaced to callers.
func (b *Buffer) flush(ctx context.Context, sessionID string) {
	b.mu.Lock()
	buf := b.buffers[sessionID]
	if len(buf) == 0 {
		b.mu.Unlock()
		return
	}
	b.buffers[sessionID] = nil
	b.mu.Unlock()

	logger := logging.WithComponent("transcript")
	start := time.Now()

	var withID, withoutID []directory.TranscriptRow
	for _, f := range buf {
		row := directory.TranscriptRow{
			SessionID:      f.SessionID,
			Speaker:        f.Speaker,
			Content:        f.Content,
			TimestampMs:    f.TimestampMs,
			ProviderItemID: f.ProviderItemID,
		}
		if f.ProviderItemID != "" {
			withID = append(withID, row)
		} else {
			withoutID = append(withoutID, row)
		}
	}

	var flushErr error
	if len(withID) > 0 {
		if err := b.dir.UpsertTranscripts(ctx, withID); err != nil {
			logger.Error().Err(err).Str("sessionId", sessionID).Msg("Transcript upsert failed, re-buffering")
			b.rebuffer(sessionID, buf, true)
			flushErr = err
		}
	}
	if len(withoutID) > 0 {
		if err := b.dir.InsertTranscripts(ctx, withoutID); err != nil {
			logger.Error().Err(err).Str("sessionId", sessionID).Msg("Transcript insert failed, re-buffering")
			b.rebuffer(sessionID, buf, false)
			flushErr = err
		}
	}
	b.metrics.RecordFlush(flushErr, time.Since(start).Seconds())

	if b.exporter != nil && flushErr == nil {
		rows := append(append([]directory.TranscriptRow{}, withID...), withoutID...)
		if err := b.exporter.Publish(ctx, rows); err != nil {
			logger.Warn().Err(err).Str("sessionId", sessionID).Msg("Transcript export failed")
		}
	}
}

// rebuffer puts failed fragments back and schedules another attempt.
func (b *Buffer) rebuffer(sessionID string, buf []Fragment, withItemID bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range buf {
		if (f.ProviderItemID != "") == withItemID {
			b.buffers[sessionID] = append(b.buffers[sessionID], f)
		}
	}
	if _, pending := b.timers[sessionID]; !pending && len(b.buffers[sessionID]) > 0 {
		b.timers[sessionID] = time.AfterFunc(b.interval, func() {
			b.mu.Lock()
			delete(b.timers, sessionID)
			b.mu.Unlock()
			b.flush(context.Background(), sessionID)
		})
	}
}
