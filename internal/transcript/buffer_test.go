package transcript

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"interview-realtime-gateway/internal/directory"
)

type recordingDirectory struct {
	directory.Disabled

	mu         sync.Mutex
	inserted   []directory.TranscriptRow
	upserted   []directory.TranscriptRow
	insertErr  error
	upsertErr  error
	insertCall int
	upsertCall int
}

func (r *recordingDirectory) InsertTranscripts(ctx context.Context, rows []directory.TranscriptRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertCall++
	if r.insertErr != nil {
		return r.insertErr
	}
	r.inserted = append(r.inserted, rows...)
	return nil
}

func (r *recordingDirectory) UpsertTranscripts(ctx context.Context, rows []directory.TranscriptRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertCall++
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.upserted = append(r.upserted, rows...)
	return nil
}

const sessionID = "session-1"

func TestBuffer_FlushSplitsByItemID(t *testing.T) {
	dir := &recordingDirectory{}
	b := NewBuffer(dir, nil)

	b.Add(Fragment{SessionID: sessionID, Speaker: SpeakerCandidate, Content: "Hello", TimestampMs: 1000})
	b.Add(Fragment{SessionID: sessionID, Speaker: SpeakerInterviewer, Content: "Hi there", TimestampMs: 2000, ProviderItemID: "item-1"})

	b.FlushNow(context.Background(), sessionID)

	if len(dir.inserted) != 1 || dir.inserted[0].Content != "Hello" {
		t.Errorf("unexpected inserted rows: %+v", dir.inserted)
	}
	if len(dir.upserted) != 1 || dir.upserted[0].ProviderItemID != "item-1" {
		t.Errorf("unexpected upserted rows: %+v", dir.upserted)
	}
	if b.Len(sessionID) != 0 {
		t.Errorf("expected empty buffer after flush, got %d", b.Len(sessionID))
	}
}

func TestBuffer_SharedItemIDReplaces(t *testing.T) {
	dir := &recordingDirectory{}
	b := NewBuffer(dir, nil)

	b.Add(Fragment{SessionID: sessionID, Speaker: SpeakerCandidate, Content: "First", TimestampMs: 1000, ProviderItemID: "item-1"})
	b.Add(Fragment{SessionID: sessionID, Speaker: SpeakerCandidate, Content: "Updated", TimestampMs: 1500, ProviderItemID: "item-1"})

	b.FlushNow(context.Background(), sessionID)

	if len(dir.upserted) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(dir.upserted))
	}
	if dir.upserted[0].Content != "Updated" {
		t.Errorf("expected later fragment to win, got %q", dir.upserted[0].Content)
	}
}

func TestBuffer_FailedFlushRebuffers(t *testing.T) {
	dir := &recordingDirectory{insertErr: errors.New("directory down")}
	b := NewBuffer(dir, nil)

	b.Add(Fragment{SessionID: sessionID, Speaker: SpeakerCandidate, Content: "Hello", TimestampMs: 1000})
	b.FlushNow(context.Background(), sessionID)

	if b.Len(sessionID) != 1 {
		t.Fatalf("expected fragment re-buffered, got %d", b.Len(sessionID))
	}

	// Recovery: next flush drains it.
	dir.mu.Lock()
	dir.insertErr = nil
	dir.mu.Unlock()
	b.FlushNow(context.Background(), sessionID)
	if len(dir.inserted) != 1 {
		t.Errorf("expected row persisted on retry, got %d", len(dir.inserted))
	}
	if b.Len(sessionID) != 0 {
		t.Errorf("expected empty buffer after retry, got %d", b.Len(sessionID))
	}
}

func TestBuffer_ClearDiscardsRegardlessOfFlushOutcome(t *testing.T) {
	dir := &recordingDirectory{insertErr: errors.New("directory down")}
	b := NewBuffer(dir, nil)

	b.Add(Fragment{SessionID: sessionID, Speaker: SpeakerCandidate, Content: "Hello", TimestampMs: 1000})
	b.FlushNow(context.Background(), sessionID)
	b.Clear(sessionID)

	if b.Len(sessionID) != 0 {
		t.Errorf("expected cleared buffer, got %d fragments", b.Len(sessionID))
	}
}

func TestBuffer_ScheduledFlush(t *testing.T) {
	dir := &recordingDirectory{}
	b := NewBuffer(dir, nil)
	b.interval = 10 * time.Millisecond

	b.Add(Fragment{SessionID: sessionID, Speaker: SpeakerCandidate, Content: "Hello", TimestampMs: 1000})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dir.mu.Lock()
		n := len(dir.inserted)
		dir.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("scheduled flush never ran")
}

func TestBuffer_SessionsAreIndependent(t *testing.T) {
	dir := &recordingDirectory{}
	b := NewBuffer(dir, nil)

	b.Add(Fragment{SessionID: "a", Speaker: SpeakerCandidate, Content: "one", TimestampMs: 1})
	b.Add(Fragment{SessionID: "b", Speaker: SpeakerCandidate, Content: "two", TimestampMs: 2})

	b.FlushNow(context.Background(), "a")

	if len(dir.inserted) != 1 || dir.inserted[0].SessionID != "a" {
		t.Errorf("unexpected rows: %+v", dir.inserted)
	}
	if b.Len("b") != 1 {
		t.Errorf("expected session b untouched, got %d", b.Len("b"))
	}
}

type recordingExporter struct {
	mu   sync.Mutex
	rows []directory.TranscriptRow
}

func (r *recordingExporter) Publish(ctx context.Context, rows []directory.TranscriptRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, rows...)
	return nil
}

func TestBuffer_MirrorsToExporter(t *testing.T) {
	dir := &recordingDirectory{}
	exp := &recordingExporter{}
	b := NewBuffer(dir, exp)

	b.Add(Fragment{SessionID: sessionID, Speaker: SpeakerCandidate, Content: "Hello", TimestampMs: 1000})
	b.FlushNow(context.Background(), sessionID)

	if len(exp.rows) != 1 || exp.rows[0].Content != "Hello" {
		t.Errorf("expected mirrored row, got %+v", exp.rows)
	}
}
