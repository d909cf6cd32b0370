// Package directory provides the narrow interface to the relational
// session/problem/profile store. The gateway reads session context, updates
// session status, and persists transcript rows and code snapshots through it.
package directory

import (
	"context"
	"time"
)

// SessionAuth is the slice of a session row needed to authorize a connection.
type SessionAuth struct {
	UserID string
	Status string
}

// SessionContext holds everything needed to configure an interview session.
type SessionContext struct {
	ProblemTitle       string
	ProblemDescription string
	Difficulty         string
	Language           string
	ExperienceLevel    string
	SubscriptionTier   string
}

// TranscriptRow is a durable transcript fragment.
type TranscriptRow struct {
	SessionID      string
	Speaker        string
	Content        string
	TimestampMs    int64
	ProviderItemID string
}

// CodeSnapshot is a point-in-time capture of the candidate's editor.
type CodeSnapshot struct {
	SessionID    string
	Code         string
	Language     string
	TimestampMs  int64
	SnapshotType string
}

// Directory is the session directory abstraction. Implementations must be
// safe for concurrent use.
type Directory interface {
	// GetSessionAuth returns the owner and status of a session.
	GetSessionAuth(ctx context.Context, sessionID string) (*SessionAuth, error)

	// GetSessionContext returns problem, language and profile context for a
	// session.
	GetSessionContext(ctx context.Context, sessionID string) (*SessionContext, error)

	// MarkErrored transitions a session to errored.
	MarkErrored(ctx context.Context, sessionID string) error

	// MarkCompleted transitions a still-active session to completed with a
	// computed duration. Sessions in any other status are left untouched.
	MarkCompleted(ctx context.Context, sessionID string, endedAt time.Time) error

	// InsertTranscripts appends rows that carry no provider item id.
	InsertTranscripts(ctx context.Context, rows []TranscriptRow) error

	// UpsertTranscripts writes rows keyed by provider item id, ignoring
	// duplicates of already-stored items.
	UpsertTranscripts(ctx context.Context, rows []TranscriptRow) error

	// InsertCodeSnapshot persists an editor snapshot.
	InsertCodeSnapshot(ctx context.Context, snap CodeSnapshot) error
}
