package directory

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Disabled is a no-op Directory for running without a configured database.
// Reads return nothing; writes are logged and discarded.
type Disabled struct{}

// NewDisabled creates a log-only directory.
func NewDisabled() *Disabled {
	log.Info().Msg("Session directory disabled, using log-only mode")
	return &Disabled{}
}

func (*Disabled) GetSessionAuth(ctx context.Context, sessionID string) (*SessionAuth, error) {
	return nil, nil
}

func (*Disabled) GetSessionContext(ctx context.Context, sessionID string) (*SessionContext, error) {
	return nil, nil
}

func (*Disabled) MarkErrored(ctx context.Context, sessionID string) error {
	return nil
}

func (*Disabled) MarkCompleted(ctx context.Context, sessionID string, endedAt time.Time) error {
	return nil
}

func (*Disabled) InsertTranscripts(ctx context.Context, rows []TranscriptRow) error {
	log.Debug().Int("rows", len(rows)).Msg("Directory disabled, dropping transcript rows")
	return nil
}

func (*Disabled) UpsertTranscripts(ctx context.Context, rows []TranscriptRow) error {
	log.Debug().Int("rows", len(rows)).Msg("Directory disabled, dropping transcript rows")
	return nil
}

func (*Disabled) InsertCodeSnapshot(ctx context.Context, snap CodeSnapshot) error {
	return nil
}
