package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"interview-realtime-gateway/internal/observability/logging"
)

// PostgresDirectory implements Directory on top of a pgx connection pool.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the session directory database.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresDirectory, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect directory: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping directory: %w", err)
	}
	logger := logging.WithComponent("directory")
	logger.Info().Msg("Session directory connected")
	return &PostgresDirectory{pool: pool}, nil
}

// Close releases the connection pool.
func (d *PostgresDirectory) Close() {
	d.pool.Close()
}

func (d *PostgresDirectory) GetSessionAuth(ctx context.Context, sessionID string) (*SessionAuth, error) {
	var auth SessionAuth
	err := d.pool.QueryRow(ctx,
		`SELECT user_id, status FROM sessions WHERE id = $1`,
		sessionID,
	).Scan(&auth.UserID, &auth.Status)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session auth: %w", err)
	}
	return &auth, nil
}

func (d *PostgresDirectory) GetSessionContext(ctx context.Context, sessionID string) (*SessionContext, error) {
	var (
		sc         SessionContext
		title      *string
		desc       *string
		difficulty *string
		language   *string
		level      *string
		tier       *string
	)
	err := d.pool.QueryRow(ctx, `
		SELECT p.title, p.description, p.difficulty, s.language,
		       pr.experience_level, pr.subscription_tier
		FROM sessions s
		LEFT JOIN problems p ON p.id = s.problem_id
		LEFT JOIN profiles pr ON pr.id = s.user_id
		WHERE s.id = $1
	`, sessionID).Scan(&title, &desc, &difficulty, &language, &level, &tier)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session context: %w", err)
	}

	sc.ProblemTitle = orDefault(title, "Coding Problem")
	sc.ProblemDescription = orDefault(desc, "")
	sc.Difficulty = orDefault(difficulty, "medium")
	sc.Language = orDefault(language, "python")
	sc.ExperienceLevel = orDefault(level, "")
	sc.SubscriptionTier = normalizeTier(orDefault(tier, "free"))
	return &sc, nil
}

func (d *PostgresDirectory) MarkErrored(ctx context.Context, sessionID string) error {
	_, err := d.pool.Exec(ctx,
		`UPDATE sessions SET status = 'errored', updated_at = now() WHERE id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("mark session errored: %w", err)
	}
	return nil
}

func (d *PostgresDirectory) MarkCompleted(ctx context.Context, sessionID string, endedAt time.Time) error {
	// Duration computed from started_at; the status guard in the WHERE
	// clause keeps a concurrent end path from completing twice.
	tag, err := d.pool.Exec(ctx, `
		UPDATE sessions
		SET status = 'completed',
		    ended_at = $2,
		    duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($2 - started_at))::int),
		    updated_at = $2
		WHERE id = $1 AND status = 'active'
	`, sessionID, endedAt.UTC())
	if err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		logger := logging.WithComponent("directory")
		logger.Debug().
			Str("sessionId", sessionID).
			Msg("Session not active, completion skipped")
	}
	return nil
}

func (d *PostgresDirectory) InsertTranscripts(ctx context.Context, rows []TranscriptRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO transcripts (session_id, speaker, content, timestamp_ms)
			VALUES ($1, $2, $3, $4)
		`, r.SessionID, r.Speaker, r.Content, r.TimestampMs)
	}
	if err := d.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert transcripts: %w", err)
	}
	return nil
}

func (d *PostgresDirectory) UpsertTranscripts(ctx context.Context, rows []TranscriptRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO transcripts (session_id, speaker, content, timestamp_ms, provider_item_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (provider_item_id) DO NOTHING
		`, r.SessionID, r.Speaker, r.Content, r.TimestampMs, r.ProviderItemID)
	}
	if err := d.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert transcripts: %w", err)
	}
	return nil
}

func (d *PostgresDirectory) InsertCodeSnapshot(ctx context.Context, snap CodeSnapshot) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO code_snapshots (session_id, code, language, timestamp_ms, snapshot_type)
		VALUES ($1, $2, $3, $4, $5)
	`, snap.SessionID, snap.Code, snap.Language, snap.TimestampMs, snap.SnapshotType)
	if err != nil {
		return fmt.Errorf("insert code snapshot: %w", err)
	}
	return nil
}

func orDefault(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func normalizeTier(tier string) string {
	switch tier {
	case "pro", "enterprise":
		return tier
	default:
		return "free"
	}
}
