// Package deadletter persists documents that permanently failed submission,
// keyed by idempotency key, so a later operator pass can inspect or replay
// them. It backs the submitter's FailureSink.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lifearchive/enrichment-pipeline/internal/submit"
	"github.com/lifearchive/enrichment-pipeline/pkg/logger"
	"github.com/lifearchive/enrichment-pipeline/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	idempotency_key TEXT PRIMARY KEY,
	source_type     TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	payload         JSONB NOT NULL,
	reason          TEXT NOT NULL,
	attempts        INT NOT NULL DEFAULT 1,
	first_seen_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_seen_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Store is the PostgreSQL-backed dead-letter store.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New creates a Store over the given database client.
func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: logger.WithComponent("dead-letter-store"),
	}
}

// EnsureSchema creates the dead_letters table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating dead_letters table: %w", err)
	}
	return nil
}

// Record upserts a permanently failed document. A repeated failure for the
// same content bumps the attempt counter instead of inserting a new row.
func (s *Store) Record(ctx context.Context, p submit.Payload, reason string) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding dead-letter payload: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx, `
		INSERT INTO dead_letters (idempotency_key, source_type, external_id, payload, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET reason = EXCLUDED.reason,
		    attempts = dead_letters.attempts + 1,
		    last_seen_at = NOW()`,
		p.IdempotencyKey, p.SourceType, p.ExternalID, payload, reason,
	)
	if err != nil {
		return fmt.Errorf("recording dead letter for %s/%s: %w", p.SourceType, p.ExternalID, err)
	}
	s.logger.Warn("document dead-lettered",
		"source_type", p.SourceType,
		"external_id", p.ExternalID,
		"reason", reason,
	)
	return nil
}

// Count returns the number of dead-lettered documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting dead letters: %w", err)
	}
	return n, nil
}
