package usage

import (
	"context"
	"fmt"

	"github.com/vnmchuo/persona-parley/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_logs (
	id            BIGSERIAL PRIMARY KEY,
	job_id        TEXT NOT NULL,
	kind          TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd      DOUBLE PRECISION NOT NULL,
	latency_ms    BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type PostgresStore struct {
	db store.DB
}

func NewPostgresStore(db store.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return store.Migrate(ctx, s.db, schema)
}

func (s *PostgresStore) Record(ctx context.Context, e *Entry) error {
	query := `
		INSERT INTO usage_logs (job_id, kind, provider, model, input_tokens, output_tokens, cost_usd, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id::text, created_at
	`
	err := s.db.QueryRow(ctx, query,
		e.JobID, e.Kind, e.Provider, e.Model,
		e.InputTokens, e.OutputTokens, e.CostUSD, e.LatencyMs,
	).Scan(&e.ID, &e.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	return nil
}
