package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vnmchuo/persona-parley/internal/job"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS job_results (
	job_id     TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL,
	response   JSONB,
	error      TEXT,
	error_kind TEXT,
	attempts   INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT job_results_outcome CHECK (
		(status = 'completed' AND response IS NOT NULL AND error IS NULL) OR
		(status = 'failed' AND error IS NOT NULL AND response IS NULL)
	)
)`

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the results table. Several processes may start at once,
// and concurrent CREATE TABLE IF NOT EXISTS can still collide in the
// catalog, so those collisions count as success.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db, schema)
}

func (s *PostgresStore) Put(ctx context.Context, rec *job.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO job_results (job_id, kind, status, response, error, error_kind, attempts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			status = EXCLUDED.status,
			response = EXCLUDED.response,
			error = EXCLUDED.error,
			error_kind = EXCLUDED.error_kind,
			attempts = EXCLUDED.attempts,
			updated_at = EXCLUDED.updated_at
	`
	var response []byte
	if len(rec.Response) > 0 {
		response = rec.Response
	}
	_, err := s.db.Exec(ctx, query,
		rec.JobID, string(rec.Kind), string(rec.Status), response,
		nullable(rec.Error), nullable(string(rec.ErrorKind)), rec.Attempts, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: put %s: %w", ErrUnavailable, rec.JobID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*job.Record, error) {
	query := `
		SELECT job_id, kind, status, response, error, error_kind, attempts, updated_at
		FROM job_results
		WHERE job_id = $1
	`
	var (
		rec       job.Record
		kind      string
		status    string
		response  []byte
		errMsg    *string
		errorKind *string
	)
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&rec.JobID, &kind, &status, &response, &errMsg, &errorKind, &rec.Attempts, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrUnavailable, jobID, err)
	}

	rec.Kind = job.Kind(kind)
	rec.Status = job.Status(status)
	rec.Response = response
	if errMsg != nil {
		rec.Error = *errMsg
	}
	if errorKind != nil {
		rec.ErrorKind = job.ErrorKind(*errorKind)
	}
	return &rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Migrate runs DDL, treating catalog collisions from a concurrent bootstrap
// as success.
func Migrate(ctx context.Context, db DB, ddl string) error {
	if _, err := db.Exec(ctx, ddl); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation, pgerrcode.DuplicateTable, pgerrcode.DuplicateObject:
				return nil
			}
		}
		return fmt.Errorf("%w: migrate: %w", ErrUnavailable, err)
	}
	return nil
}
