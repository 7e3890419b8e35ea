package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/persona-parley/internal/job"
)

type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error {
	return r.scanFunc(dest...)
}

type fakeDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.queryRowFunc(ctx, sql, args...)
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.execFunc(ctx, sql, args...)
}

func TestPostgresStore_PutCompleted(t *testing.T) {
	var gotArgs []any
	var gotSQL string
	db := &fakeDB{execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		gotSQL = sql
		gotArgs = args
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}}

	rec, err := job.CompletedRecord("job-1", job.KindSuggestions, []string{"a"}, 1)
	require.NoError(t, err)

	require.NoError(t, NewPostgresStore(db).Put(context.Background(), rec))

	assert.Contains(t, gotSQL, "ON CONFLICT (job_id) DO UPDATE")
	require.Len(t, gotArgs, 8)
	assert.Equal(t, "job-1", gotArgs[0])
	assert.Equal(t, "suggestions", gotArgs[1])
	assert.Equal(t, "completed", gotArgs[2])
	assert.JSONEq(t, `["a"]`, string(gotArgs[3].([]byte)))
	assert.Nil(t, gotArgs[4])
	assert.Nil(t, gotArgs[5])
	assert.Equal(t, 1, gotArgs[6])
}

func TestPostgresStore_PutFailed(t *testing.T) {
	var gotArgs []any
	db := &fakeDB{execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		gotArgs = args
		return pgconn.CommandTag{}, nil
	}}

	rec := job.FailedRecord("job-1", job.KindPersonas, errors.New("boom"), 2)
	require.NoError(t, NewPostgresStore(db).Put(context.Background(), rec))

	assert.Nil(t, gotArgs[3])
	assert.Equal(t, "boom", *gotArgs[4].(*string))
	assert.Equal(t, string(job.ErrorKindProviderPermanent), *gotArgs[5].(*string))
}

func TestPostgresStore_PutRejectsInvalidRecord(t *testing.T) {
	db := &fakeDB{execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		t.Fatal("invalid record must not reach the database")
		return pgconn.CommandTag{}, nil
	}}

	err := NewPostgresStore(db).Put(context.Background(), &job.Record{JobID: "job-1", Status: job.StatusPending})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestPostgresStore_PutUnavailable(t *testing.T) {
	db := &fakeDB{execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("connection refused")
	}}

	rec := job.FailedRecord("job-1", job.KindPersonas, errors.New("boom"), 1)
	err := NewPostgresStore(db).Put(context.Background(), rec)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPostgresStore_Get(t *testing.T) {
	updated := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeDB{queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
		assert.Equal(t, "job-1", args[0])
		return &fakeRow{scanFunc: func(dest ...any) error {
			*dest[0].(*string) = "job-1"
			*dest[1].(*string) = "personas"
			*dest[2].(*string) = "completed"
			*dest[3].(*[]byte) = []byte(`[{"id":"all"}]`)
			*dest[6].(*int) = 1
			*dest[7].(*time.Time) = updated
			return nil
		}}
	}}

	rec, err := NewPostgresStore(db).Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, rec.Status)
	assert.Equal(t, job.KindPersonas, rec.Kind)
	assert.Equal(t, json.RawMessage(`[{"id":"all"}]`), rec.Response)
	assert.Empty(t, rec.Error)
	assert.Equal(t, updated, rec.UpdatedAt)
}

func TestPostgresStore_GetFailedRecord(t *testing.T) {
	db := &fakeDB{queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
		return &fakeRow{scanFunc: func(dest ...any) error {
			msg, kind := "model said no", "provider_permanent"
			*dest[0].(*string) = "job-1"
			*dest[2].(*string) = "failed"
			*dest[4].(**string) = &msg
			*dest[5].(**string) = &kind
			return nil
		}}
	}}

	rec, err := NewPostgresStore(db).Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, rec.Status)
	assert.Equal(t, "model said no", rec.Error)
	assert.Equal(t, job.ErrorKindProviderPermanent, rec.ErrorKind)
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	db := &fakeDB{queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
		return &fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
	}}

	_, err := NewPostgresStore(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_GetUnavailable(t *testing.T) {
	db := &fakeDB{queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
		return &fakeRow{scanFunc: func(dest ...any) error { return errors.New("timeout") }}
	}}

	_, err := NewPostgresStore(db).Get(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestMigrate_ToleratesConcurrentCreate(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"ok", nil, false},
		{"unique violation", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, false},
		{"duplicate table", &pgconn.PgError{Code: pgerrcode.DuplicateTable}, false},
		{"syntax error", &pgconn.PgError{Code: pgerrcode.SyntaxError}, true},
		{"connection", errors.New("dial tcp: refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
				assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS job_results")
				return pgconn.CommandTag{}, tt.err
			}}
			err := NewPostgresStore(db).Migrate(context.Background())
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnavailable)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
