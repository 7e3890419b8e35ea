// Package store is the Result Store: the terminal record of every job,
// keyed by job id.
package store

import (
	"context"
	"errors"

	"github.com/vnmchuo/persona-parley/internal/job"
)

var (
	ErrNotFound    = errors.New("result not found")
	ErrUnavailable = errors.New("result store unavailable")
)

// Store holds one record per job id. Put is an unconditional upsert, so a
// redelivered job simply overwrites its earlier result. A Get after a
// confirmed Put for the same id observes that Put.
type Store interface {
	Put(ctx context.Context, rec *job.Record) error
	Get(ctx context.Context, jobID string) (*job.Record, error)
}
