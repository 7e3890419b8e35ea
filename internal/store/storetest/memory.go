// Package storetest provides an in-memory Store for tests.
package storetest

import (
	"context"
	"sync"

	"github.com/vnmchuo/persona-parley/internal/job"
	"github.com/vnmchuo/persona-parley/internal/store"
)

type Memory struct {
	mu      sync.Mutex
	records map[string]job.Record
	puts    int
	putErr  error
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]job.Record)}
}

func (m *Memory) Put(ctx context.Context, rec *job.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.records[rec.JobID] = *rec
	m.puts++
	return nil
}

func (m *Memory) Get(ctx context.Context, jobID string) (*job.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

// Puts counts successful writes.
func (m *Memory) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// SetPutErr makes every later Put fail with err until it is reset to nil.
func (m *Memory) SetPutErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putErr = err
}
