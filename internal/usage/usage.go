// Package usage records token and cost accounting for provider calls.
package usage

import (
	"context"
	"time"
)

type Entry struct {
	ID           string
	JobID        string
	Kind         string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LatencyMs    int64
	CreatedAt    time.Time
}

type Store interface {
	Record(ctx context.Context, e *Entry) error
}
