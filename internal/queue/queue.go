// Package queue is the work queue between the API and the workers. Delivery
// is at least once: a received message is leased, and if it is not acked
// before the lease runs out it becomes visible again.
package queue

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the queue could not confirm the operation.
	ErrUnavailable = errors.New("queue unavailable")
	// ErrLeaseExpired means the lease behind a receipt is gone, either acked
	// already or handed back to the queue for redelivery.
	ErrLeaseExpired = errors.New("lease expired")
)

// Delivery is one leased copy of a message.
type Delivery struct {
	Receipt string
	Body    []byte
}

type Queue interface {
	// Enqueue either stores the message or returns an error; there is no
	// partial enqueue.
	Enqueue(ctx context.Context, body []byte) error
	// Receive blocks until a message is leased or ctx is done.
	Receive(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, receipt string) error
}

// Reaper returns messages whose lease ran out to the queue.
type Reaper interface {
	RequeueExpired(ctx context.Context) (int, error)
}
