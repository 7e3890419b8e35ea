package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vnmchuo/persona-parley/internal/queue"
)

const (
	DefaultConcurrency  = 4
	DefaultReapInterval = 15 * time.Second

	receiveErrorBackoff = time.Second
)

type Handler interface {
	Handle(ctx context.Context, d *queue.Delivery) error
}

type RunnerConfig struct {
	Concurrency  int
	ReapInterval time.Duration
}

// Runner pulls deliveries off the queue with a fixed pool of workers and
// periodically returns expired leases to the queue.
type Runner struct {
	queue   queue.Queue
	reaper  queue.Reaper
	handler Handler
	logger  *logrus.Logger
	cfg     RunnerConfig
}

func NewRunner(q queue.Queue, reaper queue.Reaper, handler Handler, logger *logrus.Logger, cfg RunnerConfig) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		queue:   q,
		reaper:  reaper,
		handler: handler,
		logger:  logger,
		cfg:     cfg,
	}
}

// Run blocks until ctx is cancelled and every in-flight job has finished.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.WithFields(logrus.Fields{
		"workers":       r.cfg.Concurrency,
		"reap_interval": r.cfg.ReapInterval,
	}).Info("Worker pool starting")

	group, gctx := errgroup.WithContext(ctx)
	for i := range r.cfg.Concurrency {
		group.Go(func() error {
			r.work(gctx, i)
			return nil
		})
	}
	if r.reaper != nil {
		group.Go(func() error {
			r.reap(gctx)
			return nil
		})
	}

	err := group.Wait()
	r.logger.Info("Worker pool stopped")
	return err
}

func (r *Runner) work(ctx context.Context, id int) {
	log := r.logger.WithField("worker", id)
	for ctx.Err() == nil {
		d, err := r.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("Failed to receive job")
			if !sleep(ctx, receiveErrorBackoff) {
				return
			}
			continue
		}
		if err := r.handler.Handle(ctx, d); err != nil {
			log.WithError(err).Warn("Job left for redelivery")
		}
	}
}

func (r *Runner) reap(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		n, err := r.reaper.RequeueExpired(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			r.logger.WithError(err).Error("Failed to requeue expired leases")
		case n > 0:
			r.logger.WithField("count", n).Warn("Requeued jobs with expired leases")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
