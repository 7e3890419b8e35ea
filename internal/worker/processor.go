package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/persona-parley/internal/job"
	"github.com/vnmchuo/persona-parley/internal/prompt"
	"github.com/vnmchuo/persona-parley/internal/provider"
	"github.com/vnmchuo/persona-parley/internal/queue"
	"github.com/vnmchuo/persona-parley/internal/store"
	"github.com/vnmchuo/persona-parley/internal/usage"
)

const (
	DefaultMaxAttempts  = 2
	DefaultRetryBackoff = time.Second
	DefaultJobTimeout   = 5 * time.Minute

	storeTimeout = 10 * time.Second
	usageTimeout = 5 * time.Second
)

type Generator interface {
	Generate(ctx context.Context, req *provider.Request) (*provider.Response, error)
}

type Acker interface {
	Ack(ctx context.Context, receipt string) error
}

// Notifier is told about every record once it is stored.
type Notifier interface {
	JobFinished(rec *job.Record)
}

type Config struct {
	// MaxAttempts bounds provider calls per model request, first try included.
	MaxAttempts  int
	RetryBackoff time.Duration
	JobTimeout   time.Duration
	Prompt       prompt.Settings
}

type Option func(*Processor)

func WithUsage(s usage.Store) Option {
	return func(p *Processor) { p.usage = s }
}

func WithNotifier(n Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

func WithLogger(l *logrus.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Processor) { p.tracer = t }
}

// Processor takes one delivery from receipt to acknowledgement: decode,
// run the job, write its terminal record, then ack. The ack only happens
// after the write is confirmed.
type Processor struct {
	generator Generator
	results   store.Store
	acker     Acker
	usage     usage.Store
	notifier  Notifier
	logger    *logrus.Logger
	tracer    trace.Tracer
	cfg       Config
	handlers  map[job.Kind]kindHandler
}

// kindHandler runs one job kind and returns its success payload.
type kindHandler func(ctx context.Context, j *job.Job, attempts *int) (any, error)

func NewProcessor(gen Generator, results store.Store, acker Acker, cfg Config, opts ...Option) *Processor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}

	p := &Processor{
		generator: gen,
		results:   results,
		acker:     acker,
		logger:    logrus.StandardLogger(),
		tracer:    otel.Tracer("persona-parley/worker"),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.handlers = map[job.Kind]kindHandler{
		job.KindPersonas:    p.personas,
		job.KindSuggestions: p.suggestions,
		job.KindDebateTurn:  p.debateTurn,
	}
	return p
}

// Handle processes one delivery. It returns an error when the message was
// left unacknowledged; the queue will redeliver it once the lease runs out.
func (p *Processor) Handle(ctx context.Context, d *queue.Delivery) error {
	var rec *job.Record

	j, err := job.Decode(d.Body)
	if err != nil {
		id, kind := job.PeekID(d.Body)
		if id == "" {
			p.logger.WithError(err).WithField("receipt", d.Receipt).Error("Dropping message without a job id")
			return p.ack(ctx, d, "")
		}
		p.logger.WithError(err).WithFields(logrus.Fields{
			"job_id": id,
			"kind":   kind,
		}).Warn("Rejecting invalid job")
		rec = job.FailedRecord(id, kind, err, 0)
	} else {
		// A job already handed to the model runs to completion even when
		// the worker is shutting down; only the job timeout stops it.
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.JobTimeout)
		rec = p.Execute(runCtx, j)
		cancel()
	}

	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := p.results.Put(putCtx, rec); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"job_id": rec.JobID,
			"status": rec.Status,
		}).Error("Failed to store result, leaving message for redelivery")
		return fmt.Errorf("store result for job %s: %w", rec.JobID, err)
	}
	if p.notifier != nil {
		p.notifier.JobFinished(rec)
	}

	return p.ack(putCtx, d, rec.JobID)
}

func (p *Processor) ack(ctx context.Context, d *queue.Delivery, jobID string) error {
	err := p.acker.Ack(ctx, d.Receipt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, queue.ErrLeaseExpired):
		// The message went back to the queue before we finished. The next
		// delivery will overwrite the same record.
		p.logger.WithFields(logrus.Fields{
			"job_id":  jobID,
			"receipt": d.Receipt,
		}).Warn("Lease expired before ack")
		return nil
	default:
		p.logger.WithError(err).WithField("job_id", jobID).Error("Failed to ack message")
		return fmt.Errorf("ack job %s: %w", jobID, err)
	}
}

// Execute runs a decoded job and returns its terminal record. It never
// returns a pending record.
func (p *Processor) Execute(ctx context.Context, j *job.Job) *job.Record {
	ctx, span := p.tracer.Start(ctx, "jobs.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", j.ID),
		attribute.String("kind", string(j.Kind())),
	)

	log := p.logger.WithFields(logrus.Fields{
		"job_id": j.ID,
		"kind":   j.Kind(),
	})
	log.Info("Processing job")

	start := time.Now()
	attempts := 0
	rec, err := p.run(ctx, j, &attempts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		rec = job.FailedRecord(j.ID, j.Kind(), err, attempts)
		log.WithError(err).WithFields(logrus.Fields{
			"attempts":   attempts,
			"error_kind": rec.ErrorKind,
		}).Error("Job failed")
		return rec
	}

	log.WithFields(logrus.Fields{
		"attempts":    attempts,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Job completed")
	return rec
}

func (p *Processor) run(ctx context.Context, j *job.Job, attempts *int) (*job.Record, error) {
	handler, ok := p.handlers[j.Kind()]
	if !ok {
		return nil, job.NewValidationError("kind", fmt.Sprintf("unknown job kind %q", j.Kind()))
	}
	result, err := handler(ctx, j, attempts)
	if err != nil {
		return nil, err
	}
	return job.CompletedRecord(j.ID, j.Kind(), result, *attempts)
}

func (p *Processor) personas(ctx context.Context, j *job.Job, attempts *int) (any, error) {
	payload, ok := j.Payload.(*job.PersonasPayload)
	if !ok {
		return nil, payloadMismatch(j)
	}
	resp, err := p.generate(ctx, j, prompt.Personas(j.ID, payload, p.cfg.Prompt), attempts)
	if err != nil {
		return nil, err
	}
	personas, err := prompt.ParsePersonas(resp.Content)
	if err != nil {
		return nil, err
	}
	return append([]job.Persona{job.AllPersona}, personas...), nil
}

func (p *Processor) suggestions(ctx context.Context, j *job.Job, attempts *int) (any, error) {
	payload, ok := j.Payload.(*job.SuggestionsPayload)
	if !ok {
		return nil, payloadMismatch(j)
	}
	resp, err := p.generate(ctx, j, prompt.Suggestions(j.ID, payload, p.cfg.Prompt), attempts)
	if err != nil {
		return nil, err
	}
	return prompt.ParseSuggestions(resp.Content)
}

// debateTurn answers as one persona, or as every persona in order when the
// speaker is "all". Each later speaker sees the replies given before it in
// the same turn.
func (p *Processor) debateTurn(ctx context.Context, j *job.Job, attempts *int) (any, error) {
	payload, ok := j.Payload.(*job.DebateTurnPayload)
	if !ok {
		return nil, payloadMismatch(j)
	}
	speakers := payload.Speakers()
	if len(speakers) == 0 {
		return nil, job.NewValidationError("speaker_id", fmt.Sprintf("no persona answers to %q", payload.SpeakerID))
	}

	replies := make([]job.DebateReply, 0, len(speakers))
	for _, speaker := range speakers {
		p.logger.WithFields(logrus.Fields{
			"job_id":  j.ID,
			"speaker": speaker.ID,
			"path":    prompt.TurnPath(payload, replies),
		}).Debug("Building debate prompt")
		req := prompt.DebateTurn(j.ID, payload, speaker, replies, p.cfg.Prompt)
		resp, err := p.generate(ctx, j, req, attempts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", speaker.Name, err)
		}
		text := strings.TrimSpace(resp.Content)
		if text == "" {
			return nil, &job.MalformedOutputError{Kind: job.KindDebateTurn, Err: fmt.Errorf("empty reply from %s", speaker.Name)}
		}
		replies = append(replies, job.DebateReply{Persona: speaker, Response: text})
	}

	if payload.SpeakerID != job.AllPersonaID {
		return replies[0], nil
	}
	return replies, nil
}

// generate calls the model, retrying transient failures up to MaxAttempts
// calls in total. attempts counts every call made.
func (p *Processor) generate(ctx context.Context, j *job.Job, req *provider.Request, attempts *int) (*provider.Response, error) {
	var lastErr error
	operation := func() (*provider.Response, error) {
		*attempts++
		resp, err := p.generator.Generate(ctx, req)
		if err == nil {
			p.recordUsage(ctx, j, resp)
			return resp, nil
		}
		if !provider.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		p.logger.WithError(err).WithFields(logrus.Fields{
			"job_id":  j.ID,
			"attempt": *attempts,
		}).Warn("Transient provider error")
		lastErr = err
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryBackoff
	b.MaxInterval = 30 * time.Second

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(p.cfg.JobTimeout),
	)
	// Retry reports only the context error when the job times out during a
	// backoff wait.
	if err != nil && ctx.Err() != nil && lastErr != nil && !errors.Is(err, lastErr) {
		return nil, fmt.Errorf("%w (last provider error: %w)", err, lastErr)
	}
	return resp, err
}

// recordUsage is best effort; accounting never fails a job.
func (p *Processor) recordUsage(ctx context.Context, j *job.Job, resp *provider.Response) {
	if p.usage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageTimeout)
	defer cancel()

	err := p.usage.Record(ctx, &usage.Entry{
		JobID:        j.ID,
		Kind:         string(j.Kind()),
		Provider:     resp.Provider,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      resp.CostUSD,
		LatencyMs:    resp.LatencyMs,
	})
	if err != nil {
		p.logger.WithError(err).WithField("job_id", j.ID).Warn("Failed to record usage")
	}
}

func payloadMismatch(j *job.Job) error {
	return job.NewValidationError("payload", fmt.Sprintf("payload %T does not match kind %q", j.Payload, j.Kind()))
}
