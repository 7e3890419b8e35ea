package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const routerName = "router"

// Client is the model client used by the worker. It picks a provider for
// each request and calls it through a per-provider circuit breaker. It does
// not retry; retry policy belongs to the caller.
type Client struct {
	providers []Provider
	breakers  map[string]*gobreaker.CircuitBreaker
	tracer    trace.Tracer
}

func NewClient(providers []Provider, tracer trace.Tracer) *Client {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, p := range providers {
		settings := gobreaker.Settings{
			Name:        p.Name(),
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			// A rejected prompt says nothing about the provider's health.
			IsSuccessful: func(err error) bool {
				return err == nil || !IsTransient(err)
			},
		}
		breakers[p.Name()] = gobreaker.NewCircuitBreaker(settings)
	}
	return &Client{
		providers: providers,
		breakers:  breakers,
		tracer:    tracer,
	}
}

// Route picks the provider for req: the first healthy provider serving
// req.Model, or the cheapest healthy provider when no model is set.
func (c *Client) Route(req *Request) (Provider, error) {
	var candidates []Provider
	supported := 0
	for _, p := range c.providers {
		if req.Model != "" && !supports(p, req.Model) {
			continue
		}
		supported++
		if c.breakers[p.Name()].State() == gobreaker.StateOpen {
			continue
		}
		candidates = append(candidates, p)
	}

	if supported == 0 {
		return nil, &Error{Provider: routerName, Err: fmt.Errorf("no provider configured for model %q", req.Model)}
	}
	if len(candidates) == 0 {
		return nil, &Error{Provider: routerName, Transient: true, Err: errors.New("all providers unavailable")}
	}

	if req.Model != "" {
		return candidates[0], nil
	}

	best := candidates[0]
	for _, p := range candidates[1:] {
		if p.CostPerInputToken() < best.CostPerInputToken() {
			best = p
		}
	}
	return best, nil
}

// Generate sends the prompt messages to a provider and returns its answer.
func (c *Client) Generate(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "provider.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", req.JobID),
		attribute.String("model", req.Model),
	)

	p, err := c.Route(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("provider", p.Name()))

	start := time.Now()
	result, err := c.breakers[p.Name()].Execute(func() (interface{}, error) {
		return p.Complete(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &Error{Provider: p.Name(), Transient: true, Err: err}
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp := result.(*Response)
	resp.LatencyMs = time.Since(start).Milliseconds()
	resp.CostUSD = float64(resp.InputTokens)*p.CostPerInputToken() + float64(resp.OutputTokens)*p.CostPerOutputToken()
	span.SetAttributes(
		attribute.Int("input_tokens", resp.InputTokens),
		attribute.Int("output_tokens", resp.OutputTokens),
	)
	return resp, nil
}

func supports(p Provider, model string) bool {
	for _, m := range p.SupportedModels() {
		if m == model {
			return true
		}
	}
	return false
}
