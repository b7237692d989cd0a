package usecase

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"relay-ai/internal/domain"
	"relay-ai/internal/infra/tracer"
)

// In-place retry constants for transient provider failures.
const (
	maxAttemptTries = 2
	baseRetryDelay  = 500 * time.Millisecond
	maxRetryDelay   = 10 * time.Second
)

// retryBackoff computes exponential backoff with jitter.
func retryBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	// Add 0-25% jitter.
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

// ProviderLookup resolves a provider name to its chat backend.
type ProviderLookup interface {
	Get(name string) (domain.ChatProvider, error)
}

// TokenEstimator approximates token counts for cost accounting when a
// provider response omits usage.
type TokenEstimator interface {
	Estimate(text string) int
}

// OutcomeRecorder is the write side of the health registry, consumed by the
// dispatcher after every attempt.
type OutcomeRecorder interface {
	RecordOutcome(c domain.Candidate, latency time.Duration, success bool, cost float64)
}

// Dispatcher executes one chat turn over a selection chain: primary first,
// then each fallback in order. Attempts are strictly sequential; every
// attempt is recorded exactly once; the first success wins and ends the turn.
type Dispatcher struct {
	providers  ProviderLookup
	recorder   OutcomeRecorder
	estimator  TokenEstimator
	classifier *ErrorClassifier
	costs      map[string]float64 // candidate key → cost per kilo-token
	limiters   map[string]*rate.Limiter
	timeout    time.Duration // default per-attempt deadline
	bus        domain.EventBus
	logger     *slog.Logger
}

// NewDispatcher creates a dispatcher. costs maps candidate keys to cost per
// kilo-token; limiters (optional) throttle per provider name.
func NewDispatcher(
	providers ProviderLookup,
	recorder OutcomeRecorder,
	estimator TokenEstimator,
	costs map[string]float64,
	limiters map[string]*rate.Limiter,
	timeout time.Duration,
	bus domain.EventBus,
	logger *slog.Logger,
) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		providers:  providers,
		recorder:   recorder,
		estimator:  estimator,
		classifier: NewErrorClassifier(),
		costs:      costs,
		limiters:   limiters,
		timeout:    timeout,
		bus:        bus,
		logger:     logger,
	}
}

// Dispatch runs the selection chain for one request. The per-attempt deadline
// is sc.MaxResponseTime when set, else the configured default. Exceeding the
// deadline is treated identically to a remote failure: the next candidate is
// tried. When the chain is exhausted an ExhaustedError carrying the attempt
// count and last error is returned; the request is never silently dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, sc domain.SelectionContext, sel domain.Selection, req domain.ChatRequest) (domain.DispatchResult, error) {
	ctx, span := tracer.StartSpan(ctx, "dispatcher.dispatch")
	defer span.End()

	attemptTimeout := sc.MaxResponseTime
	if attemptTimeout <= 0 {
		attemptTimeout = d.timeout
	}

	chain := sel.Chain()
	attempts := 0
	var lastErr error

chain:
	for i, candidate := range chain {
		for try := 0; try < maxAttemptTries; try++ {
			resp, latency, err := d.attempt(ctx, candidate, req, attemptTimeout)
			attempts++

			cost := d.costOf(candidate, req, resp)
			d.recorder.RecordOutcome(candidate, latency, err == nil, cost)
			publishEvent(d.bus, ctx, domain.EventProviderOutcome, sc.ConversationID, map[string]any{
				"candidate":  candidate.Key(),
				"success":    err == nil,
				"latency_ms": latency.Milliseconds(),
				"cost":       cost,
				"attempt":    attempts,
			})

			if err == nil {
				span.SetAttributes(
					tracer.StringAttr("used_provider", candidate.Key()),
					tracer.IntAttr("attempts", attempts),
				)
				tracer.SetOK(span)
				return domain.DispatchResult{
					Response:     resp,
					UsedProvider: candidate,
					FallbackUsed: i > 0,
					Attempts:     attempts,
					Latency:      latency,
					Cost:         cost,
				}, nil
			}

			lastErr = err
			d.logger.Warn("provider attempt failed",
				"candidate", candidate.Key(),
				"attempt", attempts,
				"error", err,
			)
			if ctx.Err() != nil {
				// Caller context gone: no point walking the rest of the chain.
				break chain
			}

			// A timed-out candidate already consumed its full deadline;
			// retrying it in place would double the worst-case latency, so
			// it yields to the fallback straight away.
			classified := d.classifier.Classify(err)
			if classified.Category != ErrorCategoryRetryable ||
				errors.Is(err, domain.ErrProviderTimeout) {
				continue chain
			}
			if try < maxAttemptTries-1 {
				delay := retryBackoff(try)
				d.logger.Info("retrying provider after transient error",
					"candidate", candidate.Key(), "delay", delay, "error", err)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					break chain
				}
			}
		}
	}

	err := &domain.ExhaustedError{Attempts: attempts, LastErr: lastErr}
	tracer.RecordError(span, err)
	return domain.DispatchResult{Attempts: attempts}, err
}

// attempt performs a single provider call under its own deadline.
func (d *Dispatcher) attempt(ctx context.Context, candidate domain.Candidate, req domain.ChatRequest, timeout time.Duration) (*domain.ChatResponse, time.Duration, error) {
	provider, err := d.providers.Get(candidate.Provider)
	if err != nil {
		return nil, 0, domain.WrapOp("dispatch", err)
	}

	if lim := d.limiters[candidate.Provider]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, 0, domain.WrapOp("rate limit", err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attemptReq := req
	attemptReq.Model = candidate.Model

	start := time.Now()
	resp, err := provider.Chat(attemptCtx, attemptReq)
	latency := time.Since(start)

	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, latency, domain.NewDomainError("dispatch", domain.ErrProviderTimeout, candidate.Key())
		}
		return nil, latency, err
	}
	if resp == nil || resp.Message.Content == "" {
		return nil, latency, domain.NewDomainError("dispatch", domain.ErrMalformedResponse, candidate.Key())
	}
	return resp, latency, nil
}

// costOf computes the attempt's cost estimate from reported usage, falling
// back to estimated prompt tokens when the provider omits usage (or failed).
func (d *Dispatcher) costOf(candidate domain.Candidate, req domain.ChatRequest, resp *domain.ChatResponse) float64 {
	perKilo := d.costs[candidate.Key()]
	if perKilo == 0 {
		return 0
	}

	tokens := 0
	if resp != nil && resp.Usage.TotalTokens > 0 {
		tokens = resp.Usage.TotalTokens
	} else if d.estimator != nil {
		for _, m := range req.Messages {
			tokens += d.estimator.Estimate(m.Content)
		}
	}
	return float64(tokens) / 1000.0 * perKilo
}
