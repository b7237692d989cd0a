package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"relay-ai/internal/domain"
)

// defaultWindowSize is the number of recent outcomes considered for health
// classification when no explicit size is given.
const defaultWindowSize = 20

// MetricsReader is the read side of the health registry, consumed by the selector.
type MetricsReader interface {
	Metrics(c domain.Candidate) domain.ProviderMetrics
}

// HealthRegistry tracks rolling per-candidate statistics: latency, success
// rate, cost, quality, last-used time, and a health status derived from a
// fixed-size window of recent outcomes. Each candidate's metrics are
// independent; there is no cross-candidate locking.
type HealthRegistry struct {
	windowSize int
	mu         sync.RWMutex
	entries    map[string]*metricEntry
	bus        domain.EventBus
	logger     *slog.Logger
}

type metricEntry struct {
	mu        sync.Mutex
	candidate domain.Candidate

	// Ring buffer of recent outcomes; true = success.
	window []bool
	head   int
	filled int

	successCount uint64
	failureCount uint64
	totalCost    float64
	avgLatency   time.Duration // EWMA
	quality      float64       // EWMA of post-hoc quality scores
	lastUsed     time.Time
	lastHealth   domain.HealthStatus
}

// NewHealthRegistry creates a registry with the given recent-outcomes window
// size (<= 0 uses the default). The bus is optional; when set, health
// transitions are published.
func NewHealthRegistry(windowSize int, bus domain.EventBus, logger *slog.Logger) *HealthRegistry {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &HealthRegistry{
		windowSize: windowSize,
		entries:    make(map[string]*metricEntry),
		bus:        bus,
		logger:     logger,
	}
}

func (r *HealthRegistry) entry(c domain.Candidate) *metricEntry {
	key := c.Key()
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[key]; ok {
		return e
	}
	e = &metricEntry{
		candidate:  c,
		window:     make([]bool, r.windowSize),
		quality:    1.0, // optimistic prior until feedback arrives
		lastHealth: domain.HealthHealthy,
	}
	r.entries[key] = e
	return e
}

// RecordOutcome appends one call outcome to the candidate's rolling window and
// recomputes its health status. Duplicate records degrade accuracy but never
// corrupt state; counters only ever increase.
func (r *HealthRegistry) RecordOutcome(c domain.Candidate, latency time.Duration, success bool, cost float64) {
	e := r.entry(c)

	e.mu.Lock()
	e.window[e.head] = success
	e.head = (e.head + 1) % len(e.window)
	if e.filled < len(e.window) {
		e.filled++
	}

	if success {
		e.successCount++
	} else {
		e.failureCount++
	}
	e.totalCost += cost
	if e.avgLatency == 0 {
		e.avgLatency = latency
	} else {
		// EWMA with alpha 0.3: responsive to recent shifts without thrashing.
		e.avgLatency = time.Duration(0.7*float64(e.avgLatency) + 0.3*float64(latency))
	}
	e.lastUsed = time.Now()

	health := domain.ClassifyHealth(e.failureRateLocked())
	transitioned := health != e.lastHealth
	prev := e.lastHealth
	e.lastHealth = health
	e.mu.Unlock()

	if transitioned {
		r.logger.Warn("provider health transition",
			"candidate", c.Key(), "from", string(prev), "to", string(health))
		r.publishTransition(c, health)
	}
}

// RecordQuality folds a post-hoc quality score (0..1) into the candidate's
// EWMA quality, which the selector multiplies into its success term.
func (r *HealthRegistry) RecordQuality(c domain.Candidate, score, alpha float64) {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}
	e := r.entry(c)
	e.mu.Lock()
	e.quality = (1-alpha)*e.quality + alpha*score
	e.mu.Unlock()
}

// failureRateLocked computes the failure rate over the filled portion of the
// window. Caller must hold e.mu.
func (e *metricEntry) failureRateLocked() float64 {
	if e.filled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < e.filled; i++ {
		if !e.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(e.filled)
}

// Metrics returns a read-only snapshot for one candidate. Safe to call
// concurrently with RecordOutcome. Unknown candidates report healthy with
// zero counters.
func (r *HealthRegistry) Metrics(c domain.Candidate) domain.ProviderMetrics {
	key := c.Key()
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return domain.ProviderMetrics{
			Candidate: c,
			Quality:   1.0,
			Health:    domain.HealthHealthy,
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.ProviderMetrics{
		Candidate:    e.candidate,
		AvgLatency:   e.avgLatency,
		SuccessCount: e.successCount,
		FailureCount: e.failureCount,
		TotalCost:    e.totalCost,
		Quality:      e.quality,
		Health:       e.lastHealth,
		LastUsed:     e.lastUsed,
	}
}

// Health returns the candidate's current passive health classification.
func (r *HealthRegistry) Health(c domain.Candidate) domain.HealthStatus {
	return r.Metrics(c).Health
}

// HealthCheck actively probes the provider behind the candidate, separate from
// passive outcome recording. A failed probe reports down regardless of the
// window; a successful probe reports the window-derived status.
func (r *HealthRegistry) HealthCheck(ctx context.Context, c domain.Candidate, p domain.ChatProvider) domain.HealthStatus {
	pinger, ok := p.(domain.Pinger)
	if !ok {
		// No active probe support: fall back to passive classification.
		return r.Health(c)
	}

	if err := pinger.Ping(ctx); err != nil {
		r.logger.Warn("active health probe failed", "candidate", c.Key(), "error", err)
		r.publishTransition(c, domain.HealthDown)
		return domain.HealthDown
	}
	status := r.Health(c)
	publishEvent(r.bus, ctx, domain.EventProviderProbed, "", map[string]string{
		"candidate": c.Key(),
		"health":    string(status),
	})
	return status
}

func (r *HealthRegistry) publishTransition(c domain.Candidate, health domain.HealthStatus) {
	var typ domain.EventType
	switch health {
	case domain.HealthDegraded:
		typ = domain.EventProviderDegraded
	case domain.HealthDown:
		typ = domain.EventProviderDown
	default:
		return
	}
	publishEvent(r.bus, context.Background(), typ, "", map[string]string{
		"candidate": c.Key(),
	})
}
