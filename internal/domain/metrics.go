package domain

import "time"

// HealthStatus classifies a provider from its recent outcome history.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// Failure-rate thresholds over the recent-outcomes window.
const (
	DownFailureRate     = 0.80
	DegradedFailureRate = 0.30
)

// ClassifyHealth maps a failure rate over the recent window to a status.
// Pure function; the registry computes the rate, this applies the policy.
func ClassifyHealth(failureRate float64) HealthStatus {
	switch {
	case failureRate > DownFailureRate:
		return HealthDown
	case failureRate > DegradedFailureRate:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// ProviderMetrics is a read-only snapshot of one candidate's rolling statistics.
// Success and failure counters never decrease.
type ProviderMetrics struct {
	Candidate    Candidate     `json:"candidate"`
	AvgLatency   time.Duration `json:"avg_latency"`
	SuccessCount uint64        `json:"success_count"`
	FailureCount uint64        `json:"failure_count"`
	TotalCost    float64       `json:"total_cost"`
	Quality      float64       `json:"quality"` // EWMA of post-hoc quality scores, 0..1
	Health       HealthStatus  `json:"health"`
	LastUsed     time.Time     `json:"last_used"`
}

// SuccessRate returns the lifetime success ratio, 1.0 when nothing recorded yet.
func (m ProviderMetrics) SuccessRate() float64 {
	total := m.SuccessCount + m.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessCount) / float64(total)
}
