package usecase

import (
	"log/slog"
	"sort"
	"time"

	"relay-ai/internal/domain"
	"relay-ai/internal/infra/config"
)

// knownCapabilityCount normalizes the capability bonus term.
const knownCapabilityCount = 4

// Selector ranks (provider, model) candidates for one chat turn. It reads the
// immutable provider catalog and the registry's live metrics, and returns a
// primary candidate with an ordered fallback chain.
type Selector struct {
	catalog []domain.ProviderProfile
	metrics MetricsReader
	cfg     config.SelectionConfig
	logger  *slog.Logger
}

// NewSelector creates a selector over the given catalog.
func NewSelector(catalog []domain.ProviderProfile, metrics MetricsReader, cfg config.SelectionConfig, logger *slog.Logger) *Selector {
	return &Selector{
		catalog: catalog,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
	}
}

type scoredCandidate struct {
	profile domain.ProviderProfile
	score   float64
}

// Select ranks eligible candidates for the given context. When forcedProvider
// names a provider that is not down, its first eligible profile becomes the
// primary with reason "forced"; remaining candidates are ranked as usual.
//
// Down candidates are excluded; degraded candidates stay but are penalized so
// a single outage never causes total denial of service while a degraded
// option remains. Ties break on candidate key so selection is deterministic.
func (s *Selector) Select(sc domain.SelectionContext, forcedProvider string) (domain.Selection, error) {
	eligible := s.eligibleProfiles(sc)
	if len(eligible) == 0 {
		return domain.Selection{}, domain.NewDomainError("Selector.Select",
			domain.ErrNoEligibleProvider, "no candidate satisfies required capabilities")
	}

	scored := make([]scoredCandidate, 0, len(eligible))
	allDown := true
	for _, p := range eligible {
		m := s.metrics.Metrics(p.Candidate)
		if m.Health == domain.HealthDown {
			continue
		}
		allDown = false
		scored = append(scored, scoredCandidate{
			profile: p,
			score:   s.score(p, m, sc),
		})
	}
	if allDown {
		return domain.Selection{}, domain.NewDomainError("Selector.Select",
			domain.ErrNoEligibleProvider, "all eligible candidates are down")
	}

	// Deterministic ordering: score descending, candidate key ascending on ties.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].profile.Candidate.Key() < scored[j].profile.Candidate.Key()
	})

	if forcedProvider != "" {
		if sel, ok := s.forcedSelection(scored, forcedProvider); ok {
			return sel, nil
		}
		s.logger.Warn("forced provider unavailable, falling back to ranking",
			"provider", forcedProvider)
	}

	primary := scored[0]
	fallbacks := s.fallbackChain(scored[1:])

	return domain.Selection{
		Primary:    primary.profile.Candidate,
		Fallbacks:  fallbacks,
		Reason:     s.reasonFor(primary, sc),
		Confidence: confidence(scored),
	}, nil
}

// eligibleProfiles filters the catalog on static capabilities and the
// context's cost ceiling.
func (s *Selector) eligibleProfiles(sc domain.SelectionContext) []domain.ProviderProfile {
	out := make([]domain.ProviderProfile, 0, len(s.catalog))
	for _, p := range s.catalog {
		if !p.Satisfies(sc.RequiredCaps) {
			continue
		}
		if sc.CostCeiling > 0 && p.CostPerKiloTok > sc.CostCeiling {
			continue
		}
		out = append(out, p)
	}
	return out
}

// score computes the weighted candidate score. Weights shift by message
// complexity: complex messages weight success rate and capabilities higher,
// simple messages weight cost and latency higher. Degraded candidates keep a
// fraction of their score; recent failures for this agent shave a little more.
func (s *Selector) score(p domain.ProviderProfile, m domain.ProviderMetrics, sc domain.SelectionContext) float64 {
	w := s.weightsFor(sc.Complexity)

	latency := m.AvgLatency
	if latency == 0 {
		latency = time.Duration(p.BaseLatencyMs) * time.Millisecond
	}
	latencyScore := 1.0 / (1.0 + latency.Seconds())
	successScore := m.SuccessRate() * m.Quality
	costScore := 1.0 / (1.0 + p.CostPerKiloTok)
	capScore := float64(len(p.Capabilities)) / knownCapabilityCount
	if capScore > 1 {
		capScore = 1
	}

	score := w.Latency*latencyScore + w.Success*successScore + w.Cost*costScore + w.Capability*capScore

	if m.Health == domain.HealthDegraded {
		score *= s.cfg.DegradedPenalty
	}

	// Recent failures of this candidate for this agent shave the score so the
	// selector steers away from providers that just failed this conversation.
	for _, ref := range sc.RecentOutcomes {
		if ref.Candidate == p.Candidate && !ref.Success {
			score *= 0.9
		}
	}

	return score
}

func (s *Selector) weightsFor(c domain.Complexity) config.ScoreWeights {
	switch c {
	case domain.ComplexityComplex:
		return s.cfg.Complex
	case domain.ComplexityMedium:
		return s.cfg.Medium
	default:
		return s.cfg.Simple
	}
}

// forcedSelection promotes the first scored profile of the forced provider.
// Down candidates never appear in scored, so a down forced provider simply
// fails the lookup and ranking applies.
func (s *Selector) forcedSelection(scored []scoredCandidate, provider string) (domain.Selection, bool) {
	for i, c := range scored {
		if c.profile.Candidate.Provider != provider {
			continue
		}
		rest := make([]scoredCandidate, 0, len(scored)-1)
		rest = append(rest, scored[:i]...)
		rest = append(rest, scored[i+1:]...)
		return domain.Selection{
			Primary:    c.profile.Candidate,
			Fallbacks:  s.fallbackChain(rest),
			Reason:     "forced",
			Confidence: 1.0,
		}, true
	}
	return domain.Selection{}, false
}

func (s *Selector) fallbackChain(rest []scoredCandidate) []domain.Candidate {
	max := s.cfg.MaxFallbacks
	if max <= 0 {
		max = 3
	}
	if len(rest) > max {
		rest = rest[:max]
	}
	out := make([]domain.Candidate, len(rest))
	for i, c := range rest {
		out[i] = c.profile.Candidate
	}
	return out
}

func (s *Selector) reasonFor(top scoredCandidate, sc domain.SelectionContext) string {
	switch sc.Complexity {
	case domain.ComplexityComplex:
		return "highest reliability score for complex message"
	case domain.ComplexityMedium:
		return "best balanced score"
	default:
		return "best cost/latency score for simple message"
	}
}

// confidence derives selection confidence from the score gap between the
// primary and the runner-up: a large gap means the ranking is clear-cut.
func confidence(scored []scoredCandidate) float64 {
	if len(scored) < 2 {
		return 1.0
	}
	top := scored[0].score
	if top <= 0 {
		return 0.5
	}
	gap := (top - scored[1].score) / top
	c := 0.5 + gap
	if c > 1 {
		c = 1
	}
	return c
}
