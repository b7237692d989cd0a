package usecase

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"relay-ai/internal/domain"
	"relay-ai/internal/infra/config"
)

type fakeMetrics struct {
	m map[string]domain.ProviderMetrics
}

func (f fakeMetrics) Metrics(c domain.Candidate) domain.ProviderMetrics {
	if m, ok := f.m[c.Key()]; ok {
		return m
	}
	return domain.ProviderMetrics{Candidate: c, Quality: 1.0, Health: domain.HealthHealthy}
}

func testCatalog() []domain.ProviderProfile {
	return []domain.ProviderProfile{
		{
			Candidate:      domain.Candidate{Provider: "openai", Model: "gpt-4o"},
			Capabilities:   []domain.Capability{domain.CapStreaming, domain.CapVision, domain.CapFunctionCalling},
			CostPerKiloTok: 0.01,
			BaseLatencyMs:  800,
		},
		{
			Candidate:      domain.Candidate{Provider: "anthropic", Model: "claude-sonnet"},
			Capabilities:   []domain.Capability{domain.CapStreaming, domain.CapVision},
			CostPerKiloTok: 0.008,
			BaseLatencyMs:  900,
		},
		{
			Candidate:      domain.Candidate{Provider: "local", Model: "echo"},
			Capabilities:   []domain.Capability{domain.CapStreaming},
			CostPerKiloTok: 0,
			BaseLatencyMs:  50,
		},
	}
}

func newTestSelector(metrics MetricsReader) *Selector {
	return NewSelector(testCatalog(), metrics, config.Defaults().Selection, slog.Default())
}

func TestSelectReturnsPrimaryAndFallbacks(t *testing.T) {
	s := newTestSelector(fakeMetrics{})

	sel, err := s.Select(domain.SelectionContext{Complexity: domain.ComplexitySimple}, "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Primary.Provider == "" {
		t.Fatal("no primary selected")
	}
	if len(sel.Fallbacks) != 2 {
		t.Errorf("fallbacks = %d, want 2", len(sel.Fallbacks))
	}
	if sel.Reason == "" {
		t.Error("selection reason is empty")
	}
	if sel.Confidence <= 0 || sel.Confidence > 1 {
		t.Errorf("confidence = %v, want (0, 1]", sel.Confidence)
	}
}

func TestSelectDeterministic(t *testing.T) {
	s := newTestSelector(fakeMetrics{})
	sc := domain.SelectionContext{Complexity: domain.ComplexityMedium}

	first, err := s.Select(sc, "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := s.Select(sc, "")
		if err != nil {
			t.Fatalf("Select #%d: %v", i, err)
		}
		if again.Primary != first.Primary {
			t.Fatalf("primary changed between identical calls: %v vs %v", again.Primary, first.Primary)
		}
		if len(again.Fallbacks) != len(first.Fallbacks) {
			t.Fatalf("fallback chain changed between identical calls")
		}
		for j := range again.Fallbacks {
			if again.Fallbacks[j] != first.Fallbacks[j] {
				t.Fatalf("fallback %d changed: %v vs %v", j, again.Fallbacks[j], first.Fallbacks[j])
			}
		}
	}
}

func TestSelectExcludesDownKeepsDegraded(t *testing.T) {
	down := domain.Candidate{Provider: "openai", Model: "gpt-4o"}
	degraded := domain.Candidate{Provider: "anthropic", Model: "claude-sonnet"}
	s := newTestSelector(fakeMetrics{m: map[string]domain.ProviderMetrics{
		down.Key():     {Candidate: down, Quality: 1.0, Health: domain.HealthDown},
		degraded.Key(): {Candidate: degraded, Quality: 1.0, Health: domain.HealthDegraded},
	}})

	sel, err := s.Select(domain.SelectionContext{Complexity: domain.ComplexitySimple}, "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	for _, c := range sel.Chain() {
		if c == down {
			t.Errorf("down candidate %v appears in chain", c)
		}
	}

	// The degraded candidate stays available.
	found := false
	for _, c := range sel.Chain() {
		if c == degraded {
			found = true
		}
	}
	if !found {
		t.Error("degraded candidate excluded; it should stay with a penalty")
	}
}

func TestSelectDegradedOnlyStillServes(t *testing.T) {
	// Every candidate degraded: selection must still succeed.
	m := make(map[string]domain.ProviderMetrics)
	for _, p := range testCatalog() {
		m[p.Candidate.Key()] = domain.ProviderMetrics{
			Candidate: p.Candidate, Quality: 1.0, Health: domain.HealthDegraded,
		}
	}
	s := newTestSelector(fakeMetrics{m: m})

	sel, err := s.Select(domain.SelectionContext{Complexity: domain.ComplexityComplex}, "")
	if err != nil {
		t.Fatalf("Select with all degraded: %v", err)
	}
	if sel.Primary.Provider == "" {
		t.Fatal("no primary selected from degraded pool")
	}
}

func TestSelectAllDown(t *testing.T) {
	m := make(map[string]domain.ProviderMetrics)
	for _, p := range testCatalog() {
		m[p.Candidate.Key()] = domain.ProviderMetrics{
			Candidate: p.Candidate, Quality: 1.0, Health: domain.HealthDown,
		}
	}
	s := newTestSelector(fakeMetrics{m: m})

	_, err := s.Select(domain.SelectionContext{Complexity: domain.ComplexitySimple}, "")
	if !errors.Is(err, domain.ErrNoEligibleProvider) {
		t.Fatalf("err = %v, want ErrNoEligibleProvider", err)
	}
}

func TestSelectNoCapabilityMatch(t *testing.T) {
	s := newTestSelector(fakeMetrics{})

	_, err := s.Select(domain.SelectionContext{
		Complexity:   domain.ComplexitySimple,
		RequiredCaps: []domain.Capability{domain.CapEmbeddings},
	}, "")
	if !errors.Is(err, domain.ErrNoEligibleProvider) {
		t.Fatalf("err = %v, want ErrNoEligibleProvider", err)
	}
}

func TestSelectCostCeiling(t *testing.T) {
	s := newTestSelector(fakeMetrics{})

	sel, err := s.Select(domain.SelectionContext{
		Complexity:  domain.ComplexitySimple,
		CostCeiling: 0.009,
	}, "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for _, c := range sel.Chain() {
		if c.Provider == "openai" {
			t.Errorf("candidate %v exceeds the cost ceiling", c)
		}
	}
}

func TestSelectForcedProvider(t *testing.T) {
	s := newTestSelector(fakeMetrics{})

	sel, err := s.Select(domain.SelectionContext{Complexity: domain.ComplexitySimple}, "anthropic")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Primary.Provider != "anthropic" {
		t.Errorf("primary = %v, want forced anthropic", sel.Primary)
	}
	if sel.Reason != "forced" {
		t.Errorf("reason = %q, want forced", sel.Reason)
	}
	if sel.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0 for forced selection", sel.Confidence)
	}
}

func TestSelectForcedDownFallsBackToRanking(t *testing.T) {
	down := domain.Candidate{Provider: "anthropic", Model: "claude-sonnet"}
	s := newTestSelector(fakeMetrics{m: map[string]domain.ProviderMetrics{
		down.Key(): {Candidate: down, Quality: 1.0, Health: domain.HealthDown},
	}})

	sel, err := s.Select(domain.SelectionContext{Complexity: domain.ComplexitySimple}, "anthropic")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Primary.Provider == "anthropic" {
		t.Errorf("down forced provider selected as primary")
	}
	if sel.Reason == "forced" {
		t.Errorf("forced reason reported though forced provider is down")
	}
}

func TestSelectRecentFailuresShaveScore(t *testing.T) {
	target := domain.Candidate{Provider: "local", Model: "echo"}
	s := newTestSelector(fakeMetrics{})

	sc := domain.SelectionContext{Complexity: domain.ComplexitySimple}
	base, err := s.Select(sc, "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if base.Primary != target {
		t.Skipf("cheap local candidate not primary under default weights, got %v", base.Primary)
	}

	// Repeated recent failures of the top candidate should dethrone it.
	sc.RecentOutcomes = []domain.OutcomeRef{
		{Candidate: target, Success: false},
		{Candidate: target, Success: false},
		{Candidate: target, Success: false},
		{Candidate: target, Success: false},
		{Candidate: target, Success: false},
	}
	shaved, err := s.Select(sc, "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if shaved.Primary == target {
		t.Errorf("candidate with repeated recent failures kept the top rank")
	}
}

func TestSelectLatencyPriorUsedWithoutHistory(t *testing.T) {
	// Candidates with no recorded latency score on their configured prior.
	s := newTestSelector(fakeMetrics{})
	sel, err := s.Select(domain.SelectionContext{Complexity: domain.ComplexitySimple}, "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	// The 50ms-prior local echo model should beat the 800-900ms remote ones
	// under simple-message weights (latency 0.35 + cost 0.40).
	want := domain.Candidate{Provider: "local", Model: "echo"}
	if sel.Primary != want {
		t.Errorf("primary = %v, want %v", sel.Primary, want)
	}
}

func TestSelectFallbackCap(t *testing.T) {
	cfg := config.Defaults().Selection
	cfg.MaxFallbacks = 1
	s := NewSelector(testCatalog(), fakeMetrics{}, cfg, slog.Default())

	sel, err := s.Select(domain.SelectionContext{Complexity: domain.ComplexitySimple}, "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(sel.Fallbacks) != 1 {
		t.Errorf("fallbacks = %d, want capped at 1", len(sel.Fallbacks))
	}
}

func TestSelectQualityInfluencesRanking(t *testing.T) {
	// Two otherwise-equal candidates; low quality should lose.
	catalog := []domain.ProviderProfile{
		{Candidate: domain.Candidate{Provider: "a", Model: "m"}, BaseLatencyMs: 100},
		{Candidate: domain.Candidate{Provider: "b", Model: "m"}, BaseLatencyMs: 100},
	}
	low := domain.Candidate{Provider: "a", Model: "m"}
	s := NewSelector(catalog, fakeMetrics{m: map[string]domain.ProviderMetrics{
		low.Key(): {Candidate: low, Quality: 0.3, Health: domain.HealthHealthy},
	}}, config.Defaults().Selection, slog.Default())

	sel, err := s.Select(domain.SelectionContext{Complexity: domain.ComplexityComplex}, "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Primary != (domain.Candidate{Provider: "b", Model: "m"}) {
		t.Errorf("primary = %v, want the higher-quality candidate", sel.Primary)
	}
}

func TestSelectDispatchDeadlinePassedThrough(t *testing.T) {
	// MaxResponseTime rides on the context; the selector must not reject on it.
	s := newTestSelector(fakeMetrics{})
	_, err := s.Select(domain.SelectionContext{
		Complexity:      domain.ComplexitySimple,
		MaxResponseTime: 50 * time.Millisecond,
	}, "")
	if err != nil {
		t.Fatalf("Select with MaxResponseTime: %v", err)
	}
}
