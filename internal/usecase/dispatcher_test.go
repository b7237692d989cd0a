package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"relay-ai/internal/domain"
)

type scriptedProvider struct {
	name  string
	err   error
	delay time.Duration
	reply string
	calls int
}

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.calls++
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return &domain.ChatResponse{
		ID:    "resp-1",
		Model: req.Model,
		Message: domain.Message{
			Role:    domain.RoleAssistant,
			Content: p.reply,
		},
		Usage: domain.Usage{TotalTokens: 10},
	}, nil
}

func (p *scriptedProvider) Name() string { return p.name }

type fakeLookup map[string]domain.ChatProvider

func (f fakeLookup) Get(name string) (domain.ChatProvider, error) {
	p, ok := f[name]
	if !ok {
		return nil, domain.NewDomainError("fakeLookup.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

type recordedOutcome struct {
	candidate domain.Candidate
	success   bool
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (r *fakeRecorder) RecordOutcome(c domain.Candidate, latency time.Duration, success bool, cost float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, recordedOutcome{candidate: c, success: success})
}

type fixedEstimator int

func (f fixedEstimator) Estimate(string) int { return int(f) }

func dispatchSelection() domain.Selection {
	return domain.Selection{
		Primary: domain.Candidate{Provider: "primary", Model: "m1"},
		Fallbacks: []domain.Candidate{
			{Provider: "second", Model: "m2"},
			{Provider: "third", Model: "m3"},
		},
	}
}

func newTestDispatcher(providers fakeLookup, rec *fakeRecorder) *Dispatcher {
	costs := map[string]float64{
		"primary/m1": 0.01,
		"second/m2":  0.01,
		"third/m3":   0.01,
	}
	return NewDispatcher(providers, rec, fixedEstimator(100), costs, nil, time.Second, nil, slog.Default())
}

func TestDispatchPrimarySucceeds(t *testing.T) {
	primary := &scriptedProvider{name: "primary", reply: "hello"}
	rec := &fakeRecorder{}
	d := newTestDispatcher(fakeLookup{"primary": primary}, rec)

	result, err := d.Dispatch(context.Background(), domain.SelectionContext{}, dispatchSelection(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.FallbackUsed {
		t.Error("FallbackUsed = true on first-attempt success")
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if result.Response.Message.Content != "hello" {
		t.Errorf("content = %q, want hello", result.Response.Message.Content)
	}
	if result.UsedProvider.Provider != "primary" {
		t.Errorf("UsedProvider = %v, want primary", result.UsedProvider)
	}
	if len(rec.outcomes) != 1 || !rec.outcomes[0].success {
		t.Errorf("outcomes = %+v, want one success", rec.outcomes)
	}
}

func TestDispatchFallsBackInOrder(t *testing.T) {
	primary := &scriptedProvider{name: "primary", err: errors.New("boom")}
	second := &scriptedProvider{name: "second", err: errors.New("boom")}
	third := &scriptedProvider{name: "third", reply: "saved"}
	rec := &fakeRecorder{}
	d := newTestDispatcher(fakeLookup{"primary": primary, "second": second, "third": third}, rec)

	result, err := d.Dispatch(context.Background(), domain.SelectionContext{}, dispatchSelection(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !result.FallbackUsed {
		t.Error("FallbackUsed = false after falling back twice")
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
	if result.UsedProvider.Provider != "third" {
		t.Errorf("UsedProvider = %v, want third", result.UsedProvider)
	}

	// Exactly one outcome per attempt, failures then the success, in order.
	if len(rec.outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(rec.outcomes))
	}
	wantOrder := []string{"primary", "second", "third"}
	for i, o := range rec.outcomes {
		if o.candidate.Provider != wantOrder[i] {
			t.Errorf("outcome %d candidate = %s, want %s", i, o.candidate.Provider, wantOrder[i])
		}
		wantSuccess := i == 2
		if o.success != wantSuccess {
			t.Errorf("outcome %d success = %v, want %v", i, o.success, wantSuccess)
		}
	}
}

func TestDispatchExhausted(t *testing.T) {
	boom := errors.New("boom")
	rec := &fakeRecorder{}
	d := newTestDispatcher(fakeLookup{
		"primary": &scriptedProvider{name: "primary", err: boom},
		"second":  &scriptedProvider{name: "second", err: boom},
		"third":   &scriptedProvider{name: "third", err: boom},
	}, rec)

	_, err := d.Dispatch(context.Background(), domain.SelectionContext{}, dispatchSelection(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrAllProvidersExhausted) {
		t.Fatalf("err = %v, want ErrAllProvidersExhausted", err)
	}

	var exhausted *domain.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err type = %T, want *ExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exhausted.Attempts)
	}
	if !errors.Is(exhausted.LastErr, boom) {
		t.Errorf("LastErr = %v, want boom", exhausted.LastErr)
	}
	if len(rec.outcomes) != 3 {
		t.Errorf("outcomes = %d, want 3 (one per attempt)", len(rec.outcomes))
	}
}

func TestDispatchAttemptTimeoutTriesNext(t *testing.T) {
	slow := &scriptedProvider{name: "primary", delay: 500 * time.Millisecond, reply: "late"}
	fast := &scriptedProvider{name: "second", reply: "fast"}
	rec := &fakeRecorder{}
	d := newTestDispatcher(fakeLookup{"primary": slow, "second": fast}, rec)

	sel := domain.Selection{
		Primary:   domain.Candidate{Provider: "primary", Model: "m1"},
		Fallbacks: []domain.Candidate{{Provider: "second", Model: "m2"}},
	}
	sc := domain.SelectionContext{MaxResponseTime: 50 * time.Millisecond}

	result, err := d.Dispatch(context.Background(), sc, sel, domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.UsedProvider.Provider != "second" {
		t.Errorf("UsedProvider = %v, want second after timeout", result.UsedProvider)
	}
	if len(rec.outcomes) != 2 || rec.outcomes[0].success {
		t.Errorf("outcomes = %+v, want timeout failure then success", rec.outcomes)
	}
}

func TestDispatchEmptyResponseIsFailure(t *testing.T) {
	empty := &scriptedProvider{name: "primary", reply: ""}
	ok := &scriptedProvider{name: "second", reply: "real answer"}
	rec := &fakeRecorder{}
	d := newTestDispatcher(fakeLookup{"primary": empty, "second": ok}, rec)

	sel := domain.Selection{
		Primary:   domain.Candidate{Provider: "primary", Model: "m1"},
		Fallbacks: []domain.Candidate{{Provider: "second", Model: "m2"}},
	}

	result, err := d.Dispatch(context.Background(), domain.SelectionContext{}, sel, domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.UsedProvider.Provider != "second" {
		t.Errorf("UsedProvider = %v, want second after malformed reply", result.UsedProvider)
	}
}

func TestDispatchStopsWhenCallerContextGone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &scriptedProvider{name: "primary", err: errors.New("boom")}
	second := &scriptedProvider{name: "second", reply: "never"}
	rec := &fakeRecorder{}
	d := newTestDispatcher(fakeLookup{"primary": primary, "second": second}, rec)

	cancel()
	sel := domain.Selection{
		Primary:   domain.Candidate{Provider: "primary", Model: "m1"},
		Fallbacks: []domain.Candidate{{Provider: "second", Model: "m2"}},
	}

	_, err := d.Dispatch(ctx, domain.SelectionContext{}, sel, domain.ChatRequest{})
	if err == nil {
		t.Fatal("expected error with cancelled context")
	}
	if second.calls != 0 {
		t.Errorf("fallback called %d times after caller context cancelled, want 0", second.calls)
	}
}

func TestDispatchSetsModelPerCandidate(t *testing.T) {
	var gotModel string
	capture := &modelCapture{inner: &scriptedProvider{name: "primary", reply: "ok"}, model: &gotModel}
	rec := &fakeRecorder{}
	d := newTestDispatcher(fakeLookup{"primary": capture}, rec)

	sel := domain.Selection{Primary: domain.Candidate{Provider: "primary", Model: "m1"}}
	if _, err := d.Dispatch(context.Background(), domain.SelectionContext{}, sel, domain.ChatRequest{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if gotModel != "m1" {
		t.Errorf("request model = %q, want m1", gotModel)
	}
}

type modelCapture struct {
	inner *scriptedProvider
	model *string
}

func (c *modelCapture) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	*c.model = req.Model
	return c.inner.Chat(ctx, req)
}

func (c *modelCapture) Name() string { return c.inner.Name() }

type recoveringProvider struct {
	name     string
	firstErr error
	reply    string
	calls    int
}

func (p *recoveringProvider) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	p.calls++
	if p.calls == 1 {
		return nil, p.firstErr
	}
	return &domain.ChatResponse{
		ID:      "resp-2",
		Message: domain.Message{Role: domain.RoleAssistant, Content: p.reply},
		Usage:   domain.Usage{TotalTokens: 10},
	}, nil
}

func (p *recoveringProvider) Name() string { return p.name }

func TestDispatchRetriesTransientFailureInPlace(t *testing.T) {
	primary := &recoveringProvider{
		name:     "primary",
		firstErr: domain.WrapOp("chat", domain.ErrRateLimit),
		reply:    "recovered",
	}
	second := &scriptedProvider{name: "second", reply: "fallback"}
	rec := &fakeRecorder{}
	d := newTestDispatcher(fakeLookup{"primary": primary, "second": second}, rec)

	sel := domain.Selection{
		Primary:   domain.Candidate{Provider: "primary", Model: "m1"},
		Fallbacks: []domain.Candidate{{Provider: "second", Model: "m2"}},
	}

	result, err := d.Dispatch(context.Background(), domain.SelectionContext{}, sel, domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.UsedProvider.Provider != "primary" {
		t.Errorf("UsedProvider = %v, want primary after in-place retry", result.UsedProvider)
	}
	if result.FallbackUsed {
		t.Error("FallbackUsed = true, the retry stayed on the primary")
	}
	if primary.calls != 2 {
		t.Errorf("primary called %d times, want 2", primary.calls)
	}
	if second.calls != 0 {
		t.Errorf("fallback called %d times, want 0", second.calls)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
	if len(rec.outcomes) != 2 || rec.outcomes[0].success || !rec.outcomes[1].success {
		t.Errorf("outcomes = %+v, want failure then success on the primary", rec.outcomes)
	}
}

func TestDispatchPermanentFailureSkipsRetry(t *testing.T) {
	primary := &scriptedProvider{name: "primary", err: domain.WrapOp("chat", domain.ErrAuthInvalid)}
	second := &scriptedProvider{name: "second", reply: "fallback"}
	rec := &fakeRecorder{}
	d := newTestDispatcher(fakeLookup{"primary": primary, "second": second}, rec)

	sel := domain.Selection{
		Primary:   domain.Candidate{Provider: "primary", Model: "m1"},
		Fallbacks: []domain.Candidate{{Provider: "second", Model: "m2"}},
	}

	result, err := d.Dispatch(context.Background(), domain.SelectionContext{}, sel, domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary called %d times, want 1 (no retry on auth failure)", primary.calls)
	}
	if result.UsedProvider.Provider != "second" {
		t.Errorf("UsedProvider = %v, want second", result.UsedProvider)
	}
}
