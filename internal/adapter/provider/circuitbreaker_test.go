package provider

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"relay-ai/internal/domain"
	"relay-ai/internal/infra/config"
)

type flakyProvider struct {
	name  string
	err   error
	calls int
}

func (p *flakyProvider) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &domain.ChatResponse{
		ID:      "ok",
		Message: domain.Message{Role: domain.RoleAssistant, Content: "fine"},
	}, nil
}

func (p *flakyProvider) Name() string { return p.name }

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyProvider{name: "flaky", err: errors.New("upstream down")}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     time.Minute,
	}, slog.Default())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cb.Chat(ctx, domain.ChatRequest{}); err == nil {
			t.Fatalf("call %d succeeded unexpectedly", i)
		}
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	// Open circuit fails fast without reaching the provider.
	before := inner.calls
	_, err := cb.Chat(ctx, domain.ChatRequest{})
	if err == nil {
		t.Fatal("open circuit allowed a call")
	}
	if !strings.Contains(err.Error(), "circuit open") {
		t.Errorf("err = %v, want circuit open", err)
	}
	if inner.calls != before {
		t.Error("provider reached while circuit open")
	}
}

func TestCircuitBreakerStaysClosedOnSuccess(t *testing.T) {
	inner := &flakyProvider{name: "steady"}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 2}, slog.Default())

	for i := 0; i < 10; i++ {
		if _, err := cb.Chat(context.Background(), domain.ChatRequest{}); err != nil {
			t.Fatalf("Chat: %v", err)
		}
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreakerFailureCountResetsOnSuccess(t *testing.T) {
	inner := &flakyProvider{name: "flaky", err: errors.New("boom")}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 3}, slog.Default())
	ctx := context.Background()

	cb.Chat(ctx, domain.ChatRequest{})
	cb.Chat(ctx, domain.ChatRequest{})

	inner.err = nil
	if _, err := cb.Chat(ctx, domain.ChatRequest{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	inner.err = errors.New("boom again")
	cb.Chat(ctx, domain.ChatRequest{})
	cb.Chat(ctx, domain.ChatRequest{})
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("state = %s, want closed after reset", cb.State())
	}
}

func TestCircuitBreakerPing(t *testing.T) {
	inner := &flakyProvider{name: "flaky", err: errors.New("down")}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 1}, slog.Default())
	ctx := context.Background()

	// Inner has no Ping, closed circuit reports healthy.
	if err := cb.Ping(ctx); err != nil {
		t.Errorf("Ping closed = %v, want nil", err)
	}

	cb.Chat(ctx, domain.ChatRequest{})
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}
	if err := cb.Ping(ctx); err == nil {
		t.Error("Ping open = nil, want error")
	}
}
