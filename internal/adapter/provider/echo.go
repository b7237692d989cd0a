package provider

import (
	"context"
	"fmt"
	"time"

	"relay-ai/internal/domain"
	"relay-ai/internal/infra/config"
)

// EchoProvider is a deterministic offline provider: it replies with a short
// acknowledgment of the last user message. Useful for local development and
// smoke tests without API keys.
type EchoProvider struct {
	name  string
	model string
	delay time.Duration
}

// NewEchoProvider creates an echo provider. BaseLatencyMs simulates latency.
func NewEchoProvider(cfg config.ProviderConfig) *EchoProvider {
	return &EchoProvider{
		name:  cfg.Name,
		model: cfg.Model,
		delay: time.Duration(cfg.BaseLatencyMs) * time.Millisecond,
	}
}

// Chat implements domain.ChatProvider.
func (p *EchoProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == domain.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}

	now := time.Now()
	content := fmt.Sprintf("You said: %s", last)
	return &domain.ChatResponse{
		ID:    fmt.Sprintf("echo-%d", now.UnixNano()),
		Model: p.model,
		Message: domain.Message{
			Role:      domain.RoleAssistant,
			Content:   content,
			Timestamp: now,
		},
		Usage: domain.Usage{
			PromptTokens:     len(last) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      (len(last) + len(content)) / 4,
		},
		CreatedAt: now,
	}, nil
}

// Name implements domain.ChatProvider.
func (p *EchoProvider) Name() string { return p.name }

// Ping implements domain.Pinger; the echo provider is always reachable.
func (p *EchoProvider) Ping(ctx context.Context) error { return ctx.Err() }

// Compile-time interface checks.
var (
	_ domain.ChatProvider = (*EchoProvider)(nil)
	_ domain.Pinger       = (*EchoProvider)(nil)
)
