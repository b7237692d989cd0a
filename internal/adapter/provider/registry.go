package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"relay-ai/internal/domain"
	"relay-ai/internal/infra/config"
)

// Registry holds named chat providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.ChatProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.ChatProvider),
	}
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.ChatProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.ChatProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Build constructs one provider from its config, optionally wrapped in a
// circuit breaker.
func Build(cfg config.ProviderConfig, cb config.CircuitBreakerConfig, logger *slog.Logger) (domain.ChatProvider, error) {
	var p domain.ChatProvider
	switch cfg.Type {
	case "openai":
		p = NewOpenAIProvider(cfg, logger)
	case "anthropic":
		p = NewAnthropicProvider(cfg, logger)
	case "echo":
		p = NewEchoProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}

	if cb.Enabled {
		p = NewCircuitBreakerProvider(p, cb, logger)
	}
	return p, nil
}
