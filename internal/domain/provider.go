package domain

import (
	"context"
	"fmt"
)

// Capability is a static feature a provider model may support.
type Capability string

const (
	CapStreaming       Capability = "streaming"
	CapEmbeddings      Capability = "embeddings"
	CapFunctionCalling Capability = "function_calling"
	CapVision          Capability = "vision"
)

// Candidate identifies a (provider, model) pair able to answer a chat request.
type Candidate struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Key returns the canonical "provider/model" form used as a map key.
func (c Candidate) Key() string { return c.Provider + "/" + c.Model }

func (c Candidate) String() string { return c.Key() }

// ParseCandidate parses a "provider/model" key back into a Candidate.
func ParseCandidate(key string) (Candidate, error) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			if i == 0 || i == len(key)-1 {
				break
			}
			return Candidate{Provider: key[:i], Model: key[i+1:]}, nil
		}
	}
	return Candidate{}, fmt.Errorf("malformed candidate key %q", key)
}

// ProviderProfile is immutable reference data describing one (provider, model)
// pair: its static capabilities and pricing. Loaded once at startup.
type ProviderProfile struct {
	Candidate       Candidate    `json:"candidate"`
	Capabilities    []Capability `json:"capabilities"`
	MaxContext      int          `json:"max_context"`
	CostPerKiloTok  float64      `json:"cost_per_kilo_tokens"`
	BaseLatencyMs   int64        `json:"base_latency_ms"` // prior used before any outcomes exist
}

// HasCapability reports whether the profile's static capability set includes c.
func (p ProviderProfile) HasCapability(c Capability) bool {
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Satisfies reports whether the profile covers every required capability.
func (p ProviderProfile) Satisfies(required []Capability) bool {
	for _, c := range required {
		if !p.HasCapability(c) {
			return false
		}
	}
	return true
}

// ChatProvider is the interface for any chat backend.
type ChatProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "anthropic").
	Name() string
}

// Pinger is implemented by providers that support an active health probe,
// separate from passive outcome recording.
type Pinger interface {
	Ping(ctx context.Context) error
}
