package config

import (
	"fmt"
	"strings"
)

var validProviderTypes = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"echo":      true,
}

var validCapabilities = map[string]bool{
	"streaming":        true,
	"embeddings":       true,
	"function_calling": true,
	"vision":           true,
}

// Validate checks the configuration for inconsistencies that would otherwise
// surface as confusing runtime failures. It returns the first problem found.
func Validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			return fmt.Errorf("provider %q: unknown type %q (want openai, anthropic, or echo)", p.Name, p.Type)
		}
		if p.Type != "echo" && p.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required for type %q", p.Name, p.Type)
		}
		if p.Model == "" {
			return fmt.Errorf("provider %q: model is required", p.Name)
		}
		if p.CostPerKiloTok < 0 {
			return fmt.Errorf("provider %q: cost_per_kilo_tokens must be >= 0", p.Name)
		}
		for _, c := range p.Capabilities {
			if !validCapabilities[strings.ToLower(c)] {
				return fmt.Errorf("provider %q: unknown capability %q", p.Name, c)
			}
		}
		if p.RateLimit.RPS < 0 {
			return fmt.Errorf("provider %q: rate_limit.rps must be >= 0", p.Name)
		}
	}

	for _, ws := range []struct {
		name string
		w    ScoreWeights
	}{
		{"simple", cfg.Selection.Simple},
		{"medium", cfg.Selection.Medium},
		{"complex", cfg.Selection.Complex},
	} {
		if ws.w.Latency < 0 || ws.w.Success < 0 || ws.w.Cost < 0 || ws.w.Capability < 0 {
			return fmt.Errorf("selection.%s: weights must be >= 0", ws.name)
		}
		if ws.w.Latency+ws.w.Success+ws.w.Cost+ws.w.Capability == 0 {
			return fmt.Errorf("selection.%s: at least one weight must be > 0", ws.name)
		}
	}
	if cfg.Selection.DegradedPenalty <= 0 || cfg.Selection.DegradedPenalty > 1 {
		return fmt.Errorf("selection.degraded_penalty must be in (0, 1]")
	}
	if cfg.Selection.MaxFallbacks < 0 {
		return fmt.Errorf("selection.max_fallbacks must be >= 0")
	}

	if cfg.Dispatch.AttemptTimeout <= 0 {
		return fmt.Errorf("dispatch.attempt_timeout must be > 0")
	}

	if cfg.Handover.AcceptTimeout <= 0 {
		return fmt.Errorf("handover.accept_timeout must be > 0")
	}
	if cfg.Handover.MaxAIResponses <= 0 {
		return fmt.Errorf("handover.max_ai_responses must be > 0")
	}
	if cfg.Handover.MaxDuration <= 0 {
		return fmt.Errorf("handover.max_duration must be > 0")
	}
	if cfg.Handover.ContextWindow <= 0 {
		return fmt.Errorf("handover.context_window must be > 0")
	}

	if cfg.Detection.ConfidenceFloor < 0 || cfg.Detection.ConfidenceFloor > 1 {
		return fmt.Errorf("detection.confidence_floor must be in [0, 1]")
	}
	if cfg.Detection.PatternConfidence < 0 || cfg.Detection.PatternConfidence > 1 {
		return fmt.Errorf("detection.pattern_confidence must be in [0, 1]")
	}

	if cfg.Feedback.EscalationRiskThreshold < 0 || cfg.Feedback.EscalationRiskThreshold > 1 {
		return fmt.Errorf("feedback.escalation_risk_threshold must be in [0, 1]")
	}
	if cfg.Feedback.QualitySmoothing < 0 || cfg.Feedback.QualitySmoothing > 1 {
		return fmt.Errorf("feedback.quality_smoothing must be in [0, 1]")
	}

	if cfg.Probe.Enabled && cfg.Probe.Schedule == "" {
		return fmt.Errorf("probe.schedule is required when probe.enabled")
	}

	if cfg.Knowledge.Enabled && cfg.Knowledge.BaseURL == "" {
		return fmt.Errorf("knowledge.base_url is required when knowledge.enabled")
	}

	if cfg.EventLog.Enabled && cfg.EventLog.Path == "" {
		return fmt.Errorf("event_log.path is required when event_log.enabled")
	}

	if cfg.Gateway.Enabled && cfg.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr is required when gateway.enabled")
	}

	return nil
}
