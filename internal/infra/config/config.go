package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration. It is loaded once at
// startup and treated as immutable for the process lifetime.
type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
	Selection SelectionConfig  `yaml:"selection"`
	Dispatch  DispatchConfig   `yaml:"dispatch"`
	Handover  HandoverConfig   `yaml:"handover"`
	Detection DetectionConfig  `yaml:"detection"`
	Feedback  FeedbackConfig   `yaml:"feedback"`
	Probe     ProbeConfig      `yaml:"probe"`
	Knowledge KnowledgeConfig  `yaml:"knowledge"`
	EventLog  EventLogConfig   `yaml:"event_log"`
	Gateway   GatewayConfig    `yaml:"gateway"`
	Logger    LoggerConfig     `yaml:"logger"`
	Tracer    TracerConfig     `yaml:"tracer"`
}

// ProviderConfig holds settings for a single chat provider backend.
type ProviderConfig struct {
	Name           string          `yaml:"name"`
	Type           string          `yaml:"type"` // "openai", "anthropic", "echo"
	BaseURL        string          `yaml:"base_url"`
	APIKey         string          `yaml:"api_key"`
	Model          string          `yaml:"model"`
	Capabilities   []string        `yaml:"capabilities,omitempty"`
	MaxContext     int             `yaml:"max_context"`
	CostPerKiloTok float64         `yaml:"cost_per_kilo_tokens"`
	BaseLatencyMs  int64           `yaml:"base_latency_ms"`
	ConnTimeout    time.Duration   `yaml:"conn_timeout"`
	RespTimeout    time.Duration   `yaml:"resp_timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Pool           PoolConfig      `yaml:"pool"`
}

// RateLimitConfig bounds the request rate to one provider.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`   // 0 = unlimited
	Burst int     `yaml:"burst"` // 0 = derived from RPS
}

// PoolConfig holds HTTP connection pool settings for provider clients.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ScoreWeights are the selector's weighting terms for one complexity class.
type ScoreWeights struct {
	Latency    float64 `yaml:"latency"`
	Success    float64 `yaml:"success"`
	Cost       float64 `yaml:"cost"`
	Capability float64 `yaml:"capability"`
}

// SelectionConfig tunes the runtime provider selector.
type SelectionConfig struct {
	Simple          ScoreWeights `yaml:"simple"`
	Medium          ScoreWeights `yaml:"medium"`
	Complex         ScoreWeights `yaml:"complex"`
	DegradedPenalty float64      `yaml:"degraded_penalty"` // multiplier applied to degraded candidates
	MaxFallbacks    int          `yaml:"max_fallbacks"`
	HistoryWindow   int          `yaml:"history_window"` // recent outcomes kept per agent
}

// DispatchConfig tunes the chat dispatcher.
type DispatchConfig struct {
	AttemptTimeout time.Duration        `yaml:"attempt_timeout"` // default per-attempt deadline
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for chat providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// HandoverConfig tunes auto-handover triggers and the accept protocol.
type HandoverConfig struct {
	EscalationKeywords []string      `yaml:"escalation_keywords"`
	SentimentThreshold float64       `yaml:"sentiment_threshold"` // trigger when score falls below
	MaxAIResponses     int           `yaml:"max_ai_responses"`
	MaxDuration        time.Duration `yaml:"max_duration"`
	AcceptTimeout      time.Duration `yaml:"accept_timeout"` // deadline for a human to accept
	ContextWindow      int           `yaml:"context_window"` // messages transferred on handover
}

// DetectionConfig tunes human-intervention detection.
type DetectionConfig struct {
	ConfidenceFloor   float64  `yaml:"confidence_floor"`
	PatternConfidence float64  `yaml:"pattern_confidence"`
	Patterns          []string `yaml:"patterns,omitempty"`
}

// FeedbackConfig tunes outcome/quality scoring.
type FeedbackConfig struct {
	EscalationRiskThreshold float64 `yaml:"escalation_risk_threshold"`
	QualitySmoothing        float64 `yaml:"quality_smoothing"` // EWMA alpha, 0..1
}

// ProbeConfig schedules periodic active health probes.
type ProbeConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"` // cron expression
	Timeout  time.Duration `yaml:"timeout"`
}

// KnowledgeConfig points at the external knowledge-retrieval collaborator.
type KnowledgeConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// EventLogConfig holds the append-only audit log settings.
type EventLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // SQLite database file
}

// GatewayConfig holds the HTTP/WebSocket boundary settings.
type GatewayConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Addr      string          `yaml:"addr"`
	Tokens    []TokenConfig   `yaml:"tokens,omitempty"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Selection: SelectionConfig{
			// Simple messages favor cheap and fast answers; complex messages
			// favor reliability and capability coverage.
			Simple:          ScoreWeights{Latency: 0.35, Success: 0.15, Cost: 0.40, Capability: 0.10},
			Medium:          ScoreWeights{Latency: 0.25, Success: 0.30, Cost: 0.25, Capability: 0.20},
			Complex:         ScoreWeights{Latency: 0.10, Success: 0.40, Cost: 0.15, Capability: 0.35},
			DegradedPenalty: 0.5,
			MaxFallbacks:    3,
			HistoryWindow:   10,
		},
		Dispatch: DispatchConfig{
			AttemptTimeout: 30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Handover: HandoverConfig{
			EscalationKeywords: []string{"human", "agent", "representative", "speak to someone"},
			SentimentThreshold: -0.3,
			MaxAIResponses:     25,
			MaxDuration:        45 * time.Minute,
			AcceptTimeout:      10 * time.Minute,
			ContextWindow:      10,
		},
		Detection: DetectionConfig{
			ConfidenceFloor:   0.7,
			PatternConfidence: 0.85,
		},
		Feedback: FeedbackConfig{
			EscalationRiskThreshold: 0.7,
			QualitySmoothing:        0.2,
		},
		Probe: ProbeConfig{
			Enabled:  false,
			Schedule: "@every 1m",
			Timeout:  5 * time.Second,
		},
		Knowledge: KnowledgeConfig{
			Timeout: 5 * time.Second,
		},
		EventLog: EventLogConfig{
			Path: "./data/events.db",
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8420",
			RateLimit: RateLimitConfig{
				RPS:   50,
				Burst: 100,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads the YAML config at path, layered over Defaults, applies
// environment overrides, and validates the result. A missing file is not an
// error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays RELAY_* environment variables onto cfg.
// Provider API keys can be supplied as RELAY_PROVIDER_<NAME>_API_KEY so
// secrets stay out of the config file.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("RELAY_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("RELAY_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("RELAY_TRACING"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Tracer.Enabled = enabled
		}
	}
	for i := range cfg.Providers {
		envKey := "RELAY_PROVIDER_" + strings.ToUpper(strings.ReplaceAll(cfg.Providers[i].Name, "-", "_")) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			cfg.Providers[i].APIKey = v
		}
	}
}
