package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"relay-ai/internal/adapter/eventlog"
	"relay-ai/internal/adapter/gateway"
	"relay-ai/internal/adapter/knowledge"
	"relay-ai/internal/adapter/provider"
	"relay-ai/internal/domain"
	"relay-ai/internal/infra/config"
	"relay-ai/internal/infra/logger"
	"relay-ai/internal/infra/tracer"
	"relay-ai/internal/usecase"
	"relay-ai/internal/usecase/eventbus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "relay.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	bus := eventbus.New(log)
	defer bus.Close()

	if cfg.EventLog.Enabled {
		audit, err := eventlog.NewSQLiteEventLog(cfg.EventLog.Path, log)
		if err != nil {
			return err
		}
		audit.Attach(bus)
		defer audit.Close()
		log.Info("event log enabled", "path", cfg.EventLog.Path)
	}

	registry, catalog, costs, limiters, err := buildProviders(cfg, log)
	if err != nil {
		return err
	}

	healthReg := usecase.NewHealthRegistry(0, bus, log)
	selector := usecase.NewSelector(catalog, healthReg, cfg.Selection, log)

	estimator := provider.NewTiktokenEstimator(defaultModel(cfg), log)
	dispatcher := usecase.NewDispatcher(registry, healthReg, estimator, costs, limiters,
		cfg.Dispatch.AttemptTimeout, bus, log)

	convs := usecase.NewConversationStore()
	sentiment := usecase.KeywordSentiment{}
	handover := usecase.NewHandoverManager(cfg.Handover, cfg.Feedback.EscalationRiskThreshold,
		convs, sentiment, bus, log)
	detector := usecase.NewInterventionDetector(cfg.Detection, handover, bus, log)

	var know usecase.KnowledgeClient = knowledge.Noop{}
	if cfg.Knowledge.Enabled {
		know = knowledge.NewClient(cfg.Knowledge, log)
		log.Info("knowledge client enabled", "base_url", cfg.Knowledge.BaseURL)
	}

	coordinator := usecase.NewCoordinator(
		handover, selector, dispatcher, healthReg,
		usecase.HeuristicClassifier{},
		usecase.HeuristicScorer{Sentiment: sentiment},
		detector, know, cfg.Feedback, bus, log,
	)

	prober := usecase.NewProber(cfg.Probe, catalog, registry, healthReg, log)
	if err := prober.Start(); err != nil {
		return err
	}
	defer prober.Stop()

	log.Info("relay core started",
		"providers", registry.List(),
		"candidates", len(catalog),
	)

	if cfg.Gateway.Enabled {
		srv := gateway.NewServer(cfg.Gateway, coordinator, handover, healthReg, catalog, bus, log)
		if err := srv.Start(ctx); err != nil {
			return err
		}
	} else {
		<-ctx.Done()
	}

	handover.Wait()
	log.Info("relay core stopped")
	return nil
}

// buildProviders constructs the registry, catalog, cost table, and rate
// limiters from config.
func buildProviders(cfg *config.Config, log *slog.Logger) (*provider.Registry, []domain.ProviderProfile, map[string]float64, map[string]*rate.Limiter, error) {
	registry := provider.NewRegistry()
	catalog := make([]domain.ProviderProfile, 0, len(cfg.Providers))
	costs := make(map[string]float64)
	limiters := make(map[string]*rate.Limiter)

	for _, pc := range cfg.Providers {
		p, err := provider.Build(pc, cfg.Dispatch.CircuitBreaker, log)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err := registry.Register(p); err != nil {
			return nil, nil, nil, nil, err
		}

		caps := make([]domain.Capability, len(pc.Capabilities))
		for i, c := range pc.Capabilities {
			caps[i] = domain.Capability(c)
		}
		profile := domain.ProviderProfile{
			Candidate:      domain.Candidate{Provider: pc.Name, Model: pc.Model},
			Capabilities:   caps,
			MaxContext:     pc.MaxContext,
			CostPerKiloTok: pc.CostPerKiloTok,
			BaseLatencyMs:  pc.BaseLatencyMs,
		}
		catalog = append(catalog, profile)
		costs[profile.Candidate.Key()] = pc.CostPerKiloTok

		if pc.RateLimit.RPS > 0 {
			burst := pc.RateLimit.Burst
			if burst <= 0 {
				burst = int(pc.RateLimit.RPS) + 1
			}
			limiters[pc.Name] = rate.NewLimiter(rate.Limit(pc.RateLimit.RPS), burst)
		}
	}

	return registry, catalog, costs, limiters, nil
}

// defaultModel picks the first configured model for the token estimator.
func defaultModel(cfg *config.Config) string {
	if len(cfg.Providers) > 0 {
		return cfg.Providers[0].Model
	}
	return "gpt-4o"
}
