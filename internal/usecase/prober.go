package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"relay-ai/internal/domain"
	"relay-ai/internal/infra/config"
)

// Prober actively probes every cataloged candidate on a cron schedule so a
// provider that went down between customer turns is noticed before the next
// turn routes to it.
type Prober struct {
	cfg       config.ProbeConfig
	catalog   []domain.ProviderProfile
	providers ProviderLookup
	registry  *HealthRegistry
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewProber creates a prober; Start is a no-op when probing is disabled.
func NewProber(cfg config.ProbeConfig, catalog []domain.ProviderProfile, providers ProviderLookup, registry *HealthRegistry, logger *slog.Logger) *Prober {
	return &Prober{
		cfg:       cfg,
		catalog:   catalog,
		providers: providers,
		registry:  registry,
		cron:      cron.New(),
		logger:    logger,
	}
}

// Start registers the probe job and starts the scheduler.
func (p *Prober) Start() error {
	if !p.cfg.Enabled {
		return nil
	}
	schedule := p.cfg.Schedule
	if schedule == "" {
		schedule = "@every 30s"
	}
	if _, err := p.cron.AddFunc(schedule, p.probeAll); err != nil {
		return domain.WrapOp("prober start", err)
	}
	p.cron.Start()
	p.logger.Info("health prober started", "schedule", schedule)
	return nil
}

// Stop halts the scheduler and waits for a running probe round to finish.
func (p *Prober) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

func (p *Prober) probeAll() {
	timeout := p.cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	for _, profile := range p.catalog {
		provider, err := p.providers.Get(profile.Candidate.Provider)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		status := p.registry.HealthCheck(ctx, profile.Candidate, provider)
		cancel()
		p.logger.Debug("probe complete", "candidate", profile.Candidate.Key(), "health", string(status))
	}
}
