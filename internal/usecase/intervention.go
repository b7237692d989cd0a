package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"relay-ai/internal/domain"
	"relay-ai/internal/infra/config"
)

// InterventionApplier receives detection events that cleared the confidence
// floor. Implemented by the handover manager.
type InterventionApplier interface {
	OnIntervention(ctx context.Context, ev domain.HumanDetectionEvent) error
}

// InterventionDetector turns raw platform signals and outbound-message
// patterns into human-takeover decisions. Events below the confidence floor
// are discarded, logged, and published for audit rather than acted on.
type InterventionDetector struct {
	cfg     config.DetectionConfig
	applier InterventionApplier
	bus     domain.EventBus
	logger  *slog.Logger
}

// NewInterventionDetector creates the detector.
func NewInterventionDetector(cfg config.DetectionConfig, applier InterventionApplier, bus domain.EventBus, logger *slog.Logger) *InterventionDetector {
	return &InterventionDetector{cfg: cfg, applier: applier, bus: bus, logger: logger}
}

// FromPlatformSignal handles an explicit take-control signal from the chat
// platform. Platform signals are authoritative: confidence 1.0, always above
// the floor.
func (d *InterventionDetector) FromPlatformSignal(ctx context.Context, conversationID, actorID string) error {
	return d.Observe(ctx, domain.HumanDetectionEvent{
		ConversationID: conversationID,
		ActorID:        actorID,
		Method:         domain.DetectPlatformSignal,
		Confidence:     1.0,
		ObservedAt:     time.Now(),
	})
}

// FromOutboundMessage inspects a message sent on the business side of the
// conversation for patterns indicating a human wrote it (agent signatures,
// console markers). A match becomes a detection event at the configured
// pattern confidence; no match is not an error.
func (d *InterventionDetector) FromOutboundMessage(ctx context.Context, conversationID, actorID, text string) (bool, error) {
	lower := strings.ToLower(text)
	for _, p := range d.cfg.Patterns {
		if p == "" || !strings.Contains(lower, strings.ToLower(p)) {
			continue
		}
		err := d.Observe(ctx, domain.HumanDetectionEvent{
			ConversationID: conversationID,
			ActorID:        actorID,
			Method:         domain.DetectMessagePattern,
			Confidence:     d.cfg.PatternConfidence,
			ObservedAt:     time.Now(),
		})
		return err == nil, err
	}
	return false, nil
}

// Observe applies the confidence floor and forwards the event to the handover
// manager. Low-confidence events never mutate conversation state.
func (d *InterventionDetector) Observe(ctx context.Context, ev domain.HumanDetectionEvent) error {
	if ev.Confidence < d.cfg.ConfidenceFloor {
		d.logger.Info("intervention signal below confidence floor, discarded",
			"conversation", ev.ConversationID,
			"method", string(ev.Method),
			"confidence", ev.Confidence,
			"floor", d.cfg.ConfidenceFloor,
		)
		publishEvent(d.bus, ctx, domain.EventInterventionLow, ev.ConversationID, ev)
		return domain.NewDomainError("InterventionDetector.Observe",
			domain.ErrLowConfidenceDetection, ev.ConversationID)
	}
	return d.applier.OnIntervention(ctx, ev)
}
