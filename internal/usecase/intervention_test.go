package usecase

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"relay-ai/internal/domain"
	"relay-ai/internal/infra/config"
)

type recordingApplier struct {
	events []domain.HumanDetectionEvent
}

func (r *recordingApplier) OnIntervention(_ context.Context, ev domain.HumanDetectionEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func newTestDetector(applier InterventionApplier) *InterventionDetector {
	cfg := config.Defaults().Detection
	cfg.Patterns = []string{"[agent]", "this is sarah from support"}
	return NewInterventionDetector(cfg, applier, nil, slog.Default())
}

func TestPlatformSignalAlwaysApplies(t *testing.T) {
	applier := &recordingApplier{}
	d := newTestDetector(applier)

	if err := d.FromPlatformSignal(context.Background(), "c1", "human-1"); err != nil {
		t.Fatalf("FromPlatformSignal: %v", err)
	}
	if len(applier.events) != 1 {
		t.Fatalf("events = %d, want 1", len(applier.events))
	}
	ev := applier.events[0]
	if ev.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", ev.Confidence)
	}
	if ev.Method != domain.DetectPlatformSignal {
		t.Errorf("method = %s, want platform_signal", ev.Method)
	}
}

func TestOutboundPatternDetected(t *testing.T) {
	applier := &recordingApplier{}
	d := newTestDetector(applier)

	matched, err := d.FromOutboundMessage(context.Background(), "c1", "human-2",
		"Hi, this is Sarah from support, I'll take it from here")
	if err != nil {
		t.Fatalf("FromOutboundMessage: %v", err)
	}
	if !matched {
		t.Fatal("pattern not matched")
	}
	if len(applier.events) != 1 || applier.events[0].Method != domain.DetectMessagePattern {
		t.Fatalf("events = %+v, want one message_pattern event", applier.events)
	}
}

func TestOutboundNoPatternNoEvent(t *testing.T) {
	applier := &recordingApplier{}
	d := newTestDetector(applier)

	matched, err := d.FromOutboundMessage(context.Background(), "c1", "", "Your order ships tomorrow.")
	if err != nil {
		t.Fatalf("FromOutboundMessage: %v", err)
	}
	if matched {
		t.Error("matched = true for a plain message")
	}
	if len(applier.events) != 0 {
		t.Errorf("events = %d, want 0", len(applier.events))
	}
}

func TestLowConfidenceDiscarded(t *testing.T) {
	applier := &recordingApplier{}
	d := newTestDetector(applier)

	err := d.Observe(context.Background(), domain.HumanDetectionEvent{
		ConversationID: "c1",
		Method:         domain.DetectMessagePattern,
		Confidence:     0.5, // below the 0.7 floor
	})
	if !errors.Is(err, domain.ErrLowConfidenceDetection) {
		t.Fatalf("err = %v, want ErrLowConfidenceDetection", err)
	}
	if len(applier.events) != 0 {
		t.Errorf("low-confidence event reached the state machine")
	}
}
