package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"relay-ai/internal/domain"
	"relay-ai/internal/infra/config"
	"relay-ai/internal/infra/tracer"
)

// outcomeHistoryLen bounds the per-agent recent-outcome window handed to the
// selector.
const outcomeHistoryLen = 10

// KnowledgeClient fetches agent-scoped retrieval context for a query. An
// empty result means no context; errors are non-fatal for the turn.
type KnowledgeClient interface {
	Context(ctx context.Context, agentID, query string) (string, error)
}

// SubmitInput carries one inbound customer message plus the caller's
// per-turn constraints.
type SubmitInput struct {
	ConversationID  string
	AgentID         string
	Platform        string
	Text            string
	ForcedProvider  string
	RequiredCaps    []domain.Capability
	CostCeiling     float64
	MaxResponseTime time.Duration
	MaxTokens       int
	Temperature     float64
}

// Coordinator drives one complete turn: control-state check, complexity
// classification, provider selection, dispatch with fallback, post-turn
// feedback. It is the only caller that composes the other usecase components.
type Coordinator struct {
	handover   *HandoverManager
	selector   *Selector
	dispatcher *Dispatcher
	registry   *HealthRegistry
	classifier ComplexityClassifier
	scorer     TurnScorer
	detector   *InterventionDetector
	knowledge  KnowledgeClient
	feedback   config.FeedbackConfig
	bus        domain.EventBus
	logger     *slog.Logger

	historyMu sync.Mutex
	history   map[string][]domain.OutcomeRef // agent id → recent outcomes, newest last
}

// NewCoordinator wires the turn pipeline. knowledge may be nil.
func NewCoordinator(
	handover *HandoverManager,
	selector *Selector,
	dispatcher *Dispatcher,
	registry *HealthRegistry,
	classifier ComplexityClassifier,
	scorer TurnScorer,
	detector *InterventionDetector,
	knowledge KnowledgeClient,
	feedback config.FeedbackConfig,
	bus domain.EventBus,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		handover:   handover,
		selector:   selector,
		dispatcher: dispatcher,
		registry:   registry,
		classifier: classifier,
		scorer:     scorer,
		detector:   detector,
		knowledge:  knowledge,
		feedback:   feedback,
		bus:        bus,
		logger:     logger,
		history:    make(map[string][]domain.OutcomeRef),
	}
}

// SubmitMessage processes one inbound customer message end to end. When a
// human controls the conversation (or a handover is pending) the message is
// recorded and no AI response is produced; the returned TurnResult says who
// holds control either way.
func (c *Coordinator) SubmitMessage(ctx context.Context, in SubmitInput) (domain.TurnResult, error) {
	ctx, span := tracer.StartSpan(ctx, "coordinator.submit_message")
	defer span.End()

	turnID := NewID()

	conv, aiTurn, err := c.handover.OnInboundMessage(ctx, in.ConversationID, in.AgentID, in.Platform, in.Text)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.TurnResult{TurnID: turnID, ConversationID: in.ConversationID}, err
	}

	if !aiTurn {
		status, _ := c.handover.Status(in.ConversationID)
		return domain.TurnResult{
			TurnID:         turnID,
			ConversationID: in.ConversationID,
			AIResponded:    false,
			ControlState:   status.State,
		}, nil
	}

	complexity := c.classifier.Classify(in.Text)
	sc := domain.SelectionContext{
		AgentID:         in.AgentID,
		ConversationID:  in.ConversationID,
		Complexity:      complexity,
		RequiredCaps:    in.RequiredCaps,
		CostCeiling:     in.CostCeiling,
		MaxResponseTime: in.MaxResponseTime,
		RecentOutcomes:  c.recentOutcomes(in.AgentID),
	}

	sel, err := c.selector.Select(sc, in.ForcedProvider)
	if err != nil {
		c.failTurn(ctx, in.ConversationID, err)
		tracer.RecordError(span, err)
		return c.turnFailed(turnID, in.ConversationID), err
	}

	req := c.buildRequest(ctx, conv, in)

	result, err := c.dispatcher.Dispatch(ctx, sc, sel, req)
	if err != nil {
		c.recordAgentOutcome(in.AgentID, domain.OutcomeRef{Candidate: sel.Primary, Success: false})
		c.failTurn(ctx, in.ConversationID, err)
		tracer.RecordError(span, err)
		return c.turnFailed(turnID, in.ConversationID), err
	}
	c.recordAgentOutcome(in.AgentID, domain.OutcomeRef{Candidate: result.UsedProvider, Success: true})

	// The state can flip mid-dispatch (a human intervened while the provider
	// was generating). Re-check before the AI's text reaches the customer.
	if !c.handover.ShouldAIRespond(in.ConversationID) {
		status, _ := c.handover.Status(in.ConversationID)
		c.logger.Info("AI response suppressed, control changed mid-turn",
			"conversation", in.ConversationID, "state", string(status.State))
		return domain.TurnResult{
			TurnID:         turnID,
			ConversationID: in.ConversationID,
			AIResponded:    false,
			ControlState:   status.State,
		}, nil
	}

	text := result.Response.Message.Content
	conv.AddMessage(domain.Message{Role: domain.RoleAssistant, Content: text})
	if err := c.handover.RecordAIResponse(ctx, in.ConversationID); err != nil {
		c.logger.Warn("could not record AI response", "conversation", in.ConversationID, "error", err)
	}

	score := c.scorer.Score(in.Text, text, conv.MessageCount())
	c.registry.RecordQuality(result.UsedProvider, score.QualityScore, c.feedback.QualitySmoothing)
	c.handover.RecordTurnScore(in.ConversationID, score)

	publishEvent(c.bus, ctx, domain.EventMessageSent, in.ConversationID, map[string]any{
		"turn_id":  turnID,
		"provider": result.UsedProvider.Key(),
	})
	publishEvent(c.bus, ctx, domain.EventTurnCompleted, in.ConversationID, map[string]any{
		"turn_id":         turnID,
		"provider":        result.UsedProvider.Key(),
		"fallback_used":   result.FallbackUsed,
		"attempts":        result.Attempts,
		"latency_ms":      result.Latency.Milliseconds(),
		"quality_score":   score.QualityScore,
		"escalation_risk": score.EscalationRisk,
	})

	span.SetAttributes(
		tracer.StringAttr("provider", result.UsedProvider.Key()),
		tracer.IntAttr("attempts", result.Attempts),
	)
	tracer.SetOK(span)

	status, _ := c.handover.Status(in.ConversationID)
	return domain.TurnResult{
		TurnID:         turnID,
		ConversationID: in.ConversationID,
		Text:           text,
		UsedProvider:   result.UsedProvider,
		FallbackUsed:   result.FallbackUsed,
		AIResponded:    true,
		ControlState:   status.State,
		QualityScore:   score.QualityScore,
		EscalationRisk: score.EscalationRisk,
	}, nil
}

// ReportControlTransfer applies an explicit platform take-control signal.
func (c *Coordinator) ReportControlTransfer(ctx context.Context, conversationID, actorID string) error {
	return c.detector.FromPlatformSignal(ctx, conversationID, actorID)
}

// buildRequest assembles the chat request from the conversation history,
// prefixed with retrieval context when the knowledge client has any.
func (c *Coordinator) buildRequest(ctx context.Context, conv *Conversation, in SubmitInput) domain.ChatRequest {
	msgs := conv.Messages()

	if c.knowledge != nil {
		kctx, err := c.knowledge.Context(ctx, in.AgentID, in.Text)
		if err != nil {
			c.logger.Warn("knowledge fetch failed, continuing without context",
				"agent", in.AgentID, "error", err)
		} else if kctx != "" {
			msgs = append([]domain.Message{{
				Role:    domain.RoleSystem,
				Content: "Relevant knowledge:\n" + kctx,
			}}, msgs...)
		}
	}

	return domain.ChatRequest{
		Messages:    msgs,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	}
}

func (c *Coordinator) recentOutcomes(agentID string) []domain.OutcomeRef {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	h := c.history[agentID]
	out := make([]domain.OutcomeRef, len(h))
	copy(out, h)
	return out
}

func (c *Coordinator) recordAgentOutcome(agentID string, ref domain.OutcomeRef) {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	h := append(c.history[agentID], ref)
	if len(h) > outcomeHistoryLen {
		h = h[len(h)-outcomeHistoryLen:]
	}
	c.history[agentID] = h
}

func (c *Coordinator) failTurn(ctx context.Context, conversationID string, err error) {
	c.logger.Error("turn failed", "conversation", conversationID, "error", err)
	publishEvent(c.bus, ctx, domain.EventTurnFailed, conversationID, map[string]string{
		"error": err.Error(),
		"code":  string(domain.ErrorCodeOf(err)),
	})
}

func (c *Coordinator) turnFailed(turnID, conversationID string) domain.TurnResult {
	status, statusErr := c.handover.Status(conversationID)
	state := status.State
	if statusErr != nil {
		state = ""
	}
	return domain.TurnResult{
		TurnID:         turnID,
		ConversationID: conversationID,
		AIResponded:    false,
		ControlState:   state,
	}
}
