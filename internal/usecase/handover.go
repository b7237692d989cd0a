package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"relay-ai/internal/domain"
	"relay-ai/internal/infra/config"
)

// Trigger confidences, fixed per trigger type. Keyword matches are the
// strongest signal; duration-based triggers the weakest.
const (
	confidenceKeyword   = 0.95
	confidenceSentiment = 0.85
	confidenceRisk      = 0.80
	confidenceCount     = 0.75
	confidenceDuration  = 0.60
)

// HandoverManager owns every conversation's control state. All mutations to
// one conversation are serialized through the per-conversation lock; two
// messages arriving concurrently for the same conversation never race on the
// state machine, while independent conversations proceed in parallel.
type HandoverManager struct {
	cfg           config.HandoverConfig
	riskThreshold float64

	locker    *ConversationLocker
	convs     *ConversationStore
	sentiment SentimentScorer

	mu       sync.Mutex
	requests map[string]*domain.HandoverRequest // conversation id → active request
	timers   map[string]*time.Timer

	bus    domain.EventBus
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewHandoverManager creates the manager. riskThreshold is the escalation-risk
// level at which the previous turn's feedback becomes a trigger source.
func NewHandoverManager(cfg config.HandoverConfig, riskThreshold float64, convs *ConversationStore, sentiment SentimentScorer, bus domain.EventBus, logger *slog.Logger) *HandoverManager {
	return &HandoverManager{
		cfg:           cfg,
		riskThreshold: riskThreshold,
		locker:        NewConversationLocker(),
		convs:         convs,
		sentiment:     sentiment,
		requests:      make(map[string]*domain.HandoverRequest),
		timers:        make(map[string]*time.Timer),
		bus:           bus,
		logger:        logger,
	}
}

// beginWrite acquires the conversation lock and asserts the single-writer
// discipline. A failed assertion means a mutation escaped serialization,
// which is a concurrency bug: logged loudly and surfaced as ErrStateConflict.
func (h *HandoverManager) beginWrite(ctx context.Context, conv *Conversation) (func(), error) {
	unlock, err := h.locker.Lock(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if !conv.writerActive.CompareAndSwap(false, true) {
		unlock()
		h.logger.Error("conversation state written outside serialization discipline",
			"conversation", conv.ID)
		return nil, domain.NewDomainError("HandoverManager", domain.ErrStateConflict, conv.ID)
	}
	return func() {
		conv.writerActive.Store(false)
		unlock()
	}, nil
}

// OnInboundMessage records an inbound customer message, evaluates the
// auto-handover triggers, and reports whether the AI should produce this
// turn's response. Trigger evaluation happens before any dispatching.
func (h *HandoverManager) OnInboundMessage(ctx context.Context, conversationID, agentID, platform, text string) (*Conversation, bool, error) {
	conv := h.convs.GetOrCreate(conversationID, agentID, platform)

	done, err := h.beginWrite(ctx, conv)
	if err != nil {
		return nil, false, err
	}
	defer done()

	if conv.Status.State == domain.StateEnded {
		return conv, false, domain.NewDomainError("HandoverManager.OnInboundMessage",
			domain.ErrConversationEnded, conversationID)
	}

	conv.AddMessage(domain.Message{Role: domain.RoleUser, Content: text})
	publishEvent(h.bus, ctx, domain.EventMessageReceived, conversationID, nil)

	// Triggers fire while the AI holds (or is paused from) the conversation;
	// a paused conversation can still escalate to a human.
	if conv.Status.State == domain.StateAIActive || conv.Status.State == domain.StateAIPaused {
		if reason := h.evaluateTriggers(conv, text); reason != nil {
			h.requestHandover(ctx, conv, *reason)
		}
	}

	return conv, conv.Status.State == domain.StateAIActive, nil
}

// evaluateTriggers checks the auto-handover conditions in order; the first
// match wins. Order: sentiment, escalation keyword, previous-turn escalation
// risk, AI response count, conversation duration.
func (h *HandoverManager) evaluateTriggers(conv *Conversation, text string) *domain.HandoverReason {
	if h.sentiment != nil {
		if score := h.sentiment.Score(text); score < h.cfg.SentimentThreshold {
			return &domain.HandoverReason{
				Kind:        domain.ReasonCustomerSatisfaction,
				Description: fmt.Sprintf("sentiment %.2f below threshold %.2f", score, h.cfg.SentimentThreshold),
				Confidence:  confidenceSentiment,
				TriggeredBy: domain.TriggeredBySystem,
			}
		}
	}

	lower := strings.ToLower(text)
	for _, kw := range h.cfg.EscalationKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return &domain.HandoverReason{
				Kind:        domain.ReasonHumanRequested,
				Description: fmt.Sprintf("escalation keyword %q matched", kw),
				Confidence:  confidenceKeyword,
				TriggeredBy: domain.TriggeredByCustomer,
			}
		}
	}

	if risk := conv.lastRisk(); risk >= h.riskThreshold && h.riskThreshold > 0 {
		return &domain.HandoverReason{
			Kind:        domain.ReasonComplexQuery,
			Description: fmt.Sprintf("previous turn escalation risk %.2f", risk),
			Confidence:  confidenceRisk,
			TriggeredBy: domain.TriggeredByAI,
		}
	}

	if conv.Status.AIResponseCount >= h.cfg.MaxAIResponses {
		return &domain.HandoverReason{
			Kind:        domain.ReasonAIEscalation,
			Description: fmt.Sprintf("AI response count reached %d", conv.Status.AIResponseCount),
			Confidence:  confidenceCount,
			TriggeredBy: domain.TriggeredBySystem,
		}
	}

	if time.Since(conv.Status.StartedAt) >= h.cfg.MaxDuration {
		return &domain.HandoverReason{
			Kind:        domain.ReasonAIEscalation,
			Description: fmt.Sprintf("conversation exceeded %s", h.cfg.MaxDuration),
			Confidence:  confidenceDuration,
			TriggeredBy: domain.TriggeredBySystem,
		}
	}

	return nil
}

// requestHandover moves ai_active → handover_pending and opens a
// HandoverRequest with the transferred context (last N messages + summary)
// and an accept deadline. Caller holds the conversation write lock.
func (h *HandoverManager) requestHandover(ctx context.Context, conv *Conversation, reason domain.HandoverReason) {
	now := time.Now()
	req := &domain.HandoverRequest{
		ID:             NewID(),
		ConversationID: conv.ID,
		Reason:         reason,
		Priority:       priorityFor(reason),
		Status:         domain.HandoverPending,
		Summary:        conv.Summary(),
		ContextWindow:  conv.LastMessages(h.cfg.ContextWindow),
		RequestedAt:    now,
		Deadline:       now.Add(h.cfg.AcceptTimeout),
	}

	conv.updateStatus(func(st *domain.AgentStatus) {
		st.State = domain.StateHandoverPending
		st.HandoverReason = &reason
	})

	// The wait-group slot is claimed before the timer is armed; stopTimer
	// releases it when Stop wins, the callback releases it when it fires.
	h.wg.Add(1)
	h.mu.Lock()
	h.requests[conv.ID] = req
	h.timers[conv.ID] = time.AfterFunc(h.cfg.AcceptTimeout, func() {
		defer h.wg.Done()
		h.onAcceptTimeout(conv.ID, req.ID)
	})
	h.mu.Unlock()

	h.logger.Info("handover requested",
		"conversation", conv.ID,
		"reason", string(reason.Kind),
		"confidence", reason.Confidence,
	)
	publishEvent(h.bus, ctx, domain.EventHandoverRequested, conv.ID, req)
}

func priorityFor(reason domain.HandoverReason) domain.HandoverPriority {
	switch {
	case reason.Kind == domain.ReasonHumanRequested:
		return domain.PriorityHigh
	case reason.Confidence >= 0.8:
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}

// Accept completes the handover handshake: a human agent takes the pending
// conversation. Context must already be attached to the request; the status
// record flips to human_active with contextTransferred set.
func (h *HandoverManager) Accept(ctx context.Context, conversationID, humanAgentID string) error {
	conv, err := h.convs.Get(conversationID)
	if err != nil {
		return err
	}

	done, err := h.beginWrite(ctx, conv)
	if err != nil {
		return err
	}
	defer done()

	if conv.Status.State != domain.StateHandoverPending {
		return domain.NewDomainError("HandoverManager.Accept", domain.ErrInvalidTransition,
			fmt.Sprintf("cannot accept in state %s", conv.Status.State))
	}

	h.stopTimer(conversationID)

	h.mu.Lock()
	req := h.requests[conversationID]
	if req != nil {
		req.Status = domain.HandoverAccepted
		req.AcceptedAt = time.Now()
	}
	h.mu.Unlock()

	conv.updateStatus(func(st *domain.AgentStatus) {
		st.State = domain.StateHumanActive
		st.AgentType = domain.AgentHuman
		st.HumanAgentID = humanAgentID
		st.ContextTransferred = true
	})

	h.logger.Info("handover accepted", "conversation", conversationID, "human", humanAgentID)
	publishEvent(h.bus, ctx, domain.EventHandoverAccepted, conversationID, map[string]string{
		"human_agent_id": humanAgentID,
	})
	return nil
}

// Release returns control from a human agent to the AI. Human identity is
// cleared before the next inbound message can be processed.
func (h *HandoverManager) Release(ctx context.Context, conversationID, actorID string) error {
	conv, err := h.convs.Get(conversationID)
	if err != nil {
		return err
	}

	done, err := h.beginWrite(ctx, conv)
	if err != nil {
		return err
	}
	defer done()

	if conv.Status.State != domain.StateHumanActive {
		return domain.NewDomainError("HandoverManager.Release", domain.ErrInvalidTransition,
			fmt.Sprintf("cannot release in state %s", conv.Status.State))
	}

	h.mu.Lock()
	if req := h.requests[conversationID]; req != nil {
		req.Status = domain.HandoverCompleted
		req.CompletedAt = time.Now()
		delete(h.requests, conversationID)
	}
	h.mu.Unlock()

	conv.updateStatus(func(st *domain.AgentStatus) {
		st.State = domain.StateAIActive
		st.AgentType = domain.AgentAI
		st.HumanAgentID = ""
		st.HandoverReason = nil
	})

	h.logger.Info("handover released", "conversation", conversationID, "actor", actorID)
	publishEvent(h.bus, ctx, domain.EventHandoverReleased, conversationID, nil)
	return nil
}

// Pause suspends AI responses without starting a handover: inbound messages
// are still recorded, the AI just stays quiet until Resume. Used by operators
// to silence a misbehaving bot while keeping the conversation open.
func (h *HandoverManager) Pause(ctx context.Context, conversationID, actorID string) error {
	conv, err := h.convs.Get(conversationID)
	if err != nil {
		return err
	}

	done, err := h.beginWrite(ctx, conv)
	if err != nil {
		return err
	}
	defer done()

	if conv.Status.State != domain.StateAIActive {
		return domain.NewDomainError("HandoverManager.Pause", domain.ErrInvalidTransition,
			fmt.Sprintf("cannot pause in state %s", conv.Status.State))
	}

	conv.updateStatus(func(st *domain.AgentStatus) {
		st.State = domain.StateAIPaused
	})

	h.logger.Info("ai paused", "conversation", conversationID, "actor", actorID)
	publishEvent(h.bus, ctx, domain.EventAIPaused, conversationID, map[string]string{
		"actor_id": actorID,
	})
	return nil
}

// Resume lifts a pause and returns the conversation to ai_active.
func (h *HandoverManager) Resume(ctx context.Context, conversationID, actorID string) error {
	conv, err := h.convs.Get(conversationID)
	if err != nil {
		return err
	}

	done, err := h.beginWrite(ctx, conv)
	if err != nil {
		return err
	}
	defer done()

	if conv.Status.State != domain.StateAIPaused {
		return domain.NewDomainError("HandoverManager.Resume", domain.ErrInvalidTransition,
			fmt.Sprintf("cannot resume in state %s", conv.Status.State))
	}

	conv.updateStatus(func(st *domain.AgentStatus) {
		st.State = domain.StateAIActive
	})

	h.logger.Info("ai resumed", "conversation", conversationID, "actor", actorID)
	publishEvent(h.bus, ctx, domain.EventAIResumed, conversationID, map[string]string{
		"actor_id": actorID,
	})
	return nil
}

// OnIntervention applies an out-of-band human-intervention event. From
// ai_active the state short-circuits directly to human_active, bypassing the
// request/accept handshake: a human silently joined. From handover_pending it
// behaves as an acceptance. The detector has already applied the confidence
// floor.
func (h *HandoverManager) OnIntervention(ctx context.Context, ev domain.HumanDetectionEvent) error {
	conv, err := h.convs.Get(ev.ConversationID)
	if err != nil {
		return err
	}

	done, err := h.beginWrite(ctx, conv)
	if err != nil {
		return err
	}
	defer done()

	switch conv.Status.State {
	case domain.StateEnded:
		return domain.NewDomainError("HandoverManager.OnIntervention",
			domain.ErrConversationEnded, ev.ConversationID)

	case domain.StateHumanActive:
		// Already human-controlled; refresh the actor if the platform told us.
		if ev.ActorID != "" {
			conv.updateStatus(func(st *domain.AgentStatus) {
				st.HumanAgentID = ev.ActorID
			})
		}
		return nil

	case domain.StateHandoverPending:
		h.stopTimer(ev.ConversationID)
		h.mu.Lock()
		if req := h.requests[ev.ConversationID]; req != nil {
			req.Status = domain.HandoverAccepted
			req.AcceptedAt = time.Now()
		}
		h.mu.Unlock()

	default:
		// ai_active / ai_paused: record the silent takeover for audit.
		reason := domain.HandoverReason{
			Kind:        domain.ReasonManualTakeover,
			Description: fmt.Sprintf("human intervention via %s", ev.Method),
			Confidence:  ev.Confidence,
			TriggeredBy: domain.TriggeredByHuman,
		}
		now := time.Now()
		req := &domain.HandoverRequest{
			ID:             NewID(),
			ConversationID: conv.ID,
			Reason:         reason,
			Priority:       domain.PriorityHigh,
			Status:         domain.HandoverAccepted,
			Summary:        conv.Summary(),
			ContextWindow:  conv.LastMessages(h.cfg.ContextWindow),
			RequestedAt:    now,
			AcceptedAt:     now,
			Deadline:       now,
		}
		conv.updateStatus(func(st *domain.AgentStatus) {
			st.HandoverReason = &reason
		})
		h.mu.Lock()
		h.requests[conv.ID] = req
		h.mu.Unlock()
	}

	conv.updateStatus(func(st *domain.AgentStatus) {
		st.State = domain.StateHumanActive
		st.AgentType = domain.AgentHuman
		st.HumanAgentID = ev.ActorID
		st.ContextTransferred = true
	})

	h.logger.Info("human intervention applied",
		"conversation", ev.ConversationID,
		"method", string(ev.Method),
		"confidence", ev.Confidence,
	)
	publishEvent(h.bus, ctx, domain.EventInterventionSeen, ev.ConversationID, ev)
	return nil
}

// onAcceptTimeout fires when no human accepted before the deadline. The
// conversation falls back to the AI so the customer is never stuck in limbo;
// the escalation failure is logged and published as a non-fatal event.
func (h *HandoverManager) onAcceptTimeout(conversationID, requestID string) {
	ctx := context.Background()
	conv, err := h.convs.Get(conversationID)
	if err != nil {
		return // conversation closed in the meantime
	}

	done, err := h.beginWrite(ctx, conv)
	if err != nil {
		h.logger.Error("handover timeout could not lock conversation",
			"conversation", conversationID, "error", err)
		return
	}
	defer done()

	h.mu.Lock()
	req := h.requests[conversationID]
	stale := req == nil || req.ID != requestID || req.Status != domain.HandoverPending
	if !stale {
		req.Status = domain.HandoverTimedOut
		req.CompletedAt = time.Now()
		delete(h.requests, conversationID)
		delete(h.timers, conversationID)
	}
	h.mu.Unlock()

	if stale || conv.Status.State != domain.StateHandoverPending {
		return
	}

	conv.updateStatus(func(st *domain.AgentStatus) {
		st.State = domain.StateAIActive
		st.AgentType = domain.AgentAI
	})

	h.logger.Warn("handover timed out, AI resumes",
		"conversation", conversationID,
		"request", requestID,
	)
	publishEvent(h.bus, ctx, domain.EventHandoverTimeout, conversationID, map[string]string{
		"request_id": requestID,
	})
}

// Close ends a conversation from any state. A still-pending handover request
// is rejected and its timer cancelled; the status record is destroyed.
func (h *HandoverManager) Close(ctx context.Context, conversationID string) error {
	conv, err := h.convs.Get(conversationID)
	if err != nil {
		return err
	}

	done, err := h.beginWrite(ctx, conv)
	if err != nil {
		return err
	}

	h.stopTimer(conversationID)
	h.mu.Lock()
	if req := h.requests[conversationID]; req != nil && !req.Status.IsTerminal() {
		req.Status = domain.HandoverRejected
		req.CompletedAt = time.Now()
	}
	delete(h.requests, conversationID)
	h.mu.Unlock()

	conv.updateStatus(func(st *domain.AgentStatus) {
		st.State = domain.StateEnded
	})
	done()

	h.convs.Delete(conversationID)
	publishEvent(h.bus, ctx, domain.EventConversationEnded, conversationID, nil)
	return nil
}

// ShouldAIRespond is a pure read: true only while the conversation is
// ai_active. Unknown conversations report false.
func (h *HandoverManager) ShouldAIRespond(conversationID string) bool {
	conv, err := h.convs.Get(conversationID)
	if err != nil {
		return false
	}
	conv.mu.RLock()
	defer conv.mu.RUnlock()
	return conv.Status.State == domain.StateAIActive
}

// Status returns a snapshot of the conversation's control-state record.
func (h *HandoverManager) Status(conversationID string) (domain.AgentStatus, error) {
	conv, err := h.convs.Get(conversationID)
	if err != nil {
		return domain.AgentStatus{}, err
	}
	conv.mu.RLock()
	defer conv.mu.RUnlock()
	return conv.Status, nil
}

// PendingRequest returns the active handover request for a conversation, if any.
func (h *HandoverManager) PendingRequest(conversationID string) (domain.HandoverRequest, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, ok := h.requests[conversationID]
	if !ok {
		return domain.HandoverRequest{}, false
	}
	return *req, true
}

// RecordAIResponse bumps the AI response counter after a successful turn.
func (h *HandoverManager) RecordAIResponse(ctx context.Context, conversationID string) error {
	conv, err := h.convs.Get(conversationID)
	if err != nil {
		return err
	}
	done, err := h.beginWrite(ctx, conv)
	if err != nil {
		return err
	}
	defer done()

	conv.updateStatus(func(st *domain.AgentStatus) {
		st.AIResponseCount++
		st.LastAIResponse = time.Now()
	})
	return nil
}

// RecordTurnScore stores the turn's escalation risk so the next inbound
// message's trigger evaluation can act on it.
func (h *HandoverManager) RecordTurnScore(conversationID string, score domain.TurnScore) {
	conv, err := h.convs.Get(conversationID)
	if err != nil {
		return
	}
	conv.setLastRisk(score.EscalationRisk)
}

func (h *HandoverManager) stopTimer(conversationID string) {
	h.mu.Lock()
	if t, ok := h.timers[conversationID]; ok {
		if t.Stop() {
			// Callback was prevented from running; release its slot here.
			h.wg.Done()
		}
		delete(h.timers, conversationID)
	}
	h.mu.Unlock()
}

// Wait blocks until in-flight timeout handlers finish. Call during shutdown.
func (h *HandoverManager) Wait() { h.wg.Wait() }
