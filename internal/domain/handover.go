package domain

import "time"

// HandoverReasonKind tags why control should move between AI and human.
type HandoverReasonKind string

const (
	ReasonHumanRequested       HandoverReasonKind = "human_requested"
	ReasonAIEscalation         HandoverReasonKind = "ai_escalation"
	ReasonComplexQuery         HandoverReasonKind = "complex_query"
	ReasonCustomerSatisfaction HandoverReasonKind = "customer_satisfaction"
	ReasonManualTakeover       HandoverReasonKind = "manual_takeover"
)

// TriggeredBy identifies the actor class behind a handover reason.
type TriggeredBy string

const (
	TriggeredByAI       TriggeredBy = "ai"
	TriggeredByHuman    TriggeredBy = "human"
	TriggeredByCustomer TriggeredBy = "customer"
	TriggeredBySystem   TriggeredBy = "system"
)

// HandoverReason carries the trigger that initiated a handover.
type HandoverReason struct {
	Kind        HandoverReasonKind `json:"kind"`
	Description string             `json:"description"`
	Confidence  float64            `json:"confidence"`
	TriggeredBy TriggeredBy        `json:"triggered_by"`
}

// HandoverStatus is the lifecycle state of a HandoverRequest.
// Terminal states: completed, rejected, timeout.
type HandoverStatus string

const (
	HandoverPending   HandoverStatus = "pending"
	HandoverAccepted  HandoverStatus = "accepted"
	HandoverRejected  HandoverStatus = "rejected"
	HandoverCompleted HandoverStatus = "completed"
	HandoverTimedOut  HandoverStatus = "timeout"
)

// IsTerminal reports whether the status ends the request lifecycle.
func (s HandoverStatus) IsTerminal() bool {
	return s == HandoverCompleted || s == HandoverRejected || s == HandoverTimedOut
}

// HandoverPriority orders pending requests for human agents.
type HandoverPriority string

const (
	PriorityLow    HandoverPriority = "low"
	PriorityNormal HandoverPriority = "normal"
	PriorityHigh   HandoverPriority = "high"
)

// HandoverRequest asks a human to take over (or records a human releasing)
// a conversation. Created by the handover manager when a trigger fires.
type HandoverRequest struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Reason         HandoverReason   `json:"reason"`
	Priority       HandoverPriority `json:"priority"`
	Status         HandoverStatus   `json:"status"`
	Summary        string           `json:"summary,omitempty"`
	ContextWindow  []Message        `json:"context_window,omitempty"` // last N messages transferred to the human
	RequestedAt    time.Time        `json:"requested_at"`
	AcceptedAt     time.Time        `json:"accepted_at,omitempty"`
	CompletedAt    time.Time        `json:"completed_at,omitempty"`
	Deadline       time.Time        `json:"deadline"`
}

// DetectionMethod says how a human intervention was recognized.
type DetectionMethod string

const (
	DetectPlatformSignal DetectionMethod = "platform_signal"
	DetectMessagePattern DetectionMethod = "message_pattern"
)

// HumanDetectionEvent is a confidence-scored report that a human agent has
// joined a conversation out of band.
type HumanDetectionEvent struct {
	ConversationID string          `json:"conversation_id"`
	ActorID        string          `json:"actor_id,omitempty"`
	Method         DetectionMethod `json:"method"`
	Confidence     float64         `json:"confidence"`
	ObservedAt     time.Time       `json:"observed_at"`
}
