package domain

import "time"

// DispatchResult is the outcome of one dispatcher run over a selection chain.
type DispatchResult struct {
	Response     *ChatResponse `json:"response,omitempty"`
	UsedProvider Candidate     `json:"used_provider"`
	FallbackUsed bool          `json:"fallback_used"`
	Attempts     int           `json:"attempts"`
	Latency      time.Duration `json:"latency"`
	Cost         float64       `json:"cost"`
}

// TurnResult is returned to the caller of SubmitMessage: what (if anything)
// the AI answered, who answered, and the conversation's control state after
// the turn.
type TurnResult struct {
	TurnID         string       `json:"turn_id"`
	ConversationID string       `json:"conversation_id"`
	Text           string       `json:"text,omitempty"`
	UsedProvider   Candidate    `json:"used_provider,omitempty"`
	FallbackUsed   bool         `json:"fallback_used"`
	AIResponded    bool         `json:"ai_responded"`
	ControlState   ControlState `json:"control_state"`
	QualityScore   float64      `json:"quality_score,omitempty"`
	EscalationRisk float64      `json:"escalation_risk,omitempty"`
}

// TurnScore is the post-hoc feedback for one completed turn.
type TurnScore struct {
	QualityScore   float64 `json:"quality_score"`   // 0..1
	EscalationRisk float64 `json:"escalation_risk"` // 0..1
}
