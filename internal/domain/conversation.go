package domain

import "time"

// AgentType identifies who currently drives a conversation.
type AgentType string

const (
	AgentAI    AgentType = "ai"
	AgentHuman AgentType = "human"
)

// ControlState is the per-conversation control state machine's state.
//
//	ai_active → handover_pending → human_active → ai_active (on release)
//	ai_active → human_active (out-of-band intervention, bypasses pending)
//	handover_pending → ai_active (timeout, AI resumes)
//	any → ended (conversation closed)
type ControlState string

const (
	StateAIActive        ControlState = "ai_active"
	StateAIPaused        ControlState = "ai_paused"
	StateHandoverPending ControlState = "handover_pending"
	StateHumanActive     ControlState = "human_active"
	StateEnded           ControlState = "ended"
)

// AgentStatus is the control-state record for one conversation. All mutations
// are serialized per conversation id by the handover manager; readers get copies.
type AgentStatus struct {
	ConversationID     string          `json:"conversation_id"`
	AgentType          AgentType       `json:"agent_type"`
	State              ControlState    `json:"state"`
	HumanAgentID       string          `json:"human_agent_id,omitempty"`
	LastAIResponse     time.Time       `json:"last_ai_response,omitempty"`
	HandoverReason     *HandoverReason `json:"handover_reason,omitempty"`
	ContextTransferred bool            `json:"context_transferred"`
	Platform           string          `json:"platform,omitempty"`
	AIResponseCount    int             `json:"ai_response_count"`
	StartedAt          time.Time       `json:"started_at"`
}
