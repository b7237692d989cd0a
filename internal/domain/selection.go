package domain

import "time"

// Complexity classifies an inbound message for selection weighting.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// OutcomeRef is one entry of an agent's recent (candidate, outcome) history.
type OutcomeRef struct {
	Candidate Candidate `json:"candidate"`
	Success   bool      `json:"success"`
}

// SelectionContext is the ephemeral per-turn input to the selector.
// Created by the caller, consumed once, discarded.
type SelectionContext struct {
	AgentID         string        `json:"agent_id"`
	ConversationID  string        `json:"conversation_id"`
	Complexity      Complexity    `json:"complexity"`
	RequiredCaps    []Capability  `json:"required_capabilities,omitempty"`
	CostCeiling     float64       `json:"cost_ceiling,omitempty"`     // max cost per kilo-token, 0 = unlimited
	MaxResponseTime time.Duration `json:"max_response_time,omitempty"` // per-attempt latency ceiling
	RecentOutcomes  []OutcomeRef  `json:"recent_outcomes,omitempty"`   // short window, newest last
}

// Selection is the selector's output: a primary candidate plus an ordered
// fallback chain. Immutable once produced; consumed by exactly one dispatch.
type Selection struct {
	Primary    Candidate   `json:"primary"`
	Fallbacks  []Candidate `json:"fallbacks"`
	Reason     string      `json:"reason"`
	Confidence float64     `json:"confidence"` // 0..1, from the score gap to the runner-up
}

// Chain returns the primary followed by the fallbacks, in dispatch order.
func (s Selection) Chain() []Candidate {
	chain := make([]Candidate, 0, 1+len(s.Fallbacks))
	chain = append(chain, s.Primary)
	chain = append(chain, s.Fallbacks...)
	return chain
}
