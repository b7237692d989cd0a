package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventMessageReceived EventType = "message.received"
	EventMessageSent     EventType = "message.sent"
	EventTurnCompleted   EventType = "turn.completed"
	EventTurnFailed      EventType = "turn.failed"

	EventProviderOutcome  EventType = "provider.outcome"
	EventProviderProbed   EventType = "provider.probed"
	EventProviderDegraded EventType = "provider.degraded"
	EventProviderDown     EventType = "provider.down"

	EventHandoverRequested EventType = "handover.requested"
	EventHandoverAccepted  EventType = "handover.accepted"
	EventHandoverReleased  EventType = "handover.released"
	EventHandoverTimeout   EventType = "handover.timeout"
	EventInterventionSeen  EventType = "intervention.detected"
	EventInterventionLow   EventType = "intervention.low_confidence"

	EventAIPaused  EventType = "ai.paused"
	EventAIResumed EventType = "ai.resumed"

	EventConversationEnded EventType = "conversation.ended"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type           EventType       `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
