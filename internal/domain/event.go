package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventUserInput         EventType = "conversation.user_input"
	EventAnswer            EventType = "conversation.answer"
	EventSystemMessage     EventType = "conversation.system"
	EventModelCallStarted  EventType = "model.call.started"
	EventModelCallFinished EventType = "model.call.finished"
	EventToolCallStarted   EventType = "tool.call.started"
	EventToolCallFinished  EventType = "tool.call.finished"
	EventApprovalRequested EventType = "tool.approval.requested"
	EventApprovalResolved  EventType = "tool.approval.resolved"
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
	// Close stops delivery and waits for in-flight handlers.
	Close()
}
