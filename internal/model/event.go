package model

import (
	"time"
)

// EventType represents the type of thread event.
type EventType string

const (
	EventMessageSent       EventType = "message.sent"
	EventMessageStatus     EventType = "message.status"
	EventCallCompleted     EventType = "call.completed"
	EventFollowUpFired     EventType = "followup.fired"
	EventFollowUpEscalated EventType = "followup.escalated"
)

// ThreadEvent is published whenever the core mutates a thread.
type ThreadEvent struct {
	ID        string         `json:"id"`
	Sequence  uint64         `json:"sequence,omitempty"`
	Type      EventType      `json:"type"`
	ThreadID  string         `json:"thread_id"`
	BrokerID  string         `json:"broker_id"`
	MessageID string         `json:"message_id,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
	RuleID    string         `json:"rule_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// HeartbeatEvent keeps an idle event stream open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ReplayCompleteEvent marks the end of replayed events on a stream.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	EventCount   int    `json:"event_count"`
}

// ThreadEventsResponse is a page of replayed thread events.
type ThreadEventsResponse struct {
	Events       []ThreadEvent `json:"events"`
	LastSequence uint64        `json:"last_sequence"`
	HasMore      bool          `json:"has_more"`
}
