package domain

import "time"

// EventType names a realtime notification
type EventType string

// EventType constants
const (
	EventConversationAssigned  EventType = "conversation.assigned"
	EventStatusChanged         EventType = "conversation.status_changed"
	EventConversationTransfer  EventType = "conversation.transferred"
	EventConversationResolved  EventType = "conversation.resolved"
	EventAgentClaimed          EventType = "agent.claimed"
	EventQueuePositionsUpdated EventType = "queue.positions_updated"
	EventNewMessage            EventType = "message.new"
)

// Event is a state change fanned out to subscribed UIs (best-effort)
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	ProjectID      string    `json:"projectId"`
	ConversationID string    `json:"conversationId,omitempty"`
	CorrelationID  string    `json:"correlationId,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
	Data           any       `json:"data,omitempty"`
}

// StatusChange is the payload of status_changed / assigned / transferred / resolved
type StatusChange struct {
	From            ConversationStatus `json:"from"`
	To              ConversationStatus `json:"to"`
	AssignedAgentID *string            `json:"assignedAgentId,omitempty"`
	PreviousAgentID *string            `json:"previousAgentId,omitempty"`
	QueuePosition   int                `json:"queuePosition,omitempty"`
	Reason          string             `json:"reason,omitempty"`
}
