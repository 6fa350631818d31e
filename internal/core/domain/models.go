// Package domain contains core business entities
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"encoding/json"
	"time"
)

// ConversationStatus is the lifecycle state of a conversation
type ConversationStatus string

// ConversationStatus constants
const (
	StatusAIActive    ConversationStatus = "ai_active"
	StatusWaiting     ConversationStatus = "waiting"
	StatusAgentActive ConversationStatus = "agent_active"
	StatusResolved    ConversationStatus = "resolved"
	StatusClosed      ConversationStatus = "closed"
)

// IsHandedOff reports whether a human owns (or is about to own) the conversation
func (s ConversationStatus) IsHandedOff() bool {
	return s == StatusWaiting || s == StatusAgentActive
}

// Conversation represents one customer interaction
// assigned_agent_id is set if and only if status is agent_active
type Conversation struct {
	ID                  string             `json:"id" db:"id"`
	ProjectID           string             `json:"projectId" db:"project_id"`
	VisitorID           string             `json:"visitorId" db:"visitor_id"`
	SessionID           string             `json:"sessionId" db:"session_id"`
	CustomerEmail       *string            `json:"customerEmail,omitempty" db:"customer_email"`
	CustomerName        *string            `json:"customerName,omitempty" db:"customer_name"`
	Status              ConversationStatus `json:"status" db:"status"`
	AssignedAgentID     *string            `json:"assignedAgentId,omitempty" db:"assigned_agent_id"`
	CreatedAt           time.Time          `json:"createdAt" db:"created_at"`
	QueueEnteredAt      *time.Time         `json:"queueEnteredAt,omitempty" db:"queue_entered_at"`
	ClaimedAt           *time.Time         `json:"claimedAt,omitempty" db:"claimed_at"`
	FirstResponseAt     *time.Time         `json:"firstResponseAt,omitempty" db:"first_response_at"`
	ResolvedAt          *time.Time         `json:"resolvedAt,omitempty" db:"resolved_at"`
	LastMessageAt       *time.Time         `json:"lastMessageAt,omitempty" db:"last_message_at"`
	MessageCount        int                `json:"messageCount" db:"message_count"`
	HandoffReason       *string            `json:"handoffReason,omitempty" db:"handoff_reason"`
	TriggerKeyword      *string            `json:"triggerKeyword,omitempty" db:"trigger_keyword"`
	ConfidenceAtHandoff *float64           `json:"confidenceAtHandoff,omitempty" db:"confidence_at_handoff"`
}

// SenderType identifies who wrote a message
type SenderType string

// SenderType constants
const (
	SenderCustomer SenderType = "customer"
	SenderAI       SenderType = "ai"
	SenderAgent    SenderType = "agent"
	SenderSystem   SenderType = "system"
)

// Message is one turn in a conversation. Messages are append-only.
type Message struct {
	ID             string          `json:"id" db:"id"`
	ConversationID string          `json:"conversationId" db:"conversation_id"`
	SenderType     SenderType      `json:"senderType" db:"sender_type"`
	SenderID       *string         `json:"senderId,omitempty" db:"sender_id"`
	Content        string          `json:"content" db:"content"`
	Metadata       json.RawMessage `json:"metadata,omitempty" db:"metadata"` // event tags
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}

// AgentStatus is an agent's presence within a project
type AgentStatus string

// AgentStatus constants
const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
)

// DefaultMaxConcurrentChats applies when an agent goes online without a capacity
const DefaultMaxConcurrentChats = 3

// AgentAvailability is one agent's live capacity record per project
// 0 <= CurrentChatCount <= MaxConcurrentChats after every assignment/release
type AgentAvailability struct {
	AgentID            string      `json:"agentId" db:"agent_id"`
	ProjectID          string      `json:"projectId" db:"project_id"`
	Status             AgentStatus `json:"status" db:"status"`
	CurrentChatCount   int         `json:"currentChatCount" db:"current_chat_count"`
	MaxConcurrentChats int         `json:"maxConcurrentChats" db:"max_concurrent_chats"`
	LastAssignedAt     *time.Time  `json:"lastAssignedAt,omitempty" db:"last_assigned_at"`
	UpdatedAt          time.Time   `json:"updatedAt" db:"updated_at"`
}

// HasCapacity reports whether the agent can take another chat
func (a *AgentAvailability) HasCapacity() bool {
	return a.CurrentChatCount < a.MaxConcurrentChats
}

// Project is a tenant that owns conversations and agents
type Project struct {
	ID      string `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	OwnerID string `json:"ownerId" db:"owner_id"`
}

// LeadCaptureStatus tracks a visitor's progress through qualifying questions
type LeadCaptureStatus string

// LeadCaptureStatus constants
const (
	LeadCaptureInactive  LeadCaptureStatus = "inactive"
	LeadCaptureAsking    LeadCaptureStatus = "asking"
	LeadCaptureCompleted LeadCaptureStatus = "completed"
	LeadCaptureSkipped   LeadCaptureStatus = "skipped"
)

// LeadCaptureState is per-visitor progress through the qualifying-question flow
type LeadCaptureState struct {
	ProjectID    string            `json:"projectId" db:"project_id"`
	VisitorID    string            `json:"visitorId" db:"visitor_id"`
	Status       LeadCaptureStatus `json:"status" db:"status"`
	Fields       map[string]string `json:"fields" db:"fields"`
	PendingIndex int               `json:"pendingIndex" db:"pending_index"`
	UpdatedAt    time.Time         `json:"updatedAt" db:"updated_at"`
}

// QueueEntry is one waiting conversation with its 1-based rank
type QueueEntry struct {
	ID            string    `json:"id"`
	Position      int       `json:"position"`
	WaitingSince  time.Time `json:"waitingSince"`
	VisitorID     string    `json:"visitorId"`
	CustomerName  *string   `json:"customerName,omitempty"`
	CustomerEmail *string   `json:"customerEmail,omitempty"`
	HandoffReason *string   `json:"handoffReason,omitempty"`
}
