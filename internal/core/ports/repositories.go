// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"handoff-engine/internal/core/domain"
)

// AssignParams describe moving a conversation straight to an agent.
// The load increment and the conversation update happen as one unit.
type AssignParams struct {
	ConversationID string
	ProjectID      string
	AgentID        string
	FromStatuses   []domain.ConversationStatus
	Reason         string
	TriggerKeyword *string
	Confidence     *float64
	At             time.Time
}

// EnqueueParams describe moving a conversation into the waiting queue
type EnqueueParams struct {
	ConversationID string
	FromStatuses   []domain.ConversationStatus
	Reason         string
	TriggerKeyword *string
	Confidence     *float64
	At             time.Time
}

// ResolveParams describe leaving agent_active/waiting, or resolving an idle ai_active conversation.
// FromStatus and FromAgentID form the compare-and-swap precondition.
type ResolveParams struct {
	ConversationID string
	ProjectID      string
	FromStatus     domain.ConversationStatus
	FromAgentID    *string
	ToStatus       domain.ConversationStatus
	ResolvedAt     *time.Time
	IdleBefore     *time.Time // when set, the write also requires no activity since
}

// ConversationRepository handles conversation lifecycle persistence.
// Every state transition is a conditional write; a write that loses its
// precondition returns domain.ErrConflict.
type ConversationRepository interface {
	// ResolveSession returns the conversation for project+visitor+session, creating it
	// in ai_active when it does not exist. Concurrent calls converge on one row.
	ResolveSession(ctx context.Context, projectID, visitorID, sessionID string, at time.Time) (*domain.Conversation, bool, error)

	// GetConversation retrieves a conversation by id (domain.ErrNotFound when missing)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// AssignToAgent atomically increments the agent's load and flips the conversation to agent_active
	AssignToAgent(ctx context.Context, p AssignParams) error

	// Enqueue flips the conversation to waiting and stamps queue_entered_at
	Enqueue(ctx context.Context, p EnqueueParams) error

	// Claim flips waiting -> agent_active only if the row is still unclaimed
	Claim(ctx context.Context, conversationID, projectID, agentID string, at time.Time) error

	// Transfer moves agent_active -> waiting and releases the previous agent's load
	Transfer(ctx context.Context, conversationID, projectID, fromAgentID string, at time.Time) error

	// Resolve leaves agent_active/waiting and releases load when vacating agent_active
	Resolve(ctx context.Context, p ResolveParams) error

	// QueuePosition returns 1 + number of earlier waiting conversations in the project
	QueuePosition(ctx context.Context, projectID, conversationID string, enteredAt time.Time) (int, error)

	// ListQueue returns waiting conversations ordered by (queue_entered_at, id)
	ListQueue(ctx context.Context, projectID string) ([]domain.QueueEntry, error)

	// UpdateContact stores customer contact details captured during a handoff or lead flow
	UpdateContact(ctx context.Context, conversationID string, email, name *string) error

	// RecordActivity bumps message_count/last_message_at (and first_response_at for agents)
	RecordActivity(ctx context.Context, conversationID string, sender domain.SenderType, at time.Time) error

	// ListIdle returns ai_active conversations whose last activity is older than before
	ListIdle(ctx context.Context, before time.Time, limit int) ([]*domain.Conversation, error)
}

// MessageRepository handles append-only message persistence
type MessageRepository interface {
	// SaveMessage persists a message (ID and CreatedAt are filled when empty)
	SaveMessage(ctx context.Context, msg *domain.Message) error

	// ListRecentMessages returns up to limit latest messages, oldest first
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error)

	// CountCustomerMessages returns how many customer messages the conversation holds
	CountCustomerMessages(ctx context.Context, conversationID string) (int, error)
}

// AgentRepository handles agent availability records
type AgentRepository interface {
	// UpsertAgentStatus sets status and capacity, preserving the live chat count
	UpsertAgentStatus(ctx context.Context, a *domain.AgentAvailability) error

	// GetAgent retrieves one availability record (domain.ErrNotFound when missing)
	GetAgent(ctx context.Context, projectID, agentID string) (*domain.AgentAvailability, error)

	// ListAgents returns every availability record in the project
	ListAgents(ctx context.Context, projectID string) ([]domain.AgentAvailability, error)
}

// ProjectRepository handles projects, membership and settings
type ProjectRepository interface {
	// GetProject retrieves a project (domain.ErrNotFound when missing)
	GetProject(ctx context.Context, id string) (*domain.Project, error)

	// IsMember reports whether userID belongs to the project
	IsMember(ctx context.Context, projectID, userID string) (bool, error)

	// GetProjectConfig loads the project together with its settings document
	GetProjectConfig(ctx context.Context, projectID string) (*domain.ProjectConfig, error)
}

// LeadCaptureRepository persists qualifying-question progress
type LeadCaptureRepository interface {
	// GetLeadCapture returns the visitor's state, or an inactive state when none exists
	GetLeadCapture(ctx context.Context, projectID, visitorID string) (*domain.LeadCaptureState, error)

	// SaveLeadCapture upserts the visitor's state
	SaveLeadCapture(ctx context.Context, state *domain.LeadCaptureState) error
}
