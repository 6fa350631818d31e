package services

import (
	"context"
	"fmt"

	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/ports"
)

// MaxConcurrentChatsLimit caps what an agent may configure for themselves
const MaxConcurrentChatsLimit = 50

// AgentDirectory answers "who can take a chat" for a project
type AgentDirectory struct {
	agents ports.AgentRepository
}

// NewAgentDirectory creates a directory over the availability store
func NewAgentDirectory(agents ports.AgentRepository) *AgentDirectory {
	return &AgentDirectory{agents: agents}
}

// Snapshot returns every availability record of the project
func (d *AgentDirectory) Snapshot(ctx context.Context, projectID string) ([]domain.AgentAvailability, error) {
	agents, err := d.agents.ListAgents(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("agent snapshot: %w", err)
	}
	return agents, nil
}

// OnlineCount returns how many agents are online, regardless of capacity
func (d *AgentDirectory) OnlineCount(ctx context.Context, projectID string) (int, error) {
	agents, err := d.Snapshot(ctx, projectID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range agents {
		if a.Status == domain.AgentOnline {
			n++
		}
	}
	return n, nil
}

// SetStatus toggles an agent online/offline. maxConcurrentChats of 0 keeps
// the default capacity.
func (d *AgentDirectory) SetStatus(ctx context.Context, projectID, agentID string, status domain.AgentStatus, maxConcurrentChats int) (*domain.AgentAvailability, error) {
	if status != domain.AgentOnline && status != domain.AgentOffline {
		return nil, domain.NewError(domain.CodeValidation, "status must be online or offline")
	}
	if maxConcurrentChats < 0 || maxConcurrentChats > MaxConcurrentChatsLimit {
		return nil, domain.NewError(domain.CodeValidation, "maxConcurrentChats must be between 1 and %d", MaxConcurrentChatsLimit)
	}
	if maxConcurrentChats == 0 {
		maxConcurrentChats = domain.DefaultMaxConcurrentChats
		if current, err := d.agents.GetAgent(ctx, projectID, agentID); err == nil {
			maxConcurrentChats = current.MaxConcurrentChats
		}
	}

	err := d.agents.UpsertAgentStatus(ctx, &domain.AgentAvailability{
		AgentID:            agentID,
		ProjectID:          projectID,
		Status:             status,
		MaxConcurrentChats: maxConcurrentChats,
	})
	if err != nil {
		return nil, fmt.Errorf("set agent status: %w", err)
	}
	return d.agents.GetAgent(ctx, projectID, agentID)
}
