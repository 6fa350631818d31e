package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handoff-engine/internal/core/domain"
)

func agentAt(id string, status domain.AgentStatus, load, max int, lastAssigned *time.Time) domain.AgentAvailability {
	return domain.AgentAvailability{
		AgentID:            id,
		ProjectID:          "p1",
		Status:             status,
		CurrentChatCount:   load,
		MaxConcurrentChats: max,
		LastAssignedAt:     lastAssigned,
	}
}

// TestSelectAgent_PrefersLowestLoad tests A(0/3) is picked over B(2/3)
func TestSelectAgent_PrefersLowestLoad(t *testing.T) {
	agents := []domain.AgentAvailability{
		agentAt("B", domain.AgentOnline, 2, 3, nil),
		agentAt("A", domain.AgentOnline, 0, 3, nil),
	}

	chosen, ok := SelectAgent(agents)
	require.True(t, ok)
	assert.Equal(t, "A", chosen.AgentID)

	// selection never mutates the snapshot
	assert.Equal(t, 0, agents[1].CurrentChatCount)
}

// TestSelectAgent_TieBreaksOnLastAssignment tests the least recently assigned agent wins a tie
func TestSelectAgent_TieBreaksOnLastAssignment(t *testing.T) {
	earlier := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	chosen, ok := SelectAgent([]domain.AgentAvailability{
		agentAt("recent", domain.AgentOnline, 1, 3, &later),
		agentAt("stale", domain.AgentOnline, 1, 3, &earlier),
	})
	require.True(t, ok)
	assert.Equal(t, "stale", chosen.AgentID)

	chosen, ok = SelectAgent([]domain.AgentAvailability{
		agentAt("stale", domain.AgentOnline, 1, 3, &earlier),
		agentAt("never", domain.AgentOnline, 1, 3, nil),
	})
	require.True(t, ok)
	assert.Equal(t, "never", chosen.AgentID)
}

// TestSelectAgent_SkipsIneligible tests offline and full agents are never chosen
func TestSelectAgent_SkipsIneligible(t *testing.T) {
	chosen, ok := SelectAgent([]domain.AgentAvailability{
		agentAt("offline", domain.AgentOffline, 0, 3, nil),
		agentAt("full", domain.AgentOnline, 3, 3, nil),
		agentAt("over", domain.AgentOnline, 4, 3, nil),
	})
	assert.False(t, ok)
	assert.Nil(t, chosen)

	_, ok = SelectAgent(nil)
	assert.False(t, ok)
}
