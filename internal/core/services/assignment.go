package services

import "handoff-engine/internal/core/domain"

// SelectAgent picks the online agent with the fewest open chats, breaking
// ties by the earliest last assignment (never-assigned agents first).
// Agents at or above capacity are never returned. It does not mutate state.
func SelectAgent(agents []domain.AgentAvailability) (*domain.AgentAvailability, bool) {
	var best *domain.AgentAvailability
	for i := range agents {
		a := &agents[i]
		if a.Status != domain.AgentOnline || !a.HasCapacity() {
			continue
		}
		if best == nil || lessLoaded(a, best) {
			best = a
		}
	}
	if best == nil {
		return nil, false
	}
	chosen := *best
	return &chosen, true
}

func lessLoaded(a, b *domain.AgentAvailability) bool {
	if a.CurrentChatCount != b.CurrentChatCount {
		return a.CurrentChatCount < b.CurrentChatCount
	}
	switch {
	case a.LastAssignedAt == nil && b.LastAssignedAt == nil:
		return a.AgentID < b.AgentID
	case a.LastAssignedAt == nil:
		return true
	case b.LastAssignedAt == nil:
		return false
	case a.LastAssignedAt.Equal(*b.LastAssignedAt):
		return a.AgentID < b.AgentID
	default:
		return a.LastAssignedAt.Before(*b.LastAssignedAt)
	}
}
