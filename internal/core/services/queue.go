package services

import (
	"context"
	"fmt"

	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/ports"
)

// QueueCalculator ranks waiting conversations strictly by queue_entered_at,
// falling back to conversation id when two entries share a timestamp
type QueueCalculator struct {
	convs ports.ConversationRepository
}

// NewQueueCalculator creates a calculator over the conversation store
func NewQueueCalculator(convs ports.ConversationRepository) *QueueCalculator {
	return &QueueCalculator{convs: convs}
}

// Position returns the 1-based rank of a waiting conversation
func (q *QueueCalculator) Position(ctx context.Context, conv *domain.Conversation) (int, error) {
	if conv.Status != domain.StatusWaiting || conv.QueueEnteredAt == nil {
		return 0, domain.NewError(domain.CodeInvalidStatus, "conversation %s is not waiting", conv.ID)
	}
	pos, err := q.convs.QueuePosition(ctx, conv.ProjectID, conv.ID, *conv.QueueEnteredAt)
	if err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	return pos, nil
}

// List returns the project's queue in order
func (q *QueueCalculator) List(ctx context.Context, projectID string) ([]domain.QueueEntry, error) {
	entries, err := q.convs.ListQueue(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return entries, nil
}
