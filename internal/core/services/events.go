package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/ports"
)

type correlationKey struct{}

// WithCorrelationID tags ctx so events emitted while serving it carry id
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// QueueUpdate is the payload of queue.positions_updated
type QueueUpdate struct {
	Queue []domain.QueueEntry `json:"queue"`
}

// eventEmitter publishes realtime events through the background runner.
// Publishing never blocks or fails the caller.
type eventEmitter struct {
	notifier ports.Notifier
	runner   *BackgroundRunner
	now      func() time.Time
}

func (e eventEmitter) newEvent(ctx context.Context, typ domain.EventType, projectID, conversationID string, data any) domain.Event {
	return domain.Event{
		ID:             uuid.NewString(),
		Type:           typ,
		ProjectID:      projectID,
		ConversationID: conversationID,
		CorrelationID:  CorrelationID(ctx),
		OccurredAt:     e.now().UTC(),
		Data:           data,
	}
}

func (e eventEmitter) emit(ctx context.Context, typ domain.EventType, projectID, conversationID string, data any) {
	if e.notifier == nil || e.runner == nil {
		return
	}
	event := e.newEvent(ctx, typ, projectID, conversationID, data)
	e.runner.Submit(fmt.Sprintf("notify %s", typ), func(bg context.Context) error {
		return e.notifier.Notify(bg, event)
	})
}

// emitQueue publishes the project's current queue. The snapshot is taken
// inside the background task, after the transition has committed.
func (e eventEmitter) emitQueue(ctx context.Context, queue *QueueCalculator, projectID string) {
	if e.notifier == nil || e.runner == nil {
		return
	}
	event := e.newEvent(ctx, domain.EventQueuePositionsUpdated, projectID, "", nil)
	e.runner.Submit("notify queue positions", func(bg context.Context) error {
		entries, err := queue.List(bg, projectID)
		if err != nil {
			return err
		}
		event.Data = QueueUpdate{Queue: entries}
		return e.notifier.Notify(bg, event)
	})
}
