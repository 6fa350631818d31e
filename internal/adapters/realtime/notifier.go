package realtime

import (
	"context"
	"errors"
	"log/slog"

	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/ports"
)

// FanOut delivers every event to all sinks. One failing sink does not stop the others.
type FanOut struct {
	sinks []ports.Notifier
}

// NewFanOut combines sinks; nil sinks are skipped and no sinks means LogSink
func NewFanOut(sinks ...ports.Notifier) *FanOut {
	f := &FanOut{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	if len(f.sinks) == 0 {
		f.sinks = []ports.Notifier{LogSink{}}
	}
	return f
}

// Notify implements ports.Notifier
func (f *FanOut) Notify(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink drops events after logging them; used when no transport is configured
type LogSink struct{}

// Notify implements ports.Notifier
func (LogSink) Notify(ctx context.Context, event domain.Event) error {
	slog.Debug("No realtime sink, event dropped",
		"type", event.Type,
		"project_id", event.ProjectID,
		"conversation_id", event.ConversationID,
	)
	return nil
}
