package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/ports"
)

// Watchdog resolves ai_active conversations that have been idle longer than
// idleTimeout, so a returning visitor can still ask for a human. Conversations
// are never deleted; waiting and agent_active ones are left to humans.
type Watchdog struct {
	convs       ports.ConversationRepository
	events      eventEmitter
	interval    time.Duration
	idleTimeout time.Duration
	batchSize   int
	now         func() time.Time
}

// NewWatchdog creates an idle-conversation watchdog; notifier and runner may be nil
func NewWatchdog(convs ports.ConversationRepository, notifier ports.Notifier, runner *BackgroundRunner, interval, idleTimeout time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Watchdog{
		convs:       convs,
		events:      eventEmitter{notifier: notifier, runner: runner, now: time.Now},
		interval:    interval,
		idleTimeout: idleTimeout,
		batchSize:   500,
		now:         time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled
func (w *Watchdog) Run(ctx context.Context) {
	if w.idleTimeout <= 0 {
		slog.Info("Watchdog disabled (no idle timeout)")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("Watchdog started",
		"interval", w.interval,
		"idle_timeout", w.idleTimeout,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Watchdog stopped")
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				slog.Error("Watchdog sweep failed", "error", err)
			}
		}
	}
}

// Sweep resolves one batch of idle conversations and returns how many it resolved.
// A conversation that changed state or saw activity since it was listed is skipped.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	now := w.now()
	cutoff := now.Add(-w.idleTimeout)
	idle, err := w.convs.ListIdle(ctx, cutoff, w.batchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, conv := range idle {
		err := w.convs.Resolve(ctx, ports.ResolveParams{
			ConversationID: conv.ID,
			ProjectID:      conv.ProjectID,
			FromStatus:     domain.StatusAIActive,
			ToStatus:       domain.StatusResolved,
			ResolvedAt:     &now,
			IdleBefore:     &cutoff,
		})
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			slog.Error("Failed to resolve idle conversation",
				"error", err,
				"conversation_id", conv.ID,
			)
			continue
		}
		resolved++
		w.events.emit(ctx, domain.EventStatusChanged, conv.ProjectID, conv.ID, domain.StatusChange{
			From:   domain.StatusAIActive,
			To:     domain.StatusResolved,
			Reason: "idle",
		})
	}

	if resolved > 0 {
		slog.Info("Watchdog resolved idle conversations", "count", resolved)
	} else {
		slog.Debug("Watchdog found no idle conversations")
	}
	return resolved, nil
}
