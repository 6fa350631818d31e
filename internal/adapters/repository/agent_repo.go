package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"handoff-engine/internal/core/domain"
)

// ============================================================================
// AgentRepository Implementation
// ============================================================================

const agentColumns = `agent_id, project_id, status, current_chat_count, max_concurrent_chats, last_assigned_at, updated_at`

func scanAgent(row rowScanner) (domain.AgentAvailability, error) {
	var a domain.AgentAvailability
	err := row.Scan(
		&a.AgentID,
		&a.ProjectID,
		&a.Status,
		&a.CurrentChatCount,
		&a.MaxConcurrentChats,
		&a.LastAssignedAt,
		&a.UpdatedAt,
	)
	return a, err
}

// UpsertAgentStatus sets presence and capacity without touching the live
// chat count. Capacity is never lowered below the chats already held.
func (r *SQLRepository) UpsertAgentStatus(ctx context.Context, a *domain.AgentAvailability) error {
	if a.MaxConcurrentChats <= 0 {
		a.MaxConcurrentChats = domain.DefaultMaxConcurrentChats
	}
	now := utc(time.Now())

	update := `
		UPDATE agent_availability
		SET status = ?,
			max_concurrent_chats = CASE WHEN ? < current_chat_count THEN current_chat_count ELSE ? END,
			updated_at = ?
		WHERE agent_id = ? AND project_id = ?`

	exec := func() (int64, error) {
		res, err := r.db.ExecContext(ctx, update,
			a.Status, a.MaxConcurrentChats, a.MaxConcurrentChats, now,
			a.AgentID, a.ProjectID,
		)
		if err != nil {
			return 0, err
		}
		return affected(res), nil
	}

	n, err := exec()
	if err != nil {
		slog.Error("Failed to update agent status",
			"error", err,
			"agent_id", a.AgentID,
		)
		return fmt.Errorf("update agent status: %w", err)
	}

	if n == 0 {
		insert := r.dialect.insertIgnore + ` INTO agent_availability (` + agentColumns + `)
			VALUES (?, ?, ?, 0, ?, NULL, ?)`
		res, err := r.db.ExecContext(ctx, insert,
			a.AgentID, a.ProjectID, a.Status, a.MaxConcurrentChats, now,
		)
		if err != nil {
			slog.Error("Failed to insert agent status",
				"error", err,
				"agent_id", a.AgentID,
			)
			return fmt.Errorf("insert agent status: %w", err)
		}
		// lost an insert race: the other row exists now, apply our values on top
		if affected(res) == 0 {
			if _, err := exec(); err != nil {
				return fmt.Errorf("update agent status: %w", err)
			}
		}
	}

	slog.Info("Agent status updated",
		"agent_id", a.AgentID,
		"project_id", a.ProjectID,
		"status", a.Status,
		"max_concurrent_chats", a.MaxConcurrentChats,
	)
	return nil
}

// GetAgent retrieves one availability record
func (r *SQLRepository) GetAgent(ctx context.Context, projectID, agentID string) (*domain.AgentAvailability, error) {
	query := `SELECT ` + agentColumns + ` FROM agent_availability WHERE agent_id = ? AND project_id = ?`

	a, err := scanAgent(r.db.QueryRowContext(ctx, query, agentID, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

// ListAgents returns the project's availability records
func (r *SQLRepository) ListAgents(ctx context.Context, projectID string) ([]domain.AgentAvailability, error) {
	query := `SELECT ` + agentColumns + ` FROM agent_availability WHERE project_id = ? ORDER BY agent_id`

	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		slog.Error("Failed to list agents",
			"error", err,
			"project_id", projectID,
		)
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	agents := []domain.AgentAvailability{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
