package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/ports"
)

const conversationColumns = `
	id, project_id, visitor_id, session_id, customer_email, customer_name,
	status, assigned_agent_id, created_at, queue_entered_at, claimed_at,
	first_response_at, resolved_at, last_message_at, message_count,
	handoff_reason, trigger_keyword, confidence_at_handoff`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var c domain.Conversation
	err := row.Scan(
		&c.ID,
		&c.ProjectID,
		&c.VisitorID,
		&c.SessionID,
		&c.CustomerEmail,
		&c.CustomerName,
		&c.Status,
		&c.AssignedAgentID,
		&c.CreatedAt,
		&c.QueueEnteredAt,
		&c.ClaimedAt,
		&c.FirstResponseAt,
		&c.ResolvedAt,
		&c.LastMessageAt,
		&c.MessageCount,
		&c.HandoffReason,
		&c.TriggerKeyword,
		&c.ConfidenceAtHandoff,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ============================================================================
// Session resolution
// ============================================================================

// ResolveSession returns the conversation for project+visitor+session, creating
// it when missing. The insert is ignored on a unique-key clash so concurrent
// first messages converge on the same row.
func (r *SQLRepository) ResolveSession(ctx context.Context, projectID, visitorID, sessionID string, at time.Time) (*domain.Conversation, bool, error) {
	insert := r.dialect.insertIgnore + ` INTO conversations (
			id, project_id, visitor_id, session_id, status, created_at, message_count
		)
		VALUES (?, ?, ?, ?, ?, ?, 0)`

	res, err := r.db.ExecContext(ctx, insert,
		uuid.NewString(),
		projectID,
		visitorID,
		sessionID,
		domain.StatusAIActive,
		utc(at),
	)
	if err != nil {
		slog.Error("Failed to create conversation",
			"error", err,
			"project_id", projectID,
			"visitor_id", visitorID,
		)
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	created := affected(res) == 1

	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE project_id = ? AND visitor_id = ? AND session_id = ?`

	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, projectID, visitorID, sessionID))
	if err != nil {
		slog.Error("Failed to load conversation after resolve",
			"error", err,
			"project_id", projectID,
			"session_id", sessionID,
		)
		return nil, false, fmt.Errorf("load conversation: %w", err)
	}

	if created {
		slog.Info("New conversation created",
			"conversation_id", conv.ID,
			"project_id", projectID,
			"visitor_id", visitorID,
		)
	}
	return conv, created, nil
}

// GetConversation retrieves a conversation by id
func (r *SQLRepository) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		slog.Error("Failed to get conversation",
			"error", err,
			"conversation_id", id,
		)
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// ============================================================================
// State transitions
// ============================================================================

// AssignToAgent increments the agent's load and moves the conversation to
// agent_active in one transaction. Either both writes land or neither does.
func (r *SQLRepository) AssignToAgent(ctx context.Context, p ports.AssignParams) error {
	at := utc(p.At)
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.incrementLoad(ctx, tx, p.ProjectID, p.AgentID, at); err != nil {
			return err
		}

		query := `
			UPDATE conversations
			SET status = ?,
				assigned_agent_id = ?,
				claimed_at = ?,
				first_response_at = NULL,
				resolved_at = NULL,
				handoff_reason = ?,
				trigger_keyword = ?,
				confidence_at_handoff = ?
			WHERE id = ? AND project_id = ? AND assigned_agent_id IS NULL
			  AND status IN (` + placeholders(len(p.FromStatuses)) + `)`

		args := []any{
			domain.StatusAgentActive, p.AgentID, at,
			p.Reason, p.TriggerKeyword, p.Confidence,
			p.ConversationID, p.ProjectID,
		}
		args = append(args, statusArgs(p.FromStatuses)...)

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("assign conversation: %w", err)
		}
		if affected(res) == 0 {
			return domain.ErrConflict
		}
		return nil
	})
	if err != nil {
		logTransitionError("assign", p.ConversationID, err)
		return err
	}

	slog.Info("Conversation assigned",
		"conversation_id", p.ConversationID,
		"agent_id", p.AgentID,
		"reason", p.Reason,
	)
	return nil
}

// Enqueue moves the conversation to waiting and stamps queue_entered_at
func (r *SQLRepository) Enqueue(ctx context.Context, p ports.EnqueueParams) error {
	query := `
		UPDATE conversations
		SET status = ?,
			assigned_agent_id = NULL,
			claimed_at = NULL,
			first_response_at = NULL,
			resolved_at = NULL,
			queue_entered_at = ?,
			handoff_reason = ?,
			trigger_keyword = ?,
			confidence_at_handoff = ?
		WHERE id = ? AND status IN (` + placeholders(len(p.FromStatuses)) + `)`

	args := []any{
		domain.StatusWaiting, utc(p.At),
		p.Reason, p.TriggerKeyword, p.Confidence,
		p.ConversationID,
	}
	args = append(args, statusArgs(p.FromStatuses)...)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("Failed to enqueue conversation",
			"error", err,
			"conversation_id", p.ConversationID,
		)
		return fmt.Errorf("enqueue conversation: %w", err)
	}
	if affected(res) == 0 {
		return domain.ErrConflict
	}

	slog.Info("Conversation queued",
		"conversation_id", p.ConversationID,
		"reason", p.Reason,
	)
	return nil
}

// Claim moves waiting -> agent_active for exactly one caller. The agent load
// increment and the compare-and-swap share a transaction, so the loser of a
// race leaves no trace on its agent's counter.
func (r *SQLRepository) Claim(ctx context.Context, conversationID, projectID, agentID string, at time.Time) error {
	at = utc(at)
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.incrementLoad(ctx, tx, projectID, agentID, at); err != nil {
			return err
		}

		query := `
			UPDATE conversations
			SET status = ?, assigned_agent_id = ?, claimed_at = ?
			WHERE id = ? AND project_id = ? AND status = ? AND assigned_agent_id IS NULL`

		res, err := tx.ExecContext(ctx, query,
			domain.StatusAgentActive, agentID, at,
			conversationID, projectID, domain.StatusWaiting,
		)
		if err != nil {
			return fmt.Errorf("claim conversation: %w", err)
		}
		if affected(res) == 0 {
			return domain.ErrConflict
		}
		return nil
	})
	if err != nil {
		logTransitionError("claim", conversationID, err)
		return err
	}

	slog.Info("Conversation claimed",
		"conversation_id", conversationID,
		"agent_id", agentID,
	)
	return nil
}

// Transfer puts an agent_active conversation back at the tail of the queue
// and releases the previous agent's slot.
func (r *SQLRepository) Transfer(ctx context.Context, conversationID, projectID, fromAgentID string, at time.Time) error {
	at = utc(at)
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE conversations
			SET status = ?,
				assigned_agent_id = NULL,
				claimed_at = NULL,
				first_response_at = NULL,
				queue_entered_at = ?
			WHERE id = ? AND status = ? AND assigned_agent_id = ?`

		res, err := tx.ExecContext(ctx, query,
			domain.StatusWaiting, at,
			conversationID, domain.StatusAgentActive, fromAgentID,
		)
		if err != nil {
			return fmt.Errorf("transfer conversation: %w", err)
		}
		if affected(res) == 0 {
			return domain.ErrConflict
		}
		return r.decrementLoad(ctx, tx, projectID, fromAgentID, at)
	})
	if err != nil {
		logTransitionError("transfer", conversationID, err)
		return err
	}

	slog.Info("Conversation transferred",
		"conversation_id", conversationID,
		"previous_agent_id", fromAgentID,
	)
	return nil
}

// Resolve leaves agent_active/waiting for resolved, closed or ai_active.
// The previous agent's load is released only when vacating agent_active.
func (r *SQLRepository) Resolve(ctx context.Context, p ports.ResolveParams) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE conversations
			SET status = ?, assigned_agent_id = NULL, resolved_at = ?
			WHERE id = ? AND status = ?`
		args := []any{p.ToStatus, utcPtr(p.ResolvedAt), p.ConversationID, p.FromStatus}

		if p.FromAgentID != nil {
			query += ` AND assigned_agent_id = ?`
			args = append(args, *p.FromAgentID)
		} else {
			query += ` AND assigned_agent_id IS NULL`
		}
		if p.IdleBefore != nil {
			query += ` AND COALESCE(last_message_at, created_at) < ?`
			args = append(args, utc(*p.IdleBefore))
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("resolve conversation: %w", err)
		}
		if affected(res) == 0 {
			return domain.ErrConflict
		}

		if p.FromStatus == domain.StatusAgentActive && p.FromAgentID != nil {
			return r.decrementLoad(ctx, tx, p.ProjectID, *p.FromAgentID, utc(time.Now()))
		}
		return nil
	})
	if err != nil {
		logTransitionError("resolve", p.ConversationID, err)
		return err
	}

	slog.Info("Conversation left handoff",
		"conversation_id", p.ConversationID,
		"from", p.FromStatus,
		"to", p.ToStatus,
	)
	return nil
}

// ============================================================================
// Queue
// ============================================================================

// QueuePosition counts waiting conversations ahead of this one.
// Ties on queue_entered_at are broken by id.
func (r *SQLRepository) QueuePosition(ctx context.Context, projectID, conversationID string, enteredAt time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM conversations
		WHERE project_id = ? AND status = ?
		  AND (queue_entered_at < ? OR (queue_entered_at = ? AND id < ?))`

	t := utc(enteredAt)
	var ahead int
	err := r.db.QueryRowContext(ctx, query,
		projectID, domain.StatusWaiting, t, t, conversationID,
	).Scan(&ahead)
	if err != nil {
		slog.Error("Failed to compute queue position",
			"error", err,
			"conversation_id", conversationID,
		)
		return 0, fmt.Errorf("queue position: %w", err)
	}
	return ahead + 1, nil
}

// ListQueue returns the project's waiting conversations in queue order
func (r *SQLRepository) ListQueue(ctx context.Context, projectID string) ([]domain.QueueEntry, error) {
	query := `
		SELECT id, queue_entered_at, visitor_id, customer_name, customer_email, handoff_reason
		FROM conversations
		WHERE project_id = ? AND status = ?
		ORDER BY queue_entered_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, projectID, domain.StatusWaiting)
	if err != nil {
		slog.Error("Failed to list queue",
			"error", err,
			"project_id", projectID,
		)
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	queue := []domain.QueueEntry{}
	for rows.Next() {
		var e domain.QueueEntry
		if err := rows.Scan(
			&e.ID,
			&e.WaitingSince,
			&e.VisitorID,
			&e.CustomerName,
			&e.CustomerEmail,
			&e.HandoffReason,
		); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		e.Position = len(queue) + 1
		queue = append(queue, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}
	return queue, nil
}

// ============================================================================
// Bookkeeping
// ============================================================================

// UpdateContact records customer contact details; nil values keep the stored ones
func (r *SQLRepository) UpdateContact(ctx context.Context, conversationID string, email, name *string) error {
	if email == nil && name == nil {
		return nil
	}
	query := `
		UPDATE conversations
		SET customer_email = COALESCE(?, customer_email),
			customer_name = COALESCE(?, customer_name)
		WHERE id = ?`

	if _, err := r.db.ExecContext(ctx, query, email, name, conversationID); err != nil {
		slog.Error("Failed to update customer contact",
			"error", err,
			"conversation_id", conversationID,
		)
		return fmt.Errorf("update contact: %w", err)
	}
	return nil
}

// RecordActivity bumps counters after a message; the first agent message sets first_response_at
func (r *SQLRepository) RecordActivity(ctx context.Context, conversationID string, sender domain.SenderType, at time.Time) error {
	t := utc(at)
	query := `
		UPDATE conversations
		SET message_count = message_count + 1, last_message_at = ?
		WHERE id = ?`
	args := []any{t, conversationID}

	if sender == domain.SenderAgent {
		query = `
			UPDATE conversations
			SET message_count = message_count + 1,
				last_message_at = ?,
				first_response_at = COALESCE(first_response_at, ?)
			WHERE id = ?`
		args = []any{t, t, conversationID}
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		slog.Error("Failed to record conversation activity",
			"error", err,
			"conversation_id", conversationID,
		)
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// ListIdle returns ai_active conversations with no activity since before
func (r *SQLRepository) ListIdle(ctx context.Context, before time.Time, limit int) ([]*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE status = ? AND COALESCE(last_message_at, created_at) < ?
		ORDER BY created_at ASC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, domain.StatusAIActive, utc(before), limit)
	if err != nil {
		slog.Error("Failed to list idle conversations", "error", err)
		return nil, fmt.Errorf("list idle conversations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			slog.Error("Failed to scan conversation row", "error", err)
			continue
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// ============================================================================
// Agent load (only ever changed inside a transition transaction)
// ============================================================================

// incrementLoad takes one slot from an online agent with spare capacity.
// When no row matches, the reason is classified inside the same transaction.
func (r *SQLRepository) incrementLoad(ctx context.Context, tx execer, projectID, agentID string, at time.Time) error {
	query := `
		UPDATE agent_availability
		SET current_chat_count = current_chat_count + 1,
			last_assigned_at = ?,
			updated_at = ?
		WHERE agent_id = ? AND project_id = ? AND status = ?
		  AND current_chat_count < max_concurrent_chats`

	res, err := tx.ExecContext(ctx, query, at, at, agentID, projectID, domain.AgentOnline)
	if err != nil {
		return fmt.Errorf("increment agent load: %w", err)
	}
	if affected(res) == 1 {
		return nil
	}

	var status domain.AgentStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM agent_availability WHERE agent_id = ? AND project_id = ?`,
		agentID, projectID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrAgentNotOnline
	}
	if err != nil {
		return fmt.Errorf("classify agent: %w", err)
	}
	if status != domain.AgentOnline {
		return domain.ErrAgentNotOnline
	}
	return domain.ErrAgentAtCapacity
}

// decrementLoad releases one slot; the count never drops below zero
func (r *SQLRepository) decrementLoad(ctx context.Context, tx execer, projectID, agentID string, at time.Time) error {
	query := `
		UPDATE agent_availability
		SET current_chat_count = current_chat_count - 1, updated_at = ?
		WHERE agent_id = ? AND project_id = ? AND current_chat_count > 0`

	res, err := tx.ExecContext(ctx, query, at, agentID, projectID)
	if err != nil {
		return fmt.Errorf("decrement agent load: %w", err)
	}
	if affected(res) == 0 {
		slog.Warn("Agent load already at zero",
			"agent_id", agentID,
			"project_id", projectID,
		)
	}
	return nil
}

func statusArgs(statuses []domain.ConversationStatus) []any {
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return args
}

// logTransitionError keeps expected race outcomes at debug level
func logTransitionError(op, conversationID string, err error) {
	if errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrAgentAtCapacity) ||
		errors.Is(err, domain.ErrAgentNotOnline) {
		slog.Debug("Conversation transition rejected",
			"op", op,
			"conversation_id", conversationID,
			"reason", err,
		)
		return
	}
	slog.Error("Conversation transition failed",
		"error", err,
		"op", op,
		"conversation_id", conversationID,
	)
}
