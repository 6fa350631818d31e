package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"handoff-engine/internal/core/domain"
)

// ============================================================================
// MessageRepository Implementation
// ============================================================================

// SaveMessage appends a message. ID and CreatedAt are filled when empty.
func (r *SQLRepository) SaveMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = utc(msg.CreatedAt)

	var metadata any
	if len(msg.Metadata) > 0 {
		metadata = string(msg.Metadata)
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_type, sender_id, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderType,
		msg.SenderID,
		msg.Content,
		metadata,
		msg.CreatedAt,
	)
	if err != nil {
		slog.Error("Failed to save message",
			"error", err,
			"conversation_id", msg.ConversationID,
		)
		return fmt.Errorf("save message: %w", err)
	}

	slog.Debug("Message saved",
		"conversation_id", msg.ConversationID,
		"sender_type", msg.SenderType,
	)
	return nil
}

// CountCustomerMessages counts every customer message of a conversation
func (r *SQLRepository) CountCustomerMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND sender_type = ?`,
		conversationID, domain.SenderCustomer,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count customer messages: %w", err)
	}
	return n, nil
}

// ListRecentMessages returns the latest limit messages, oldest first
func (r *SQLRepository) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_type, sender_id, content, metadata, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		slog.Error("Failed to get messages",
			"error", err,
			"conversation_id", conversationID,
		)
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var metadata sql.NullString
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderType,
			&msg.SenderID,
			&msg.Content,
			&metadata,
			&msg.CreatedAt,
		); err != nil {
			slog.Error("Failed to scan message row", "error", err)
			continue
		}
		if metadata.Valid && metadata.String != "" {
			msg.Metadata = json.RawMessage(metadata.String)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// newest-first from the query; callers want chat order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
