package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"handoff-engine/internal/core/domain"
)

// ============================================================================
// LeadCaptureRepository Implementation
// ============================================================================

// GetLeadCapture returns the visitor's progress, or an inactive state
func (r *SQLRepository) GetLeadCapture(ctx context.Context, projectID, visitorID string) (*domain.LeadCaptureState, error) {
	state := &domain.LeadCaptureState{
		ProjectID: projectID,
		VisitorID: visitorID,
		Status:    domain.LeadCaptureInactive,
		Fields:    map[string]string{},
	}

	var fields string
	err := r.db.QueryRowContext(ctx, `
		SELECT status, fields_json, pending_index, updated_at
		FROM lead_capture_states
		WHERE project_id = ? AND visitor_id = ?`,
		projectID, visitorID,
	).Scan(&state.Status, &fields, &state.PendingIndex, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		slog.Error("Failed to get lead capture state",
			"error", err,
			"project_id", projectID,
			"visitor_id", visitorID,
		)
		return nil, fmt.Errorf("get lead capture: %w", err)
	}

	if fields != "" {
		if err := json.Unmarshal([]byte(fields), &state.Fields); err != nil {
			return nil, fmt.Errorf("decode lead fields: %w", err)
		}
	}
	return state, nil
}

// SaveLeadCapture upserts the visitor's progress
func (r *SQLRepository) SaveLeadCapture(ctx context.Context, state *domain.LeadCaptureState) error {
	if state.Fields == nil {
		state.Fields = map[string]string{}
	}
	fields, err := json.Marshal(state.Fields)
	if err != nil {
		return fmt.Errorf("encode lead fields: %w", err)
	}
	state.UpdatedAt = utc(time.Now())

	_, err = r.db.ExecContext(ctx, `
		REPLACE INTO lead_capture_states (project_id, visitor_id, status, fields_json, pending_index, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		state.ProjectID,
		state.VisitorID,
		state.Status,
		string(fields),
		state.PendingIndex,
		state.UpdatedAt,
	)
	if err != nil {
		slog.Error("Failed to save lead capture state",
			"error", err,
			"project_id", state.ProjectID,
			"visitor_id", state.VisitorID,
		)
		return fmt.Errorf("save lead capture: %w", err)
	}
	return nil
}
