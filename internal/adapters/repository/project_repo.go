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
// ProjectRepository Implementation
// ============================================================================

// GetProject retrieves a project by id
func (r *SQLRepository) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	var p domain.Project
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		slog.Error("Failed to get project",
			"error", err,
			"project_id", id,
		)
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// IsMember reports whether userID is listed in project_members
func (r *SQLRepository) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM project_members WHERE project_id = ? AND user_id = ? LIMIT 1`,
		projectID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

// GetProjectConfig loads the project with its settings document.
// A project without a settings row gets zero settings (handoff disabled).
func (r *SQLRepository) GetProjectConfig(ctx context.Context, projectID string) (*domain.ProjectConfig, error) {
	project, err := r.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	cfg := &domain.ProjectConfig{Project: *project}

	var raw string
	err = r.db.QueryRowContext(ctx,
		`SELECT settings_json FROM project_settings WHERE project_id = ?`, projectID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project settings: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), cfg); err != nil {
		slog.Error("Invalid project settings document",
			"error", err,
			"project_id", projectID,
		)
		return nil, fmt.Errorf("decode project settings: %w", err)
	}
	cfg.Project = *project
	return cfg, nil
}

// CreateProject inserts a project and registers the owner as a member
func (r *SQLRepository) CreateProject(ctx context.Context, p *domain.Project) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO projects (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)`,
			p.ID, p.Name, p.OwnerID, utc(time.Now()),
		); err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			r.dialect.insertIgnore+` INTO project_members (project_id, user_id, role) VALUES (?, ?, ?)`,
			p.ID, p.OwnerID, "owner",
		); err != nil {
			return fmt.Errorf("add owner: %w", err)
		}
		return nil
	})
}

// AddMember registers userID in the project with the given role
func (r *SQLRepository) AddMember(ctx context.Context, projectID, userID, role string) error {
	_, err := r.db.ExecContext(ctx,
		r.dialect.insertIgnore+` INTO project_members (project_id, user_id, role) VALUES (?, ?, ?)`,
		projectID, userID, role,
	)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// SaveProjectSettings stores the settings document of a project
func (r *SQLRepository) SaveProjectSettings(ctx context.Context, cfg *domain.ProjectConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode project settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`REPLACE INTO project_settings (project_id, settings_json, updated_at) VALUES (?, ?, ?)`,
		cfg.Project.ID, string(raw), utc(time.Now()),
	)
	if err != nil {
		slog.Error("Failed to save project settings",
			"error", err,
			"project_id", cfg.Project.ID,
		)
		return fmt.Errorf("save project settings: %w", err)
	}
	return nil
}
