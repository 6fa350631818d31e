// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"handoff-engine/internal/core/ports"
)

// Ensure SQLRepository implements the required interfaces
var (
	_ ports.ConversationRepository = (*SQLRepository)(nil)
	_ ports.MessageRepository      = (*SQLRepository)(nil)
	_ ports.AgentRepository        = (*SQLRepository)(nil)
	_ ports.ProjectRepository      = (*SQLRepository)(nil)
	_ ports.LeadCaptureRepository  = (*SQLRepository)(nil)
)

// Driver names accepted by NewSQLRepository
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// dialect holds the few statements that differ between MariaDB and SQLite.
// Everything else is plain SQL with ? placeholders.
type dialect struct {
	name         string
	insertIgnore string
	timestamp    string
}

var (
	mysqlDialect  = dialect{name: DriverMySQL, insertIgnore: "INSERT IGNORE", timestamp: "DATETIME(6)"}
	sqliteDialect = dialect{name: DriverSQLite, insertIgnore: "INSERT OR IGNORE", timestamp: "DATETIME"}
)

// SQLRepository implements persistence operations on MariaDB (production)
// or SQLite (embedded/dev). All timestamps are written in UTC.
type SQLRepository struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLRepository creates a repository for the given driver name
func NewSQLRepository(db *sql.DB, driver string) (*SQLRepository, error) {
	var d dialect
	switch driver {
	case DriverMySQL:
		d = mysqlDialect
	case DriverSQLite:
		d = sqliteDialect
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	return &SQLRepository{db: db, dialect: d}, nil
}

// Migrate creates the tables if they do not exist
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(r.dialect) {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			slog.Error("Failed to apply schema statement",
				"error", err,
				"driver", r.dialect.name,
			)
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	slog.Info("Schema ready", "driver", r.dialect.name)
	return nil
}

// DB exposes the underlying handle (health checks, seeding)
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn inside a transaction. fn must only use tx: with a single
// pooled connection (SQLite) touching r.db inside fn would block forever.
func (r *SQLRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// utc normalises a timestamp before it is bound as a parameter
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := utc(*t)
	return &v
}

// placeholders returns "?, ?, ?" for n arguments
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
