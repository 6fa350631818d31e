package ports

import (
	"context"

	"handoff-engine/internal/core/domain"
)

// Generator is the text-generation collaborator.
// Implementations must honour ctx cancellation; the core bounds each call with a timeout.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error)
}

// Retriever is the semantic-retrieval collaborator
type Retriever interface {
	// Retrieve returns chunks ranked by descending score
	Retrieve(ctx context.Context, projectID, query string, topK int) ([]domain.Chunk, error)
}

// ToolExecutor exposes and runs the external tools a project allows
type ToolExecutor interface {
	// Definitions returns the tool schema advertised to generation (may be empty)
	Definitions(ctx context.Context, projectID string) []domain.ToolDefinition

	// Execute runs one tool call and returns its textual result
	Execute(ctx context.Context, projectID string, call domain.ToolCall) (string, error)
}

// Notifier fans state changes out to realtime subscribers (best-effort)
type Notifier interface {
	Notify(ctx context.Context, event domain.Event) error
}

// ConfigCache is a read-through cache of project configuration.
// It is never authoritative for conversation state.
type ConfigCache interface {
	Get(ctx context.Context, projectID string) (*domain.ProjectConfig, error)
	Invalidate(ctx context.Context, projectID string) error
}
