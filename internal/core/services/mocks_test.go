package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stretchr/testify/mock"

	"handoff-engine/internal/core/domain"
)

// ============================================================================
// Mock Collaborators
// ============================================================================

// MockGenerator mocks the Generator port
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	args := m.Called(ctx, req)
	// Safely handle nil return
	if result := args.Get(0); result != nil {
		return result.(*domain.GenerationResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockRetriever mocks the Retriever port
type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, projectID, query string, topK int) ([]domain.Chunk, error) {
	args := m.Called(ctx, projectID, query, topK)
	if result := args.Get(0); result != nil {
		return result.([]domain.Chunk), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockToolExecutor mocks the ToolExecutor port
type MockToolExecutor struct {
	mock.Mock
}

func (m *MockToolExecutor) Definitions(ctx context.Context, projectID string) []domain.ToolDefinition {
	args := m.Called(ctx, projectID)
	if result := args.Get(0); result != nil {
		return result.([]domain.ToolDefinition)
	}
	return nil
}

func (m *MockToolExecutor) Execute(ctx context.Context, projectID string, call domain.ToolCall) (string, error) {
	args := m.Called(ctx, projectID, call)
	return args.String(0), args.Error(1)
}

// recordingNotifier keeps every event it receives, encoded the way a
// realtime sink would encode it
type recordingNotifier struct {
	mu       sync.Mutex
	events   []domain.Event
	payloads [][]byte
}

func (n *recordingNotifier) Notify(_ context.Context, event domain.Event) error {
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.payloads = append(n.payloads, raw)
	return nil
}

// payloadsOf returns the encoded data of every event of typ
func (n *recordingNotifier) payloadsOf(typ domain.EventType) [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out [][]byte
	for i, e := range n.events {
		if e.Type == typ {
			out = append(out, n.payloads[i])
		}
	}
	return out
}

func (n *recordingNotifier) types() []domain.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}
