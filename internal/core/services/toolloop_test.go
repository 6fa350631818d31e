package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"handoff-engine/internal/core/domain"
)

func toolCallResponse(id string) *domain.GenerationResponse {
	return &domain.GenerationResponse{
		ToolCalls: []domain.ToolCall{{ID: id, Name: "lookup_order", Arguments: `{"order":"42"}`}},
		Usage:     domain.TokenUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
	}
}

func baseRequest() domain.GenerationRequest {
	return domain.GenerationRequest{
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "You are helpful."},
			{Role: domain.RoleUser, Content: "Where is my order?"},
		},
	}
}

// TestToolLoop_StopsAtIterationLimit tests a generator that always wants tools is called exactly three times
func TestToolLoop_StopsAtIterationLimit(t *testing.T) {
	gen := new(MockGenerator)
	tools := new(MockToolExecutor)

	gen.On("Generate", mock.Anything, mock.Anything).Return(toolCallResponse("call-1"), nil)
	tools.On("Execute", mock.Anything, "p1", mock.Anything).Return(`{"status":"shipped"}`, nil)

	loop := NewToolLoop(gen, tools, 3, time.Second)
	result, err := loop.Run(context.Background(), "p1", baseRequest())

	require.NoError(t, err)
	assert.True(t, result.LimitReached)
	assert.Empty(t, result.Content)
	assert.Equal(t, 3, result.Iterations)
	assert.Len(t, result.ToolCalls, 3)
	assert.Equal(t, 36, result.Usage.TotalTokens)
	gen.AssertNumberOfCalls(t, "Generate", 3)
	tools.AssertNumberOfCalls(t, "Execute", 2)

	for i, rec := range result.ToolCalls {
		assert.Equal(t, i+1, rec.Iteration)
	}
	assert.True(t, result.ToolCalls[0].Success)
	assert.True(t, result.ToolCalls[1].Success)

	last := result.ToolCalls[2]
	assert.True(t, last.Skipped)
	assert.False(t, last.Success)
	assert.Empty(t, last.Result)
}

// TestToolLoop_LastIterationSkipsTools tests tools requested by the final allowed call never run
func TestToolLoop_LastIterationSkipsTools(t *testing.T) {
	gen := new(MockGenerator)
	tools := new(MockToolExecutor)

	gen.On("Generate", mock.Anything, mock.Anything).Return(toolCallResponse("call-1"), nil)

	loop := NewToolLoop(gen, tools, 1, time.Second)
	result, err := loop.Run(context.Background(), "p1", baseRequest())

	require.NoError(t, err)
	assert.True(t, result.LimitReached)
	require.Len(t, result.ToolCalls, 1)
	assert.True(t, result.ToolCalls[0].Skipped)
	assert.Equal(t, "call-1", result.ToolCalls[0].ID)
	tools.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

// TestToolLoop_FeedsToolResultsBack tests a tool result reaches the next generation call
func TestToolLoop_FeedsToolResultsBack(t *testing.T) {
	gen := new(MockGenerator)
	tools := new(MockToolExecutor)

	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerationRequest) bool {
		return len(req.Messages) == 2
	})).Return(toolCallResponse("call-1"), nil).Once()

	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerationRequest) bool {
		if len(req.Messages) != 4 {
			return false
		}
		toolMsg := req.Messages[3]
		return req.Messages[2].Role == domain.RoleAssistant &&
			toolMsg.Role == domain.RoleTool &&
			toolMsg.ToolCallID == "call-1" &&
			toolMsg.Content == `{"status":"shipped"}`
	})).Return(&domain.GenerationResponse{Content: "  It shipped yesterday.  "}, nil).Once()

	tools.On("Execute", mock.Anything, "p1", mock.Anything).Return(`{"status":"shipped"}`, nil)

	loop := NewToolLoop(gen, tools, 3, time.Second)
	result, err := loop.Run(context.Background(), "p1", baseRequest())

	require.NoError(t, err)
	assert.False(t, result.LimitReached)
	assert.Equal(t, "It shipped yesterday.", result.Content)
	assert.Equal(t, 2, result.Iterations)
	gen.AssertExpectations(t)
}

// TestToolLoop_ToolFailureIsFedBack tests a failing tool becomes an error message, not a loop error
func TestToolLoop_ToolFailureIsFedBack(t *testing.T) {
	gen := new(MockGenerator)
	tools := new(MockToolExecutor)

	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerationRequest) bool {
		return len(req.Messages) == 2
	})).Return(toolCallResponse("call-1"), nil).Once()
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerationRequest) bool {
		return len(req.Messages) == 4 && req.Messages[3].Content == "error: order service down"
	})).Return(&domain.GenerationResponse{Content: "Sorry, I cannot check that right now."}, nil).Once()

	tools.On("Execute", mock.Anything, "p1", mock.Anything).Return("", errors.New("order service down"))

	loop := NewToolLoop(gen, tools, 3, time.Second)
	result, err := loop.Run(context.Background(), "p1", baseRequest())

	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 1)
	assert.False(t, result.ToolCalls[0].Success)
	assert.Equal(t, "order service down", result.ToolCalls[0].Error)
	assert.Equal(t, "Sorry, I cannot check that right now.", result.Content)
	gen.AssertExpectations(t)
}

// TestToolLoop_NoExecutor tests tool calls fail cleanly when no executor is wired
func TestToolLoop_NoExecutor(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerationRequest) bool {
		return len(req.Messages) == 2
	})).Return(toolCallResponse("call-1"), nil).Once()
	gen.On("Generate", mock.Anything, mock.Anything).Return(&domain.GenerationResponse{Content: "done"}, nil).Once()

	loop := NewToolLoop(gen, nil, 3, time.Second)
	result, err := loop.Run(context.Background(), "p1", baseRequest())

	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 1)
	assert.False(t, result.ToolCalls[0].Success)
	assert.Contains(t, result.ToolCalls[0].Error, "not available")
	assert.Equal(t, "done", result.Content)
}

// TestToolLoop_Timeout tests a generation call outliving the per-call deadline
func TestToolLoop_Timeout(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	loop := NewToolLoop(gen, nil, 3, 20*time.Millisecond)
	_, err := loop.Run(context.Background(), "p1", baseRequest())

	assert.ErrorIs(t, err, domain.ErrGenerationTimeout)
	gen.AssertNumberOfCalls(t, "Generate", 1)
}

// TestToolLoop_GenerationError tests non-timeout failures are wrapped and returned
func TestToolLoop_GenerationError(t *testing.T) {
	gen := new(MockGenerator)
	boom := errors.New("rate limited")
	gen.On("Generate", mock.Anything, mock.Anything).Return(nil, boom)

	loop := NewToolLoop(gen, nil, 0, 0)
	_, err := loop.Run(context.Background(), "p1", baseRequest())

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domain.ErrGenerationTimeout)
}
