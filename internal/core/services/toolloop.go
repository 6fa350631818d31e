package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/ports"
)

// Tool loop limits
const (
	MaxToolCallIterations    = 3
	DefaultGenerationTimeout = 30 * time.Second
)

// LoopResult is the accumulated state of one generation turn
type LoopResult struct {
	Content      string
	ToolCalls    []domain.ToolCallRecord
	Usage        domain.TokenUsage
	Iterations   int
	LimitReached bool
}

// ToolLoop calls generation until it returns a final answer, executing the
// tools it asks for in between. It never makes more than maxIterations
// generation calls.
type ToolLoop struct {
	generator     ports.Generator
	tools         ports.ToolExecutor
	maxIterations int
	callTimeout   time.Duration
}

// NewToolLoop creates a loop; zero limits fall back to the defaults
func NewToolLoop(generator ports.Generator, tools ports.ToolExecutor, maxIterations int, callTimeout time.Duration) *ToolLoop {
	if maxIterations <= 0 {
		maxIterations = MaxToolCallIterations
	}
	if callTimeout <= 0 {
		callTimeout = DefaultGenerationTimeout
	}
	return &ToolLoop{
		generator:     generator,
		tools:         tools,
		maxIterations: maxIterations,
		callTimeout:   callTimeout,
	}
}

// Run executes the loop. A generation call exceeding the timeout returns
// domain.ErrGenerationTimeout. Tools requested by the last allowed call are
// recorded as skipped and not executed. Tool failures are fed back, never returned.
// An empty Content with LimitReached=false means generation answered with
// nothing.
func (l *ToolLoop) Run(ctx context.Context, projectID string, req domain.GenerationRequest) (*LoopResult, error) {
	result := &LoopResult{}
	messages := append([]domain.ChatMessage(nil), req.Messages...)

	for result.Iterations < l.maxIterations {
		result.Iterations++
		req.Messages = messages

		resp, err := l.generate(ctx, req)
		if err != nil {
			return result, err
		}
		result.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			result.Content = strings.TrimSpace(resp.Content)
			return result, nil
		}

		if result.Iterations == l.maxIterations {
			// no generation call is left to read the results
			for _, call := range resp.ToolCalls {
				result.ToolCalls = append(result.ToolCalls, domain.ToolCallRecord{
					ID:        call.ID,
					Name:      call.Name,
					Arguments: call.Arguments,
					Iteration: result.Iterations,
					Skipped:   true,
					Error:     "tool call limit reached",
				})
			}
			break
		}

		messages = append(messages, domain.ChatMessage{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			record := l.execute(ctx, projectID, call, result.Iterations)
			result.ToolCalls = append(result.ToolCalls, record)

			content := record.Result
			if !record.Success {
				content = "error: " + record.Error
			}
			messages = append(messages, domain.ChatMessage{
				Role:       domain.RoleTool,
				Content:    content,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	result.LimitReached = true
	slog.Warn("Tool call limit reached",
		"project_id", projectID,
		"iterations", result.Iterations,
		"tool_calls", len(result.ToolCalls),
	)
	return result, nil
}

func (l *ToolLoop) generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()

	resp, err := l.generator.Generate(callCtx, req)
	if err != nil {
		if errors.Is(err, domain.ErrGenerationTimeout) ||
			(errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil) {
			return nil, domain.ErrGenerationTimeout
		}
		return nil, fmt.Errorf("generate: %w", err)
	}
	if resp == nil {
		return &domain.GenerationResponse{}, nil
	}
	return resp, nil
}

func (l *ToolLoop) execute(ctx context.Context, projectID string, call domain.ToolCall, iteration int) domain.ToolCallRecord {
	record := domain.ToolCallRecord{
		ID:        call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
		Iteration: iteration,
	}

	start := time.Now()
	var out string
	var err error
	if l.tools == nil {
		err = fmt.Errorf("tool %s is not available", call.Name)
	} else {
		out, err = l.tools.Execute(ctx, projectID, call)
	}
	record.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		record.Error = err.Error()
		slog.Warn("Tool call failed",
			"tool", call.Name,
			"error", err,
			"iteration", iteration,
		)
		return record
	}
	record.Success = true
	record.Result = out
	return record
}
