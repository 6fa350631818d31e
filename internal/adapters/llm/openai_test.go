package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handoff-engine/internal/core/domain"
)

func newFakeAPI(t *testing.T, handler func(req openai.ChatCompletionRequest) any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(handler(req))
	}))
	t.Cleanup(server.Close)
	return server
}

// TestGenerate_FinalAnswer tests defaults and usage mapping
func TestGenerate_FinalAnswer(t *testing.T) {
	server := newFakeAPI(t, func(req openai.ChatCompletionRequest) any {
		assert.Equal(t, "test-model", req.Model)
		assert.InDelta(t, 0.2, req.Temperature, 0.0001)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Empty(t, req.Tools)

		return openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: "assistant", Content: "We open at nine."},
				FinishReason: openai.FinishReasonStop,
			}},
			Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17},
		}
	})

	c := NewClient("sk-test", server.URL+"/v1", "test-model", 0.2)
	resp, err := c.Generate(context.Background(), domain.GenerationRequest{
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "You are a support assistant."},
			{Role: domain.RoleUser, Content: "When do you open?"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "We open at nine.", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
	assert.Empty(t, resp.ToolCalls)
}

// TestGenerate_ToolCalls tests tool definitions go out and tool calls come back
func TestGenerate_ToolCalls(t *testing.T) {
	server := newFakeAPI(t, func(req openai.ChatCompletionRequest) any {
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "order_status", req.Tools[0].Function.Name)

		return openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role: "assistant",
					ToolCalls: []openai.ToolCall{{
						ID:       "call-1",
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: "order_status", Arguments: `{"orderNumber":"42"}`},
					}},
				},
				FinishReason: openai.FinishReasonToolCalls,
			}},
		}
	})

	c := NewClient("sk-test", server.URL+"/v1", "", 0)
	resp, err := c.Generate(context.Background(), domain.GenerationRequest{
		Model:    "override",
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "Where is order 42?"}},
		Tools:    []domain.ToolDefinition{{Name: "order_status", Description: "Order lookup"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, domain.ToolCall{ID: "call-1", Name: "order_status", Arguments: `{"orderNumber":"42"}`}, resp.ToolCalls[0])
}

// TestGenerate_Timeout tests an expired deadline maps to ErrGenerationTimeout
func TestGenerate_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewClient("sk-test", server.URL+"/v1", "", 0)
	_, err := c.Generate(ctx, domain.GenerationRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	})
	assert.ErrorIs(t, err, domain.ErrGenerationTimeout)
}

func TestToOpenAIMessages(t *testing.T) {
	msgs := toOpenAIMessages([]domain.ChatMessage{
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "c1", Name: "store_hours", Arguments: "{}"}}},
		{Role: domain.RoleTool, Content: "9 to 5", ToolCallID: "c1", Name: "store_hours"},
		{Role: domain.RoleUser, Content: "thanks", Name: "ignored"},
	})

	require.Len(t, msgs, 3)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, openai.ToolTypeFunction, msgs[0].ToolCalls[0].Type)
	assert.Equal(t, "store_hours", msgs[0].ToolCalls[0].Function.Name)
	assert.Equal(t, "c1", msgs[1].ToolCallID)
	assert.Equal(t, "store_hours", msgs[1].Name)
	assert.Empty(t, msgs[2].Name)
}

func TestToOpenAITools(t *testing.T) {
	assert.Nil(t, toOpenAITools(nil))

	tools := toOpenAITools([]domain.ToolDefinition{
		{Name: "store_hours"},
		{Name: "order_status", Parameters: json.RawMessage(`{"type":"object","required":["orderNumber"]}`)},
	})
	require.Len(t, tools, 2)
	assert.Equal(t, emptyParameters, tools[0].Function.Parameters)
	assert.Equal(t, json.RawMessage(`{"type":"object","required":["orderNumber"]}`), tools[1].Function.Parameters)
}
