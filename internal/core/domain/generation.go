package domain

import "encoding/json"

// Role of a message sent to the text-generation service
type Role string

// Role constants
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one entry of the generation message list
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolDefinition is the schema advertised to the generation service
type ToolDefinition struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty" yaml:"-"`
}

// ToolCall is a tool invocation requested by the generation service
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON
}

// ToolCallRecord is the outcome of executing one ToolCall
type ToolCallRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	Success    bool   `json:"success"`
	Skipped    bool   `json:"skipped,omitempty"` // requested after the iteration limit, never executed
	DurationMs int64  `json:"durationMs"`
	Iteration  int    `json:"iteration"`
}

// TokenUsage accumulates generation token counts
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add accumulates other into u
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// GenerationRequest is the input to a text-generation call
type GenerationRequest struct {
	Model       string
	Messages    []ChatMessage
	Tools       []ToolDefinition
	Temperature float32
	MaxTokens   int
}

// GenerationResponse is either a final answer (no ToolCalls) or a tool request
type GenerationResponse struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        TokenUsage
	FinishReason string
}

// Chunk is one scored piece of retrieved knowledge
type Chunk struct {
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
	SourceURL string  `json:"sourceUrl,omitempty"`
	Title     string  `json:"title,omitempty"`
}
