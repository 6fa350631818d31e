package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/ports"
)

// Pipeline limits
const (
	MaxMessageLength     = 4000
	DefaultHistoryLimit  = 10
	DefaultRetrievalTopK = 5
)

// DefaultSystemPrompt is used when a project configures none
const DefaultSystemPrompt = "You are a helpful customer support assistant. Answer briefly and only from the provided knowledge. If you are not sure, say so and offer to connect the customer with a human."

// HistoryItem is a client-supplied prior turn
type HistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one inbound customer message
type ChatRequest struct {
	ProjectID           string
	Message             string
	VisitorID           string
	SessionID           string
	ConversationHistory []HistoryItem
}

// HandoffInfo tells the widget the conversation is (or could not be) with a human
type HandoffInfo struct {
	Status        string    `json:"status"`
	QueuePosition int       `json:"queuePosition,omitempty"`
	AssignedAgent *AgentRef `json:"assignedAgent,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// ChatResponse is the outcome of one turn
type ChatResponse struct {
	Response       string                  `json:"response"`
	SessionID      string                  `json:"sessionId"`
	VisitorID      string                  `json:"visitorId"`
	ConversationID string                  `json:"conversationId,omitempty"`
	Sources        []domain.Chunk          `json:"sources"`
	ToolCalls      []domain.ToolCallRecord `json:"toolCalls"`
	Handoff        *HandoffInfo            `json:"handoff,omitempty"`
}

// PipelineDeps groups the collaborators of ChatPipeline
type PipelineDeps struct {
	Conversations     ports.ConversationRepository
	Messages          ports.MessageRepository
	Configs           ports.ConfigCache
	Handoff           *HandoffService
	LeadCapture       *LeadCapture
	Retriever         ports.Retriever
	Generator         ports.Generator
	Tools             ports.ToolExecutor
	Pause             *AIPause
	Notifier          ports.Notifier
	Runner            *BackgroundRunner
	MaxToolIterations int
	GenerationTimeout time.Duration
	HistoryLimit      int
}

// ChatPipeline runs one customer message through the interceptor chain and
// always produces exactly one reply: handoff, qualifying-flow, generated or
// fallback.
type ChatPipeline struct {
	convs        ports.ConversationRepository
	messages     ports.MessageRepository
	configs      ports.ConfigCache
	handoff      *HandoffService
	leads        *LeadCapture
	retriever    ports.Retriever
	tools        ports.ToolExecutor
	loop         *ToolLoop
	pause        *AIPause
	runner       *BackgroundRunner
	events       eventEmitter
	historyLimit int
	interceptors []Interceptor
	now          func() time.Time
}

// NewChatPipeline wires the default interceptor chain
func NewChatPipeline(deps PipelineDeps) *ChatPipeline {
	historyLimit := deps.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	p := &ChatPipeline{
		convs:        deps.Conversations,
		messages:     deps.Messages,
		configs:      deps.Configs,
		handoff:      deps.Handoff,
		leads:        deps.LeadCapture,
		retriever:    deps.Retriever,
		tools:        deps.Tools,
		loop:         NewToolLoop(deps.Generator, deps.Tools, deps.MaxToolIterations, deps.GenerationTimeout),
		pause:        deps.Pause,
		runner:       deps.Runner,
		events:       eventEmitter{notifier: deps.Notifier, runner: deps.Runner, now: time.Now},
		historyLimit: historyLimit,
		now:          time.Now,
	}
	p.interceptors = p.defaultChain()
	return p
}

// Handle processes one customer message. Only VALIDATION_ERROR and
// NOT_FOUND are returned as errors; every other failure yields the
// project's fallback reply.
func (p *ChatPipeline) Handle(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, domain.NewError(domain.CodeValidation, "projectId is required")
	}
	if message == "" {
		return nil, domain.NewError(domain.CodeValidation, "message is required")
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return nil, domain.NewError(domain.CodeValidation, "message exceeds %d characters", MaxMessageLength)
	}

	visitorID := strings.TrimSpace(req.VisitorID)
	if visitorID == "" {
		visitorID = "visitor_" + uuid.NewString()
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	resp := &ChatResponse{
		SessionID: sessionID,
		VisitorID: visitorID,
		Sources:   []domain.Chunk{},
		ToolCalls: []domain.ToolCallRecord{},
	}

	cfg, err := p.configs.Get(ctx, req.ProjectID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.CodeNotFound, "project %s not found", req.ProjectID)
	}
	if err != nil {
		return p.fallback(resp, nil, err), nil
	}

	conv, _, err := p.convs.ResolveSession(ctx, req.ProjectID, visitorID, sessionID, p.now())
	if err != nil {
		return p.fallback(resp, cfg, err), nil
	}
	resp.ConversationID = conv.ID

	// history is read before the new message is stored so it is not duplicated
	stored, err := p.messages.ListRecentMessages(ctx, conv.ID, p.historyLimit)
	if err != nil {
		slog.Warn("Failed to load conversation history",
			"error", err,
			"conversation_id", conv.ID,
		)
	}

	customer := &domain.Message{
		ConversationID: conv.ID,
		SenderType:     domain.SenderCustomer,
		SenderID:       &visitorID,
		Content:        message,
		CreatedAt:      p.now(),
	}
	if err := p.messages.SaveMessage(ctx, customer); err != nil {
		return p.fallback(resp, cfg, err), nil
	}
	p.recordMessage(ctx, conv, customer)

	customerMessages, err := p.messages.CountCustomerMessages(ctx, conv.ID)
	if err != nil {
		slog.Warn("Failed to count customer messages",
			"error", err,
			"conversation_id", conv.ID,
		)
		customerMessages = countCustomer(stored) + 1
	}

	turn := &Turn{
		Config:           cfg,
		Conversation:     conv,
		Message:          message,
		History:          p.buildHistory(stored, req.ConversationHistory),
		CustomerMessages: customerMessages,
	}

	reply, err := p.run(ctx, turn)
	if err != nil {
		slog.Error("Chat turn failed, sending fallback",
			"error", err,
			"conversation_id", conv.ID,
			"project_id", conv.ProjectID,
		)
		turn.reset()
		reply = domain.Template(cfg.Assistant.FallbackMessage, domain.DefaultFallbackMessage)
	}

	if turn.Generated {
		reply = p.postProcess(ctx, turn, reply)
	}

	resp.Response = reply
	resp.Handoff = turn.Handoff
	if turn.Chunks != nil {
		resp.Sources = turn.Chunks
	}
	if turn.ToolCalls != nil {
		resp.ToolCalls = turn.ToolCalls
	}

	p.logTurn(ctx, turn, reply)
	return resp, nil
}

// run evaluates interceptors until the first Reply
func (p *ChatPipeline) run(ctx context.Context, t *Turn) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in chat pipeline",
				"panic", r,
				"conversation_id", t.Conversation.ID,
			)
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	for _, ic := range p.interceptors {
		step, err := ic.Run(ctx, t)
		if err != nil {
			return "", fmt.Errorf("%s: %w", ic.Name, err)
		}
		if step.Kind == StepReply {
			slog.Debug("Chat turn answered",
				"interceptor", ic.Name,
				"conversation_id", t.Conversation.ID,
			)
			return step.Reply, nil
		}
	}
	return "", errors.New("no interceptor produced a reply")
}

// postProcess sanitizes a generated reply and appends the first lead-capture
// question when the flow starts on this turn
func (p *ChatPipeline) postProcess(ctx context.Context, t *Turn, reply string) string {
	assistant := t.Config.Assistant
	clean, leaked := SanitizeReply(reply, domain.Template(assistant.SystemPrompt, DefaultSystemPrompt))
	if leaked {
		slog.Warn("Prompt leak detected in generated reply",
			"conversation_id", t.Conversation.ID,
		)
		return domain.Template(assistant.RefusalMessage, domain.DefaultRefusalMessage)
	}

	if p.leads == nil {
		return clean
	}
	question, err := p.leads.MaybeStart(ctx, t.Config, t.Conversation, t.CustomerMessages)
	if err != nil {
		slog.Warn("Failed to start lead capture",
			"error", err,
			"conversation_id", t.Conversation.ID,
		)
		return clean
	}
	if question != "" {
		return clean + "\n\n" + question
	}
	return clean
}

// logTurn persists the reply and emits events in the background
func (p *ChatPipeline) logTurn(ctx context.Context, t *Turn, reply string) {
	if t.Silent || t.Persisted || reply == "" {
		return
	}

	sender := domain.SenderAI
	if t.Handoff != nil {
		sender = domain.SenderSystem
	}
	metadata, _ := json.Marshal(turnMetadata{
		Sources:    len(t.Chunks),
		ToolCalls:  t.ToolCalls,
		Usage:      t.Usage,
		Generated:  t.Generated,
		Confidence: topScorePtr(t.Chunks),
	})
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: t.Conversation.ID,
		SenderType:     sender,
		Content:        reply,
		Metadata:       metadata,
		CreatedAt:      p.now().UTC(),
	}
	conv := t.Conversation

	if p.runner == nil {
		return
	}
	// the save task owns msg; the event carries its own copy
	p.events.emit(ctx, domain.EventNewMessage, conv.ProjectID, conv.ID, *msg)
	p.runner.Submit("log chat turn", func(bg context.Context) error {
		if err := p.messages.SaveMessage(bg, msg); err != nil {
			return err
		}
		if err := p.convs.RecordActivity(bg, conv.ID, sender, msg.CreatedAt); err != nil {
			return err
		}
		return nil
	})
}

// recordMessage bumps counters for the stored customer message and notifies agents
func (p *ChatPipeline) recordMessage(ctx context.Context, conv *domain.Conversation, msg *domain.Message) {
	if p.runner != nil {
		p.runner.Submit("record customer activity", func(bg context.Context) error {
			return p.convs.RecordActivity(bg, conv.ID, msg.SenderType, msg.CreatedAt)
		})
	}
	p.events.emit(ctx, domain.EventNewMessage, conv.ProjectID, conv.ID, *msg)
}

func (p *ChatPipeline) fallback(resp *ChatResponse, cfg *domain.ProjectConfig, err error) *ChatResponse {
	slog.Error("Chat turn failed before interceptors, sending fallback",
		"error", err,
		"session_id", resp.SessionID,
	)
	resp.Response = domain.DefaultFallbackMessage
	if cfg != nil {
		resp.Response = domain.Template(cfg.Assistant.FallbackMessage, domain.DefaultFallbackMessage)
	}
	return resp
}

// buildHistory converts stored messages to generation turns; the client's
// own history is used only when the store has none
func (p *ChatPipeline) buildHistory(stored []*domain.Message, client []HistoryItem) []domain.ChatMessage {
	var out []domain.ChatMessage
	for _, m := range stored {
		switch m.SenderType {
		case domain.SenderCustomer:
			out = append(out, domain.ChatMessage{Role: domain.RoleUser, Content: m.Content})
		case domain.SenderAI, domain.SenderAgent:
			out = append(out, domain.ChatMessage{Role: domain.RoleAssistant, Content: m.Content})
		}
	}
	if len(out) == 0 {
		for _, h := range client {
			content := strings.TrimSpace(h.Content)
			if content == "" {
				continue
			}
			switch strings.ToLower(h.Role) {
			case "user", "customer":
				out = append(out, domain.ChatMessage{Role: domain.RoleUser, Content: content})
			case "assistant", "ai", "agent":
				out = append(out, domain.ChatMessage{Role: domain.RoleAssistant, Content: content})
			}
		}
	}
	if len(out) > p.historyLimit {
		out = out[len(out)-p.historyLimit:]
	}
	return out
}

type turnMetadata struct {
	Sources    int                     `json:"sources"`
	ToolCalls  []domain.ToolCallRecord `json:"toolCalls,omitempty"`
	Usage      domain.TokenUsage       `json:"usage"`
	Generated  bool                    `json:"generated"`
	Confidence *float64                `json:"confidence,omitempty"`
}

func countCustomer(msgs []*domain.Message) int {
	n := 0
	for _, m := range msgs {
		if m.SenderType == domain.SenderCustomer {
			n++
		}
	}
	return n
}
