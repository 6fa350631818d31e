package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"handoff-engine/internal/core/domain"
)

// StepKind tags the result of an interceptor
type StepKind int

// StepKind constants
const (
	StepContinue StepKind = iota
	StepReply
)

// Step is what an interceptor decided: pass the turn on, or end it with a reply
type Step struct {
	Kind  StepKind
	Reply string
}

// Continue passes the turn to the next interceptor
func Continue() Step { return Step{Kind: StepContinue} }

// Reply ends the turn
func Reply(text string) Step { return Step{Kind: StepReply, Reply: text} }

// Interceptor is one named stage of the chat chain
type Interceptor struct {
	Name string
	Run  func(ctx context.Context, t *Turn) (Step, error)
}

// Turn carries one message through the chain
type Turn struct {
	Config           *domain.ProjectConfig
	Conversation     *domain.Conversation
	Message          string
	History          []domain.ChatMessage
	CustomerMessages int

	Chunks          []domain.Chunk
	RetrievalFailed bool
	ToolCalls       []domain.ToolCallRecord
	Usage           domain.TokenUsage
	Handoff         *HandoffInfo

	Generated bool // reply came from text generation
	Silent    bool // no reply at all: a human owns the conversation
	Persisted bool // reply already stored as a system message
}

// reset clears per-turn outcomes before a fallback reply
func (t *Turn) reset() {
	t.Generated = false
	t.Silent = false
	t.Persisted = false
	t.Handoff = nil
}

func (p *ChatPipeline) defaultChain() []Interceptor {
	return []Interceptor{
		{Name: "handoff_state", Run: p.handoffState},
		{Name: "qualifying_question", Run: p.qualifyingQuestion},
		{Name: "handoff_trigger", Run: p.handoffTrigger},
		{Name: "retrieval", Run: p.retrieval},
		{Name: "low_confidence", Run: p.lowConfidence},
		{Name: "ai_pause", Run: p.aiPause},
		{Name: "generation", Run: p.generation},
	}
}

// ============================================================================
// 1. Handoff state: a human owns the conversation, the AI stays silent
// ============================================================================

func (p *ChatPipeline) handoffState(ctx context.Context, t *Turn) (Step, error) {
	conv := t.Conversation
	if !conv.Status.IsHandedOff() {
		return Continue(), nil
	}

	info := &HandoffInfo{Status: string(conv.Status)}
	if conv.AssignedAgentID != nil {
		info.AssignedAgent = &AgentRef{ID: *conv.AssignedAgentID}
	}
	if conv.Status == domain.StatusWaiting && p.handoff != nil {
		if pos, err := p.handoff.queue.Position(ctx, conv); err == nil {
			info.QueuePosition = pos
		}
	}

	t.Handoff = info
	t.Silent = true
	return Reply(""), nil
}

// ============================================================================
// 2. Qualifying question: the visitor is answering a lead-capture question
// ============================================================================

func (p *ChatPipeline) qualifyingQuestion(ctx context.Context, t *Turn) (Step, error) {
	if p.leads == nil {
		return Continue(), nil
	}
	reply, handled, err := p.leads.HandleAnswer(ctx, t.Config, t.Conversation, t.Message)
	if err != nil {
		return Step{}, err
	}
	if !handled {
		return Continue(), nil
	}
	return Reply(reply), nil
}

// ============================================================================
// 3. Handoff trigger: explicit request or configured keyword
// ============================================================================

var humanRequestPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(talk|speak|chat)\s+(to|with)\s+(a\s+|an\s+|the\s+|your\s+|some\s+)?(human|person|agent|representative|operator|someone|somebody|real\s+person|live\s+agent|staff)\b`),
	regexp.MustCompile(`\b(connect|transfer)\s+me\s+(to|with)\s+(a\s+|an\s+|the\s+)?(human|person|agent|representative|operator|someone)\b`),
	regexp.MustCompile(`\b(human|live|real)\s+(agent|person|support|operator)\b`),
	regexp.MustCompile(`\b(need|want)\s+(a\s+|an\s+)?(human|person|agent|representative)\b`),
}

var whitespace = regexp.MustCompile(`\s+`)

// normalizeMessage lowercases and collapses whitespace before matching
func normalizeMessage(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(strings.ToLower(s), " "))
}

// detectTrigger returns the handoff reason for message, or "" when none fires
func detectTrigger(h domain.HandoffSettings, message string) (string, *string) {
	text := normalizeMessage(message)

	if h.TriggerMode.AllowsManual() {
		for _, re := range humanRequestPatterns {
			if re.MatchString(text) {
				return ReasonCustomerRequest, nil
			}
		}
	}

	if h.TriggerMode.AllowsAuto() {
		for _, kw := range h.AutoTriggers.Keywords {
			needle := normalizeMessage(kw)
			if needle == "" {
				continue
			}
			if containsPhrase(text, needle) {
				keyword := kw
				return ReasonKeyword, &keyword
			}
		}
	}
	return "", nil
}

// containsPhrase matches needle on word boundaries
func containsPhrase(text, needle string) bool {
	re, err := regexp.Compile(`(^|\W)` + regexp.QuoteMeta(needle) + `($|\W)`)
	if err != nil {
		return strings.Contains(text, needle)
	}
	return re.MatchString(text)
}

func (p *ChatPipeline) handoffTrigger(ctx context.Context, t *Turn) (Step, error) {
	if !t.Config.Handoff.Enabled || p.handoff == nil {
		return Continue(), nil
	}
	reason, keyword := detectTrigger(t.Config.Handoff, t.Message)
	if reason == "" {
		return Continue(), nil
	}
	return p.handoffStep(ctx, t, TriggerRequest{Reason: reason, TriggerKeyword: keyword}, reason == ReasonCustomerRequest)
}

// handoffStep runs the trigger transition for the turn. Outside business
// hours only explicit requests get the offline reply; automatic triggers
// let the AI keep answering.
func (p *ChatPipeline) handoffStep(ctx context.Context, t *Turn, req TriggerRequest, explicit bool) (Step, error) {
	req.ConversationID = t.Conversation.ID
	res, err := p.handoff.trigger(ctx, t.Conversation, t.Config, req)
	if err != nil {
		if domain.IsCode(err, domain.CodeInvalidStatus) || domain.IsCode(err, domain.CodeHandoffDisabled) {
			slog.Info("Handoff not possible, continuing with AI",
				"conversation_id", t.Conversation.ID,
				"reason", req.Reason,
				"error", err,
			)
			return Continue(), nil
		}
		return Step{}, err
	}

	if res.Status == HandoffOffline {
		if !explicit {
			return Continue(), nil
		}
		t.Handoff = &HandoffInfo{Status: HandoffOffline, Reason: req.Reason}
		return Reply(res.Message), nil
	}

	t.Handoff = &HandoffInfo{
		Status:        res.Status,
		QueuePosition: res.QueuePosition,
		AssignedAgent: res.AssignedAgent,
		Reason:        req.Reason,
	}
	t.Persisted = true
	return Reply(res.Message), nil
}

// ============================================================================
// 4. Retrieval and 5. low-confidence handoff
// ============================================================================

func (p *ChatPipeline) retrieval(ctx context.Context, t *Turn) (Step, error) {
	if p.retriever == nil {
		t.RetrievalFailed = true
		return Continue(), nil
	}
	topK := t.Config.Assistant.RetrievalTopK
	if topK <= 0 {
		topK = DefaultRetrievalTopK
	}

	chunks, err := p.retriever.Retrieve(ctx, t.Conversation.ProjectID, t.Message, topK)
	if err != nil {
		slog.Warn("Retrieval failed, answering without knowledge",
			"error", err,
			"project_id", t.Conversation.ProjectID,
		)
		t.RetrievalFailed = true
		return Continue(), nil
	}
	t.Chunks = chunks
	return Continue(), nil
}

func (p *ChatPipeline) lowConfidence(ctx context.Context, t *Turn) (Step, error) {
	h := t.Config.Handoff
	threshold := h.AutoTriggers.ConfidenceThreshold
	if !h.Enabled || p.handoff == nil || !h.TriggerMode.AllowsAuto() || threshold <= 0 || t.RetrievalFailed {
		return Continue(), nil
	}

	top := topScore(t.Chunks)
	if top >= threshold {
		return Continue(), nil
	}

	slog.Info("Retrieval confidence below threshold",
		"conversation_id", t.Conversation.ID,
		"confidence", top,
		"threshold", threshold,
	)
	return p.handoffStep(ctx, t, TriggerRequest{Reason: ReasonLowConfidence, Confidence: &top}, false)
}

func topScore(chunks []domain.Chunk) float64 {
	top := 0.0
	for _, c := range chunks {
		if c.Score > top {
			top = c.Score
		}
	}
	return top
}

func topScorePtr(chunks []domain.Chunk) *float64 {
	if len(chunks) == 0 {
		return nil
	}
	top := topScore(chunks)
	return &top
}

// ============================================================================
// AI pause: generation is switched off, route to a human instead
// ============================================================================

func (p *ChatPipeline) aiPause(ctx context.Context, t *Turn) (Step, error) {
	if p.pause == nil || !p.pause.IsActive() {
		return Continue(), nil
	}
	if p.handoff != nil {
		step, err := p.handoffStep(ctx, t, TriggerRequest{Reason: ReasonAIPaused}, true)
		if err != nil || step.Kind == StepReply {
			return step, err
		}
	}
	t.Handoff = &HandoffInfo{Status: HandoffOffline, Reason: ReasonAIPaused}
	return Reply(domain.Template(t.Config.Handoff.Messages.Offline, domain.DefaultOfflineMessage)), nil
}

// ============================================================================
// 6. Generation with bounded tool use
// ============================================================================

func (p *ChatPipeline) generation(ctx context.Context, t *Turn) (Step, error) {
	assistant := t.Config.Assistant
	req := p.buildRequest(ctx, t)

	res, err := p.loop.Run(ctx, t.Conversation.ProjectID, req)
	if res != nil {
		t.ToolCalls = res.ToolCalls
		t.Usage = res.Usage
	}
	if errors.Is(err, domain.ErrGenerationTimeout) {
		slog.Warn("Text generation timed out",
			"conversation_id", t.Conversation.ID,
		)
		return Reply(domain.Template(assistant.TimeoutMessage, domain.DefaultTimeoutMessage)), nil
	}
	if err != nil {
		return Step{}, err
	}

	switch {
	case res.LimitReached:
		return Reply(domain.Template(assistant.ToolLimitMessage, domain.DefaultToolLimitMessage)), nil
	case res.Content == "":
		return Reply(domain.Template(assistant.EmptyReplyMessage, domain.DefaultEmptyReplyMessage)), nil
	}

	t.Generated = true
	return Reply(res.Content), nil
}

func (p *ChatPipeline) buildRequest(ctx context.Context, t *Turn) domain.GenerationRequest {
	assistant := t.Config.Assistant

	var system strings.Builder
	system.WriteString(domain.Template(assistant.SystemPrompt, DefaultSystemPrompt))
	if len(t.Chunks) > 0 {
		system.WriteString("\n\nRelevant knowledge:\n")
		for i, c := range t.Chunks {
			if c.Title != "" {
				fmt.Fprintf(&system, "[%d] %s\n%s\n", i+1, c.Title, c.Content)
			} else {
				fmt.Fprintf(&system, "[%d] %s\n", i+1, c.Content)
			}
		}
	}

	messages := make([]domain.ChatMessage, 0, len(t.History)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: system.String()})
	messages = append(messages, t.History...)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: t.Message})

	var tools []domain.ToolDefinition
	if p.tools != nil {
		tools = p.tools.Definitions(ctx, t.Conversation.ProjectID)
	}

	return domain.GenerationRequest{
		Model:       assistant.Model,
		Messages:    messages,
		Tools:       tools,
		Temperature: assistant.Temperature,
		MaxTokens:   assistant.MaxTokens,
	}
}
