package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/ports"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9 ()\-.]{7,20}$`)
	skipPhrases  = []string{"skip", "no thanks", "rather not", "pass"}
)

// LeadCapture runs the scripted qualifying-question flow for a visitor
type LeadCapture struct {
	states ports.LeadCaptureRepository
	convs  ports.ConversationRepository
}

// NewLeadCapture creates the qualifying-question flow
func NewLeadCapture(states ports.LeadCaptureRepository, convs ports.ConversationRepository) *LeadCapture {
	return &LeadCapture{states: states, convs: convs}
}

// HandleAnswer consumes message as the answer to the pending question when
// the visitor is mid-flow. handled is false when no flow is active.
func (l *LeadCapture) HandleAnswer(ctx context.Context, cfg *domain.ProjectConfig, conv *domain.Conversation, message string) (reply string, handled bool, err error) {
	settings := cfg.LeadCapture
	if !settings.Enabled || len(settings.Questions) == 0 {
		return "", false, nil
	}

	state, err := l.states.GetLeadCapture(ctx, conv.ProjectID, conv.VisitorID)
	if err != nil {
		return "", false, err
	}
	if state.Status != domain.LeadCaptureAsking {
		return "", false, nil
	}

	if state.PendingIndex >= len(settings.Questions) {
		return l.complete(ctx, settings, state)
	}

	q := settings.Questions[state.PendingIndex]
	answer := strings.TrimSpace(message)

	switch {
	case !q.Required && isSkip(answer):
		slog.Debug("Qualifying question skipped",
			"visitor_id", conv.VisitorID,
			"field", q.Field,
		)
	case validAnswer(q, answer):
		state.Fields[q.Field] = answer
		if err := l.recordContact(ctx, conv.ID, q, answer); err != nil {
			return "", false, err
		}
	default:
		tmpl := domain.Template(settings.InvalidAnswerMessage, domain.DefaultInvalidAnswer)
		if strings.Contains(tmpl, "%s") {
			return fmt.Sprintf(tmpl, q.Question), true, nil
		}
		return tmpl + " " + q.Question, true, nil
	}

	state.PendingIndex++
	if state.PendingIndex >= len(settings.Questions) {
		return l.complete(ctx, settings, state)
	}

	if err := l.states.SaveLeadCapture(ctx, state); err != nil {
		return "", false, err
	}
	return settings.Questions[state.PendingIndex].Question, true, nil
}

// MaybeStart begins the flow once the visitor has sent enough messages and
// returns the first question to append to the reply ("" when not starting)
func (l *LeadCapture) MaybeStart(ctx context.Context, cfg *domain.ProjectConfig, conv *domain.Conversation, customerMessages int) (string, error) {
	settings := cfg.LeadCapture
	if !settings.Enabled || len(settings.Questions) == 0 || customerMessages < settings.AskAfterMessages {
		return "", nil
	}

	state, err := l.states.GetLeadCapture(ctx, conv.ProjectID, conv.VisitorID)
	if err != nil {
		return "", err
	}
	if state.Status != domain.LeadCaptureInactive {
		return "", nil
	}

	state.Status = domain.LeadCaptureAsking
	state.PendingIndex = 0
	if err := l.states.SaveLeadCapture(ctx, state); err != nil {
		return "", err
	}

	slog.Info("Lead capture started",
		"project_id", conv.ProjectID,
		"visitor_id", conv.VisitorID,
	)
	return settings.Questions[0].Question, nil
}

func (l *LeadCapture) complete(ctx context.Context, settings domain.LeadCaptureSettings, state *domain.LeadCaptureState) (string, bool, error) {
	state.Status = domain.LeadCaptureCompleted
	if len(state.Fields) == 0 {
		state.Status = domain.LeadCaptureSkipped
	}
	if err := l.states.SaveLeadCapture(ctx, state); err != nil {
		return "", false, err
	}

	slog.Info("Lead capture finished",
		"project_id", state.ProjectID,
		"visitor_id", state.VisitorID,
		"status", state.Status,
		"fields", len(state.Fields),
	)
	return domain.Template(settings.CompletionMessage, domain.DefaultCompletionMessage), true, nil
}

// recordContact copies email and name answers onto the conversation
func (l *LeadCapture) recordContact(ctx context.Context, conversationID string, q domain.QualifyingQuestion, answer string) error {
	switch {
	case q.Type == "email" || q.Field == "email":
		return l.convs.UpdateContact(ctx, conversationID, &answer, nil)
	case q.Field == "name":
		return l.convs.UpdateContact(ctx, conversationID, nil, &answer)
	}
	return nil
}

func validAnswer(q domain.QualifyingQuestion, answer string) bool {
	if answer == "" {
		return false
	}
	switch q.Type {
	case "email":
		return emailPattern.MatchString(answer)
	case "phone":
		return phonePattern.MatchString(answer)
	default:
		return true
	}
}

func isSkip(answer string) bool {
	lower := strings.ToLower(answer)
	for _, p := range skipPhrases {
		if lower == p || strings.HasPrefix(lower, p+" ") {
			return true
		}
	}
	return false
}
