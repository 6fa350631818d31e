package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/ports"
)

// Handoff reasons recorded on the conversation
const (
	ReasonCustomerRequest = "customer_request"
	ReasonKeyword         = "keyword"
	ReasonLowConfidence   = "low_confidence"
	ReasonAIPaused        = "ai_paused"
)

// HandoffOffline is the trigger outcome outside business hours (no state change)
const HandoffOffline = "offline"

// Availability reasons
const (
	UnavailableDisabled     = "handoff_disabled"
	UnavailableOutsideHours = "outside_business_hours"
)

// maxDirectAssignAttempts bounds reselection when the chosen agent fills up
// between the snapshot and the assignment
const maxDirectAssignAttempts = 3

const (
	resolutionResolved = "resolved"
	resolutionClosed   = "closed"
)

// TriggerRequest asks to move a conversation from the AI to a human
type TriggerRequest struct {
	ConversationID string
	Reason         string
	Confidence     *float64
	TriggerKeyword *string
	CustomerEmail  *string
	CustomerName   *string
}

// AgentRef identifies the agent a conversation was assigned to
type AgentRef struct {
	ID string `json:"id"`
}

// HandoffResult is the outcome of a trigger
type HandoffResult struct {
	ConversationID string    `json:"conversationId"`
	Status         string    `json:"status"`
	AssignedAgent  *AgentRef `json:"assignedAgent,omitempty"`
	QueuePosition  int       `json:"queuePosition,omitempty"`
	Message        string    `json:"message"`
}

// TransferResult is the outcome of a transfer
type TransferResult struct {
	Status        domain.ConversationStatus `json:"status"`
	QueuePosition int                       `json:"queuePosition"`
}

// ResolveRequest leaves the human queue
type ResolveRequest struct {
	ConversationID string
	CallerID       string
	Resolution     string // "resolved" (default) or "closed"
	ReturnToAI     bool
}

// Availability tells the widget whether to offer a human
type Availability struct {
	Available       bool   `json:"available"`
	ShowButton      bool   `json:"showButton"`
	ShowOfflineForm bool   `json:"showOfflineForm"`
	Reason          string `json:"reason,omitempty"`
	AgentsOnline    int    `json:"agentsOnline"`
}

// HandoffDeps groups the collaborators of HandoffService
type HandoffDeps struct {
	Conversations ports.ConversationRepository
	Messages      ports.MessageRepository
	Projects      ports.ProjectRepository
	Agents        ports.AgentRepository
	Configs       ports.ConfigCache
	Notifier      ports.Notifier
	Runner        *BackgroundRunner
}

// HandoffService implements the conversation state machine:
// ai_active/resolved -> agent_active|waiting -> agent_active -> resolved|closed|ai_active.
// Every transition is a conditional write in the store; losing a race surfaces
// as a typed domain.Error.
type HandoffService struct {
	convs     ports.ConversationRepository
	messages  ports.MessageRepository
	projects  ports.ProjectRepository
	configs   ports.ConfigCache
	directory *AgentDirectory
	queue     *QueueCalculator
	events    eventEmitter
	now       func() time.Time
}

// NewHandoffService creates the state machine
func NewHandoffService(deps HandoffDeps) *HandoffService {
	return &HandoffService{
		convs:     deps.Conversations,
		messages:  deps.Messages,
		projects:  deps.Projects,
		configs:   deps.Configs,
		directory: NewAgentDirectory(deps.Agents),
		queue:     NewQueueCalculator(deps.Conversations),
		events:    eventEmitter{notifier: deps.Notifier, runner: deps.Runner, now: time.Now},
		now:       time.Now,
	}
}

// Directory exposes the agent directory used for assignment
func (s *HandoffService) Directory() *AgentDirectory {
	return s.directory
}

// ============================================================================
// Trigger
// ============================================================================

// TriggerHandoff moves an ai_active or resolved conversation to a human
func (s *HandoffService) TriggerHandoff(ctx context.Context, req TriggerRequest) (*HandoffResult, error) {
	conv, err := s.loadConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.loadConfig(ctx, conv.ProjectID)
	if err != nil {
		return nil, err
	}
	return s.trigger(ctx, conv, cfg, req)
}

// trigger runs the transition for an already loaded conversation and config
func (s *HandoffService) trigger(ctx context.Context, conv *domain.Conversation, cfg *domain.ProjectConfig, req TriggerRequest) (*HandoffResult, error) {
	if !cfg.Handoff.Enabled {
		return nil, domain.NewError(domain.CodeHandoffDisabled, "handoff is disabled for this project")
	}
	if conv.Status != domain.StatusAIActive && conv.Status != domain.StatusResolved {
		return nil, domain.NewError(domain.CodeInvalidStatus, "conversation is %s", conv.Status)
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		return nil, domain.NewError(domain.CodeValidation, "confidence must be between 0 and 1")
	}
	if req.Reason == "" {
		req.Reason = ReasonCustomerRequest
	}

	if err := s.convs.UpdateContact(ctx, conv.ID, nonEmpty(req.CustomerEmail), nonEmpty(req.CustomerName)); err != nil {
		return nil, err
	}

	msgs := cfg.Handoff.Messages
	now := s.now()

	if !WithinBusinessHours(cfg.Handoff.BusinessHours, now) {
		slog.Info("Handoff requested outside business hours",
			"conversation_id", conv.ID,
			"project_id", conv.ProjectID,
		)
		return &HandoffResult{
			ConversationID: conv.ID,
			Status:         HandoffOffline,
			Message:        domain.Template(msgs.Offline, domain.DefaultOfflineMessage),
		}, nil
	}

	from := []domain.ConversationStatus{domain.StatusAIActive, domain.StatusResolved}

	for attempt := 1; attempt <= maxDirectAssignAttempts; attempt++ {
		agents, err := s.directory.Snapshot(ctx, conv.ProjectID)
		if err != nil {
			return nil, err
		}
		agent, ok := SelectAgent(agents)
		if !ok {
			break
		}

		err = s.convs.AssignToAgent(ctx, ports.AssignParams{
			ConversationID: conv.ID,
			ProjectID:      conv.ProjectID,
			AgentID:        agent.AgentID,
			FromStatuses:   from,
			Reason:         req.Reason,
			TriggerKeyword: req.TriggerKeyword,
			Confidence:     req.Confidence,
			At:             now,
		})
		switch {
		case err == nil:
			message := domain.Template(msgs.Assigned, domain.DefaultAssignedMessage)
			s.appendSystemMessage(ctx, conv, message, "handoff.assigned")

			change := domain.StatusChange{
				From:            conv.Status,
				To:              domain.StatusAgentActive,
				AssignedAgentID: &agent.AgentID,
				Reason:          req.Reason,
			}
			s.events.emit(ctx, domain.EventConversationAssigned, conv.ProjectID, conv.ID, change)
			s.events.emit(ctx, domain.EventStatusChanged, conv.ProjectID, conv.ID, change)

			return &HandoffResult{
				ConversationID: conv.ID,
				Status:         string(domain.StatusAgentActive),
				AssignedAgent:  &AgentRef{ID: agent.AgentID},
				Message:        message,
			}, nil
		case errors.Is(err, domain.ErrAgentAtCapacity), errors.Is(err, domain.ErrAgentNotOnline):
			slog.Debug("Selected agent became unavailable, reselecting",
				"conversation_id", conv.ID,
				"agent_id", agent.AgentID,
				"attempt", attempt,
			)
			continue
		case errors.Is(err, domain.ErrConflict):
			return nil, domain.NewError(domain.CodeInvalidStatus, "conversation changed state during handoff")
		default:
			return nil, fmt.Errorf("assign conversation: %w", err)
		}
	}

	err := s.convs.Enqueue(ctx, ports.EnqueueParams{
		ConversationID: conv.ID,
		FromStatuses:   from,
		Reason:         req.Reason,
		TriggerKeyword: req.TriggerKeyword,
		Confidence:     req.Confidence,
		At:             now,
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil, domain.NewError(domain.CodeInvalidStatus, "conversation changed state during handoff")
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue conversation: %w", err)
	}

	position, err := s.convs.QueuePosition(ctx, conv.ProjectID, conv.ID, now)
	if err != nil {
		return nil, err
	}

	message := withPosition(domain.Template(msgs.Queued, domain.DefaultQueuedMessage), position)
	s.appendSystemMessage(ctx, conv, message, "handoff.queued")

	s.events.emit(ctx, domain.EventStatusChanged, conv.ProjectID, conv.ID, domain.StatusChange{
		From:          conv.Status,
		To:            domain.StatusWaiting,
		QueuePosition: position,
		Reason:        req.Reason,
	})
	s.events.emitQueue(ctx, s.queue, conv.ProjectID)

	return &HandoffResult{
		ConversationID: conv.ID,
		Status:         string(domain.StatusWaiting),
		QueuePosition:  position,
		Message:        message,
	}, nil
}

// ============================================================================
// Claim / Transfer / Resolve
// ============================================================================

// Claim gives a waiting conversation to agentID. Exactly one of several
// concurrent claims succeeds; the others get ALREADY_CLAIMED.
func (s *HandoffService) Claim(ctx context.Context, conversationID, agentID string) (*domain.Conversation, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	project, err := s.loadProject(ctx, conv.ProjectID)
	if err != nil {
		return nil, err
	}
	if ok, err := s.isMember(ctx, project, agentID); err != nil {
		return nil, err
	} else if !ok {
		return nil, domain.NewError(domain.CodeForbidden, "not a member of this project")
	}

	switch conv.Status {
	case domain.StatusWaiting:
	case domain.StatusAgentActive:
		return nil, domain.NewError(domain.CodeAlreadyClaimed, "conversation already claimed")
	default:
		return nil, domain.NewError(domain.CodeInvalidStatus, "conversation is %s", conv.Status)
	}

	err = s.convs.Claim(ctx, conv.ID, conv.ProjectID, agentID, s.now())
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConflict):
		return nil, domain.NewError(domain.CodeAlreadyClaimed, "conversation already claimed")
	case errors.Is(err, domain.ErrAgentAtCapacity):
		return nil, domain.NewError(domain.CodeAtCapacity, "agent is at capacity")
	case errors.Is(err, domain.ErrAgentNotOnline):
		return nil, domain.NewError(domain.CodeNotOnline, "agent is not online")
	default:
		slog.Error("Claim transaction failed",
			"error", err,
			"conversation_id", conv.ID,
			"agent_id", agentID,
		)
		return nil, domain.NewError(domain.CodeClaimFailed, "claim could not be completed, retry")
	}

	updated, err := s.loadConversation(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	msgs := s.messagesFor(ctx, conv.ProjectID)
	s.appendSystemMessage(ctx, updated, domain.Template(msgs.Assigned, domain.DefaultAssignedMessage), "handoff.claimed")

	change := domain.StatusChange{
		From:            domain.StatusWaiting,
		To:              domain.StatusAgentActive,
		AssignedAgentID: &agentID,
	}
	s.events.emit(ctx, domain.EventAgentClaimed, conv.ProjectID, conv.ID, change)
	s.events.emit(ctx, domain.EventStatusChanged, conv.ProjectID, conv.ID, change)
	s.events.emitQueue(ctx, s.queue, conv.ProjectID)

	return updated, nil
}

// Transfer returns an agent_active conversation to the tail of the queue.
// Only the project owner or the assigned agent may transfer.
func (s *HandoffService) Transfer(ctx context.Context, conversationID, callerID string) (*TransferResult, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	project, err := s.loadProject(ctx, conv.ProjectID)
	if err != nil {
		return nil, err
	}
	if conv.Status != domain.StatusAgentActive || conv.AssignedAgentID == nil {
		return nil, domain.NewError(domain.CodeInvalidStatus, "conversation is %s", conv.Status)
	}
	previous := *conv.AssignedAgentID
	if project.OwnerID != callerID && previous != callerID {
		return nil, domain.NewError(domain.CodeForbidden, "only the owner or the assigned agent may transfer")
	}

	now := s.now()
	err = s.convs.Transfer(ctx, conv.ID, conv.ProjectID, previous, now)
	if errors.Is(err, domain.ErrConflict) {
		return nil, domain.NewError(domain.CodeInvalidStatus, "conversation changed state during transfer")
	}
	if err != nil {
		return nil, fmt.Errorf("transfer conversation: %w", err)
	}

	position, err := s.convs.QueuePosition(ctx, conv.ProjectID, conv.ID, now)
	if err != nil {
		return nil, err
	}

	msgs := s.messagesFor(ctx, conv.ProjectID)
	s.appendSystemMessage(ctx, conv, withPosition(domain.Template(msgs.Transferred, domain.DefaultTransferredMessage), position), "handoff.transferred")

	change := domain.StatusChange{
		From:            domain.StatusAgentActive,
		To:              domain.StatusWaiting,
		PreviousAgentID: &previous,
		QueuePosition:   position,
	}
	s.events.emit(ctx, domain.EventConversationTransfer, conv.ProjectID, conv.ID, change)
	s.events.emit(ctx, domain.EventStatusChanged, conv.ProjectID, conv.ID, change)
	s.events.emitQueue(ctx, s.queue, conv.ProjectID)

	return &TransferResult{Status: domain.StatusWaiting, QueuePosition: position}, nil
}

// Resolve ends the human phase: resolved/closed, or back to the AI when
// ReturnToAI is set (resolvedAt stays unset in that case)
func (s *HandoffService) Resolve(ctx context.Context, req ResolveRequest) (*domain.Conversation, error) {
	resolution := req.Resolution
	if resolution == "" {
		resolution = resolutionResolved
	}
	if resolution != resolutionResolved && resolution != resolutionClosed {
		return nil, domain.NewError(domain.CodeValidation, "resolution must be resolved or closed")
	}

	conv, err := s.loadConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	project, err := s.loadProject(ctx, conv.ProjectID)
	if err != nil {
		return nil, err
	}
	if !conv.Status.IsHandedOff() {
		return nil, domain.NewError(domain.CodeInvalidStatus, "conversation is %s", conv.Status)
	}

	assigned := conv.AssignedAgentID != nil && *conv.AssignedAgentID == req.CallerID
	if !assigned {
		ok, err := s.isMember(ctx, project, req.CallerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.NewError(domain.CodeForbidden, "not allowed to resolve this conversation")
		}
	}

	now := s.now()
	to := domain.ConversationStatus(resolution)
	resolvedAt := &now
	if req.ReturnToAI {
		to = domain.StatusAIActive
		resolvedAt = nil
	}

	err = s.convs.Resolve(ctx, ports.ResolveParams{
		ConversationID: conv.ID,
		ProjectID:      conv.ProjectID,
		FromStatus:     conv.Status,
		FromAgentID:    conv.AssignedAgentID,
		ToStatus:       to,
		ResolvedAt:     resolvedAt,
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil, domain.NewError(domain.CodeInvalidStatus, "conversation changed state during resolve")
	}
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}

	msgs := s.messagesFor(ctx, conv.ProjectID)
	if req.ReturnToAI {
		s.appendSystemMessage(ctx, conv, domain.Template(msgs.ReturnedToAI, domain.DefaultReturnedToAIMessage), "handoff.returned_to_ai")
	} else {
		s.appendSystemMessage(ctx, conv, domain.Template(msgs.Resolved, domain.DefaultResolvedMessage), "handoff.resolved")
	}

	change := domain.StatusChange{
		From:            conv.Status,
		To:              to,
		PreviousAgentID: conv.AssignedAgentID,
		Reason:          resolution,
	}
	if !req.ReturnToAI {
		s.events.emit(ctx, domain.EventConversationResolved, conv.ProjectID, conv.ID, change)
	}
	s.events.emit(ctx, domain.EventStatusChanged, conv.ProjectID, conv.ID, change)
	if conv.Status == domain.StatusWaiting {
		s.events.emitQueue(ctx, s.queue, conv.ProjectID)
	}

	return s.loadConversation(ctx, conv.ID)
}

// ============================================================================
// Read side
// ============================================================================

// Availability reports whether the widget should offer a human right now
func (s *HandoffService) Availability(ctx context.Context, projectID string) (*Availability, error) {
	cfg, err := s.loadConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}
	online, err := s.directory.OnlineCount(ctx, projectID)
	if err != nil {
		return nil, err
	}

	h := cfg.Handoff
	out := &Availability{AgentsOnline: online}
	switch {
	case !h.Enabled:
		out.Reason = UnavailableDisabled
	case !WithinBusinessHours(h.BusinessHours, s.now()):
		out.Reason = UnavailableOutsideHours
		out.ShowOfflineForm = h.ShowOfflineForm
	default:
		out.Available = true
		out.ShowButton = h.TriggerMode.AllowsManual()
	}
	return out, nil
}

// Queue lists the project's waiting conversations for a member
func (s *HandoffService) Queue(ctx context.Context, projectID, callerID string) ([]domain.QueueEntry, error) {
	if err := s.requireMember(ctx, projectID, callerID); err != nil {
		return nil, err
	}
	return s.queue.List(ctx, projectID)
}

// SetAgentStatus toggles the caller's own availability in a project
func (s *HandoffService) SetAgentStatus(ctx context.Context, projectID, agentID string, status domain.AgentStatus, maxConcurrentChats int) (*domain.AgentAvailability, error) {
	if err := s.requireMember(ctx, projectID, agentID); err != nil {
		return nil, err
	}
	return s.directory.SetStatus(ctx, projectID, agentID, status, maxConcurrentChats)
}

// Authorize returns FORBIDDEN unless userID owns or belongs to the project
func (s *HandoffService) Authorize(ctx context.Context, projectID, userID string) error {
	return s.requireMember(ctx, projectID, userID)
}

// ListAgents returns the project's availability records for a member
func (s *HandoffService) ListAgents(ctx context.Context, projectID, callerID string) ([]domain.AgentAvailability, error) {
	if err := s.requireMember(ctx, projectID, callerID); err != nil {
		return nil, err
	}
	return s.directory.Snapshot(ctx, projectID)
}

// InvalidateConfig drops the cached project configuration (owner only)
func (s *HandoffService) InvalidateConfig(ctx context.Context, projectID, callerID string) error {
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project.OwnerID != callerID {
		return domain.NewError(domain.CodeForbidden, "only the project owner may invalidate settings")
	}
	return s.configs.Invalidate(ctx, projectID)
}

// ============================================================================
// Helpers
// ============================================================================

func (s *HandoffService) loadConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := s.convs.GetConversation(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.CodeNotFound, "conversation %s not found", id)
	}
	return conv, err
}

func (s *HandoffService) loadProject(ctx context.Context, id string) (*domain.Project, error) {
	project, err := s.projects.GetProject(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.CodeNotFound, "project %s not found", id)
	}
	return project, err
}

func (s *HandoffService) loadConfig(ctx context.Context, projectID string) (*domain.ProjectConfig, error) {
	cfg, err := s.configs.Get(ctx, projectID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.CodeNotFound, "project %s not found", projectID)
	}
	return cfg, err
}

// messagesFor returns the project's templates, or defaults when config is unavailable
func (s *HandoffService) messagesFor(ctx context.Context, projectID string) domain.HandoffMessages {
	cfg, err := s.configs.Get(ctx, projectID)
	if err != nil {
		slog.Warn("Using default handoff messages", "project_id", projectID, "error", err)
		return domain.HandoffMessages{}
	}
	return cfg.Handoff.Messages
}

func (s *HandoffService) isMember(ctx context.Context, project *domain.Project, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if project.OwnerID == userID {
		return true, nil
	}
	return s.projects.IsMember(ctx, project.ID, userID)
}

func (s *HandoffService) requireMember(ctx context.Context, projectID, userID string) error {
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return err
	}
	ok, err := s.isMember(ctx, project, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewError(domain.CodeForbidden, "not a member of this project")
	}
	return nil
}

// appendSystemMessage records a transition in the transcript. The transition
// has already committed, so a failure here is logged, not returned.
func (s *HandoffService) appendSystemMessage(ctx context.Context, conv *domain.Conversation, content, event string) {
	metadata, _ := json.Marshal(map[string]string{"event": event})
	msg := &domain.Message{
		ConversationID: conv.ID,
		SenderType:     domain.SenderSystem,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      s.now(),
	}
	if err := s.messages.SaveMessage(ctx, msg); err != nil {
		slog.Error("Failed to save system message",
			"error", err,
			"conversation_id", conv.ID,
			"event", event,
		)
		return
	}
	s.events.emit(ctx, domain.EventNewMessage, conv.ProjectID, conv.ID, *msg)
}

// withPosition replaces the first "%d" in a template with the queue position.
// Other '%' characters are left alone.
func withPosition(template string, position int) string {
	return strings.Replace(template, "%d", strconv.Itoa(position), 1)
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
