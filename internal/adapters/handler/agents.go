package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/services"
)

// Subscriber upgrades a request into a realtime subscription
type Subscriber interface {
	ServeWS(w http.ResponseWriter, r *http.Request, projectID, userID string)
}

// AgentHandler serves agent availability and the realtime feed
type AgentHandler struct {
	handoff *services.HandoffService
	hub     Subscriber
}

// NewAgentHandler creates an agent handler; hub may be nil
func NewAgentHandler(handoff *services.HandoffService, hub Subscriber) *AgentHandler {
	return &AgentHandler{handoff: handoff, hub: hub}
}

type statusBody struct {
	Status             domain.AgentStatus `json:"status"`
	MaxConcurrentChats int                `json:"maxConcurrentChats"`
}

// SetMyStatus toggles the caller online or offline
// PUT /projects/:id/agents/me/status
func (h *AgentHandler) SetMyStatus(c *gin.Context) {
	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequestResponse(c, "invalid request body")
		return
	}

	agent, err := h.handoff.SetAgentStatus(c.Request.Context(), c.Param("id"), callerID(c), body.Status, body.MaxConcurrentChats)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// List returns the project's agents
// GET /projects/:id/agents
func (h *AgentHandler) List(c *gin.Context) {
	agents, err := h.handoff.ListAgents(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if agents == nil {
		agents = []domain.AgentAvailability{}
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// Subscribe opens the project's realtime websocket
// GET /ws/projects/:id?token=...
func (h *AgentHandler) Subscribe(c *gin.Context) {
	if h.hub == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable,
			NewErrorResponse(domain.CodeInternal, "realtime disabled"))
		return
	}
	projectID := c.Param("id")
	userID := callerID(c)
	if err := h.handoff.Authorize(c.Request.Context(), projectID, userID); err != nil {
		respondError(c, err)
		return
	}
	h.hub.ServeWS(c.Writer, c.Request, projectID, userID)
}
