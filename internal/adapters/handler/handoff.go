package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/services"
)

// HandoffHandler serves the conversation state machine endpoints
type HandoffHandler struct {
	handoff *services.HandoffService
}

// NewHandoffHandler creates a handoff handler
func NewHandoffHandler(handoff *services.HandoffService) *HandoffHandler {
	return &HandoffHandler{handoff: handoff}
}

type triggerBody struct {
	Reason         string   `json:"reason"`
	Confidence     *float64 `json:"confidence"`
	TriggerKeyword *string  `json:"triggerKeyword"`
	CustomerEmail  *string  `json:"customerEmail"`
	CustomerName   *string  `json:"customerName"`
}

// Trigger asks for a human
// POST /conversations/:id/handoff
func (h *HandoffHandler) Trigger(c *gin.Context) {
	var body triggerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequestResponse(c, "invalid request body")
		return
	}

	res, err := h.handoff.TriggerHandoff(c.Request.Context(), services.TriggerRequest{
		ConversationID: c.Param("id"),
		Reason:         body.Reason,
		Confidence:     body.Confidence,
		TriggerKeyword: body.TriggerKeyword,
		CustomerEmail:  body.CustomerEmail,
		CustomerName:   body.CustomerName,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Claim lets the caller take a waiting conversation
// POST /conversations/:id/claim
func (h *HandoffHandler) Claim(c *gin.Context) {
	conv, err := h.handoff.Claim(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversation": conv})
}

// Transfer puts the caller's conversation back in the queue
// POST /conversations/:id/transfer
func (h *HandoffHandler) Transfer(c *gin.Context) {
	res, err := h.handoff.Transfer(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversation": res})
}

type resolveBody struct {
	Resolution string `json:"resolution"`
	ReturnToAI bool   `json:"returnToAI"`
}

// Resolve ends the human session
// POST /conversations/:id/resolve
func (h *HandoffHandler) Resolve(c *gin.Context) {
	var body resolveBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			BadRequestResponse(c, "invalid request body")
			return
		}
	}

	conv, err := h.handoff.Resolve(c.Request.Context(), services.ResolveRequest{
		ConversationID: c.Param("id"),
		CallerID:       callerID(c),
		Resolution:     body.Resolution,
		ReturnToAI:     body.ReturnToAI,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversation": conv})
}

// Availability tells the widget whether a human can be offered
// GET /projects/:id/handoff-availability
func (h *HandoffHandler) Availability(c *gin.Context) {
	res, err := h.handoff.Availability(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Queue lists waiting conversations
// GET /projects/:id/queue
func (h *HandoffHandler) Queue(c *gin.Context) {
	entries, err := h.handoff.Queue(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []domain.QueueEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"queue": entries})
}

// InvalidateConfig drops the cached project settings
// POST /projects/:id/config/invalidate
func (h *HandoffHandler) InvalidateConfig(c *gin.Context) {
	if err := h.handoff.InvalidateConfig(c.Request.Context(), c.Param("id"), callerID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
