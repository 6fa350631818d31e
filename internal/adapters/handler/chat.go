package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"handoff-engine/internal/core/services"
)

// ChatHandler serves the public widget endpoint
type ChatHandler struct {
	pipeline *services.ChatPipeline
}

// NewChatHandler creates a chat handler
func NewChatHandler(pipeline *services.ChatPipeline) *ChatHandler {
	return &ChatHandler{pipeline: pipeline}
}

type chatBody struct {
	ProjectID           string                 `json:"projectId"`
	Message             string                 `json:"message"`
	VisitorID           string                 `json:"visitorId"`
	SessionID           string                 `json:"sessionId"`
	ConversationHistory []services.HistoryItem `json:"conversationHistory"`
}

// Message runs one chat turn
// POST /chat/message
func (h *ChatHandler) Message(c *gin.Context) {
	var body chatBody
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequestResponse(c, "invalid request body")
		return
	}

	resp, err := h.pipeline.Handle(c.Request.Context(), services.ChatRequest{
		ProjectID:           body.ProjectID,
		Message:             body.Message,
		VisitorID:           body.VisitorID,
		SessionID:           body.SessionID,
		ConversationHistory: body.ConversationHistory,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
