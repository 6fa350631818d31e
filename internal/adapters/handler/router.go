package handler

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RouterDeps carries everything the HTTP surface needs
type RouterDeps struct {
	Handoff      *HandoffHandler
	Chat         *ChatHandler
	Agents       *AgentHandler
	System       *SystemHandler
	Verifier     TokenVerifier
	AllowOrigins []string
	Admins       []string // user ids allowed on /admin and host metrics
}

// NewRouter builds the gin engine with all routes registered
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger())

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(deps.AllowOrigins) == 0 || (len(deps.AllowOrigins) == 1 && deps.AllowOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	} else {
		corsConfig.AllowOrigins = deps.AllowOrigins
	}
	r.Use(cors.New(corsConfig))

	auth := RequireAuth(deps.Verifier)

	r.GET("/healthz", deps.System.Health)

	// Public widget endpoints
	r.POST("/chat/message", deps.Chat.Message)
	r.POST("/conversations/:id/handoff", deps.Handoff.Trigger)
	r.GET("/projects/:id/handoff-availability", deps.Handoff.Availability)

	// Agent endpoints
	conversations := r.Group("/conversations", auth)
	{
		conversations.POST("/:id/claim", deps.Handoff.Claim)
		conversations.POST("/:id/transfer", deps.Handoff.Transfer)
		conversations.POST("/:id/resolve", deps.Handoff.Resolve)
	}

	projects := r.Group("/projects", auth)
	{
		projects.GET("/:id/queue", deps.Handoff.Queue)
		projects.GET("/:id/agents", deps.Agents.List)
		projects.PUT("/:id/agents/me/status", deps.Agents.SetMyStatus)
		projects.POST("/:id/config/invalidate", deps.Handoff.InvalidateConfig)
	}

	r.GET("/ws/projects/:id", auth, deps.Agents.Subscribe)

	requireAdmin := RequireAdmin(deps.Admins)

	admin := r.Group("/admin", auth, requireAdmin)
	{
		admin.GET("/ai-pause", deps.System.PauseStatus)
		admin.POST("/ai-pause", deps.System.EnablePause)
		admin.DELETE("/ai-pause", deps.System.DisablePause)
	}

	r.GET("/api/system/metrics", auth, requireAdmin, deps.System.Metrics)

	return r
}
