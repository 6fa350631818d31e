package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"handoff-engine/internal/adapters/cache"
	"handoff-engine/internal/adapters/realtime"
	"handoff-engine/internal/adapters/repository"
	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/services"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

var testSecret = []byte("test-secret")

// cannedGenerator always answers with the same text
type cannedGenerator struct{}

func (cannedGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	return &domain.GenerationResponse{Content: "Our store opens at nine.", FinishReason: "stop"}, nil
}

type testServer struct {
	router   *gin.Engine
	repo     *repository.SQLRepository
	verifier *JWTVerifier
	runner   *services.BackgroundRunner
}

func newTestServer(t *testing.T, checks map[string]HealthCheck) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := sql.Open(repository.DriverSQLite, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	repo, err := repository.NewSQLRepository(db, repository.DriverSQLite)
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(ctx))

	require.NoError(t, repo.CreateProject(ctx, &domain.Project{ID: "p1", Name: "Acme", OwnerID: "owner-1"}))
	require.NoError(t, repo.AddMember(ctx, "p1", "agent-a", "agent"))
	require.NoError(t, repo.SaveProjectSettings(ctx, &domain.ProjectConfig{
		Project: domain.Project{ID: "p1"},
		Handoff: domain.HandoffSettings{Enabled: true, TriggerMode: domain.TriggerBoth},
	}))

	runner := services.NewBackgroundRunner(1, 64)
	t.Cleanup(runner.Close)

	configs := cache.NewMemory(repo, 0, 8)
	notifier := realtime.NewFanOut()
	pause := services.NewAIPause()

	handoff := services.NewHandoffService(services.HandoffDeps{
		Conversations: repo,
		Messages:      repo,
		Projects:      repo,
		Agents:        repo,
		Configs:       configs,
		Notifier:      notifier,
		Runner:        runner,
	})
	pipeline := services.NewChatPipeline(services.PipelineDeps{
		Conversations:     repo,
		Messages:          repo,
		Configs:           configs,
		Handoff:           handoff,
		LeadCapture:       services.NewLeadCapture(repo, repo),
		Generator:         cannedGenerator{},
		Pause:             pause,
		Notifier:          notifier,
		Runner:            runner,
		MaxToolIterations: 3,
	})

	verifier := NewJWTVerifier(testSecret)
	router := NewRouter(RouterDeps{
		Handoff:  NewHandoffHandler(handoff),
		Chat:     NewChatHandler(pipeline),
		Agents:   NewAgentHandler(handoff, nil),
		System:   NewSystemHandler(pause, checks, "test"),
		Verifier: verifier,
		Admins:   []string{"admin-1"},
	})

	return &testServer{router: router, repo: repo, verifier: verifier, runner: runner}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.verifier.Generate(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) conversation(t *testing.T, visitorID string) *domain.Conversation {
	t.Helper()
	conv, _, err := s.repo.ResolveSession(context.Background(), "p1", visitorID, "session-"+visitorID, time.Now())
	require.NoError(t, err)
	return conv
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// ============================================================================
// Auth
// ============================================================================

// TestJWTVerifier tests token issue and validation
func TestJWTVerifier(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	tok, err := v.Generate("agent-a", time.Minute)
	require.NoError(t, err)
	userID, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "agent-a", userID)

	expired, err := v.Generate("agent-a", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	foreign, err := NewJWTVerifier([]byte("other-secret")).Generate("agent-a", time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	anonymous, err := v.Generate("", time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(anonymous)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

// TestRequireAuth tests agent routes reject missing and bad tokens
func TestRequireAuth(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/projects/p1/queue", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, domain.CodeUnauthorized, decodeError(t, w).Code)

	w = s.do(t, http.MethodGet, "/projects/p1/queue", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/projects/p1/queue?token="+s.token(t, "agent-a"), "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"queue":[]}`, w.Body.String())
}

// ============================================================================
// Error mapping
// ============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code domain.Code
		want int
	}{
		{domain.CodeValidation, http.StatusBadRequest},
		{domain.CodeUnauthorized, http.StatusUnauthorized},
		{domain.CodeForbidden, http.StatusForbidden},
		{domain.CodeNotFound, http.StatusNotFound},
		{domain.CodeInvalidStatus, http.StatusConflict},
		{domain.CodeAlreadyClaimed, http.StatusConflict},
		{domain.CodeClaimFailed, http.StatusConflict},
		{domain.CodeAtCapacity, http.StatusConflict},
		{domain.CodeNotOnline, http.StatusConflict},
		{domain.CodeHandoffDisabled, http.StatusConflict},
		{domain.CodeTimeout, http.StatusGatewayTimeout},
		{domain.CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.code))
		})
	}
}

// TestRespondError_HidesUntypedErrors tests raw errors never reach the client
func TestRespondError_HidesUntypedErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	respondError(c, errors.New("dial tcp 10.0.0.5:3306: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, domain.CodeInternal, resp.Code)
	assert.NotContains(t, resp.Message, "10.0.0.5")
}

// ============================================================================
// Health
// ============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t, map[string]HealthCheck{
		"database": func(ctx context.Context) error { return nil },
	})
	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, false, body["aiPaused"])
}

// TestHealth_Degraded tests a failing dependency turns the health check into 503
func TestHealth_Degraded(t *testing.T) {
	s := newTestServer(t, map[string]HealthCheck{
		"database": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})
	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Dependencies["database"])
	assert.Equal(t, "connection refused", body.Dependencies["redis"])
}

// ============================================================================
// Handoff routes
// ============================================================================

// TestHandoffFlow tests trigger, claim, conflicting claim and resolve over HTTP
func TestHandoffFlow(t *testing.T) {
	s := newTestServer(t, nil)
	conv := s.conversation(t, "v1")
	agent := s.token(t, "agent-a")
	owner := s.token(t, "owner-1")

	w := s.do(t, http.MethodPost, "/conversations/"+conv.ID+"/handoff", "", map[string]any{"reason": "refund"})
	require.Equal(t, http.StatusOK, w.Code)
	var trigger services.HandoffResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trigger))
	assert.Equal(t, "waiting", trigger.Status)
	assert.Equal(t, 1, trigger.QueuePosition)

	w = s.do(t, http.MethodPut, "/projects/p1/agents/me/status", agent,
		map[string]any{"status": "online", "maxConcurrentChats": 2})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/conversations/"+conv.ID+"/claim", agent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)

	w = s.do(t, http.MethodPost, "/conversations/"+conv.ID+"/claim", owner, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.CodeAlreadyClaimed, decodeError(t, w).Code)

	w = s.do(t, http.MethodPost, "/conversations/"+conv.ID+"/resolve", agent,
		map[string]any{"resolution": "refunded", "returnToAI": true})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := s.repo.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAIActive, stored.Status)
}

// TestHandoff_Errors tests validation and not-found answers
func TestHandoff_Errors(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/conversations/missing/handoff", "", map[string]any{})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.CodeNotFound, decodeError(t, w).Code)

	req := httptest.NewRequest(http.MethodPost, "/conversations/x/handoff", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	w = s.do(t, http.MethodGet, "/projects/p1/queue", s.token(t, "stranger"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// TestAvailability tests the public availability endpoint
func TestAvailability(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/projects/p1/handoff-availability", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body services.Availability
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Available)
	assert.True(t, body.ShowButton)
	assert.Equal(t, 0, body.AgentsOnline)

	w = s.do(t, http.MethodPut, "/projects/p1/agents/me/status", s.token(t, "agent-a"),
		map[string]any{"status": "online", "maxConcurrentChats": 1})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/projects/p1/handoff-availability", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.AgentsOnline)
}

// ============================================================================
// Chat and admin routes
// ============================================================================

func TestChatMessage(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/chat/message", "", map[string]any{
		"projectId": "p1",
		"message":   "When do you open?",
		"visitorId": "v1",
		"sessionId": "session-v1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	s.runner.Flush()

	var resp services.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Our store opens at nine.", resp.Response)
	assert.Equal(t, "v1", resp.VisitorID)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = s.do(t, http.MethodPost, "/chat/message", "", map[string]any{"projectId": "p1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestRequestID_Propagates tests a caller supplied request id is echoed back
func TestRequestID_Propagates(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))
}

// TestAIPauseSwitch tests the admin pause endpoints
func TestAIPauseSwitch(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.token(t, "admin-1")

	w := s.do(t, http.MethodPost, "/admin/ai-pause", tok, map[string]any{"reason": "incident"})
	require.Equal(t, http.StatusOK, w.Code)
	var status services.AIPauseStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Active)
	assert.Equal(t, "incident", status.Reason)
	assert.Equal(t, "admin-1", status.ActivatedBy)

	w = s.do(t, http.MethodDelete, "/admin/ai-pause", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Active)
}

// TestAdminRoutes_RequireAdmin tests project owners and agents cannot flip the global switch
func TestAdminRoutes_RequireAdmin(t *testing.T) {
	s := newTestServer(t, nil)

	for _, user := range []string{"owner-1", "agent-a", "stranger"} {
		tok := s.token(t, user)

		w := s.do(t, http.MethodPost, "/admin/ai-pause", tok, map[string]any{"reason": "prank"})
		assert.Equal(t, http.StatusForbidden, w.Code, user)
		assert.Equal(t, domain.CodeForbidden, decodeError(t, w).Code)

		w = s.do(t, http.MethodDelete, "/admin/ai-pause", tok, nil)
		assert.Equal(t, http.StatusForbidden, w.Code, user)

		w = s.do(t, http.MethodGet, "/api/system/metrics", tok, nil)
		assert.Equal(t, http.StatusForbidden, w.Code, user)
	}

	w := s.do(t, http.MethodGet, "/admin/ai-pause", s.token(t, "admin-1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status services.AIPauseStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Active)
}

// TestRequireAdmin_EmptyListDeniesAll tests an unconfigured allow-list closes the routes
func TestRequireAdmin_EmptyListDeniesAll(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/ai-pause", nil)
	c.Set(userIDKey, "anyone")

	RequireAdmin(nil)(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// TestSubscribe_DisabledWithoutHub tests the websocket route without a hub
func TestSubscribe_DisabledWithoutHub(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/ws/projects/p1", s.token(t, "agent-a"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "2h 5m", formatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "2d 1h 0m", formatDuration(49*time.Hour))
	assert.Equal(t, "critical", diskWarningLevel(85))
	assert.Equal(t, "warning", diskWarningLevel(72))
	assert.Equal(t, "safe", diskWarningLevel(10))
}
