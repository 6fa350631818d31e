package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"handoff-engine/internal/adapters/cache"
	"handoff-engine/internal/adapters/repository"
	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/ports"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

const (
	testProject = "p1"
	testOwner   = "owner-1"
	testAgentA  = "agent-a"
	testAgentB  = "agent-b"
)

// fixture wires the real services over an in-memory SQLite store
type fixture struct {
	repo      *repository.SQLRepository
	notifier  *recordingNotifier
	runner    *BackgroundRunner
	pause     *AIPause
	generator *MockGenerator
	handoff   *HandoffService
	pipeline  *ChatPipeline
}

type fixtureOptions struct {
	retriever ports.Retriever
	tools     ports.ToolExecutor
	timeout   time.Duration
}

// defaultSettings enables handoff with both trigger modes and no business hours
func defaultSettings() *domain.ProjectConfig {
	return &domain.ProjectConfig{
		Project: domain.Project{ID: testProject},
		Handoff: domain.HandoffSettings{
			Enabled:     true,
			TriggerMode: domain.TriggerBoth,
		},
	}
}

func newFixture(t *testing.T, configure func(*domain.ProjectConfig), opts fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	repo, err := repository.NewSQLRepository(db, repository.DriverSQLite)
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(ctx))

	require.NoError(t, repo.CreateProject(ctx, &domain.Project{ID: testProject, Name: "Acme", OwnerID: testOwner}))
	require.NoError(t, repo.AddMember(ctx, testProject, testAgentA, "agent"))
	require.NoError(t, repo.AddMember(ctx, testProject, testAgentB, "agent"))

	settings := defaultSettings()
	if configure != nil {
		configure(settings)
	}
	require.NoError(t, repo.SaveProjectSettings(ctx, settings))

	runner := NewBackgroundRunner(2, 256)
	t.Cleanup(runner.Close)

	f := &fixture{
		repo:      repo,
		notifier:  &recordingNotifier{},
		runner:    runner,
		pause:     NewAIPause(),
		generator: new(MockGenerator),
	}

	// zero TTL: every read goes to the store
	configs := cache.NewMemory(repo, 0, 16)

	f.handoff = NewHandoffService(HandoffDeps{
		Conversations: repo,
		Messages:      repo,
		Projects:      repo,
		Agents:        repo,
		Configs:       configs,
		Notifier:      f.notifier,
		Runner:        runner,
	})

	f.pipeline = NewChatPipeline(PipelineDeps{
		Conversations:     repo,
		Messages:          repo,
		Configs:           configs,
		Handoff:           f.handoff,
		LeadCapture:       NewLeadCapture(repo, repo),
		Retriever:         opts.retriever,
		Generator:         f.generator,
		Tools:             opts.tools,
		Pause:             f.pause,
		Notifier:          f.notifier,
		Runner:            runner,
		MaxToolIterations: 3,
		GenerationTimeout: opts.timeout,
	})
	return f
}

func (f *fixture) online(t *testing.T, agentID string, max int) {
	t.Helper()
	_, err := f.handoff.SetAgentStatus(context.Background(), testProject, agentID, domain.AgentOnline, max)
	require.NoError(t, err)
}

func (f *fixture) conversation(t *testing.T, visitorID string) *domain.Conversation {
	t.Helper()
	conv, _, err := f.repo.ResolveSession(context.Background(), testProject, visitorID, "session-"+visitorID, time.Now())
	require.NoError(t, err)
	return conv
}

func (f *fixture) reload(t *testing.T, id string) *domain.Conversation {
	t.Helper()
	conv, err := f.repo.GetConversation(context.Background(), id)
	require.NoError(t, err)
	return conv
}

func (f *fixture) load(t *testing.T, agentID string) int {
	t.Helper()
	a, err := f.repo.GetAgent(context.Background(), testProject, agentID)
	require.NoError(t, err)
	return a.CurrentChatCount
}

// queue triggers a handoff with no agents online and returns the position
func (f *fixture) queue(t *testing.T, visitorID string) (*domain.Conversation, int) {
	t.Helper()
	conv := f.conversation(t, visitorID)
	res, err := f.handoff.TriggerHandoff(context.Background(), TriggerRequest{ConversationID: conv.ID})
	require.NoError(t, err)
	require.Equal(t, string(domain.StatusWaiting), res.Status)
	return conv, res.QueuePosition
}
