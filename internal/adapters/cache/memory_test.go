package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"handoff-engine/internal/core/domain"
)

// MockLoader mocks the authoritative config source
type MockLoader struct {
	mock.Mock
}

func (m *MockLoader) GetProjectConfig(ctx context.Context, projectID string) (*domain.ProjectConfig, error) {
	args := m.Called(ctx, projectID)
	if result := args.Get(0); result != nil {
		return result.(*domain.ProjectConfig), args.Error(1)
	}
	return nil, args.Error(1)
}

func configFor(id string) *domain.ProjectConfig {
	return &domain.ProjectConfig{Project: domain.Project{ID: id}}
}

// fakeClock lets tests move time forward
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestMemory(loader Loader, ttl time.Duration, maxSize int) (*Memory, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(loader, ttl, maxSize)
	m.now = clock.Now
	return m, clock
}

// TestMemory_ServesWithinTTL tests hits avoid the loader until the entry expires
func TestMemory_ServesWithinTTL(t *testing.T) {
	loader := new(MockLoader)
	loader.On("GetProjectConfig", mock.Anything, "p1").Return(configFor("p1"), nil)

	c, clock := newTestMemory(loader, time.Minute, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cfg, err := c.Get(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "p1", cfg.Project.ID)
	}
	loader.AssertNumberOfCalls(t, "GetProjectConfig", 1)

	clock.now = clock.now.Add(time.Minute)
	_, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	loader.AssertNumberOfCalls(t, "GetProjectConfig", 2)
	assert.Equal(t, 1, c.Len())
}

// TestMemory_Invalidate tests the next read after invalidation reloads
func TestMemory_Invalidate(t *testing.T) {
	loader := new(MockLoader)
	loader.On("GetProjectConfig", mock.Anything, "p1").Return(configFor("p1"), nil)

	c, _ := newTestMemory(loader, time.Hour, 10)
	ctx := context.Background()

	_, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "p1"))
	require.NoError(t, c.Invalidate(ctx, "never-cached"))
	assert.Equal(t, 0, c.Len())

	_, err = c.Get(ctx, "p1")
	require.NoError(t, err)
	loader.AssertNumberOfCalls(t, "GetProjectConfig", 2)
}

// TestMemory_EvictsOldest tests the size bound
func TestMemory_EvictsOldest(t *testing.T) {
	loader := new(MockLoader)
	for _, id := range []string{"p1", "p2", "p3"} {
		loader.On("GetProjectConfig", mock.Anything, id).Return(configFor(id), nil)
	}

	c, _ := newTestMemory(loader, time.Hour, 2)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		_, err := c.Get(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())

	// p1 was evicted, p3 is still cached
	_, err := c.Get(ctx, "p3")
	require.NoError(t, err)
	loader.AssertNumberOfCalls(t, "GetProjectConfig", 3)

	_, err = c.Get(ctx, "p1")
	require.NoError(t, err)
	loader.AssertNumberOfCalls(t, "GetProjectConfig", 4)
}

// TestMemory_DoesNotCacheErrors tests failed loads are retried
func TestMemory_DoesNotCacheErrors(t *testing.T) {
	loader := new(MockLoader)
	loader.On("GetProjectConfig", mock.Anything, "missing").Return(nil, domain.ErrNotFound)

	c, _ := newTestMemory(loader, time.Hour, 10)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	loader.AssertNumberOfCalls(t, "GetProjectConfig", 2)
	assert.Equal(t, 0, c.Len())
}
