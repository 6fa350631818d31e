package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/ports"
)

// Ensure RedisConfigCache implements ConfigCache
var _ ports.ConfigCache = (*RedisConfigCache)(nil)

// configLoader is the authoritative source behind the cache
type configLoader interface {
	GetProjectConfig(ctx context.Context, projectID string) (*domain.ProjectConfig, error)
}

// RedisConfigCache shares project configuration between instances.
// Entries expire after ttl; Invalidate deletes the key for every instance at once.
type RedisConfigCache struct {
	client *redis.Client
	loader configLoader
	ttl    time.Duration
}

// NewRedisConfigCache creates a Redis-backed config cache
func NewRedisConfigCache(client *redis.Client, loader configLoader, ttl time.Duration) *RedisConfigCache {
	return &RedisConfigCache{
		client: client,
		loader: loader,
		ttl:    ttl,
	}
}

// Get returns the cached config or loads and stores it.
// Redis failures degrade to a direct load; they never fail the request.
func (r *RedisConfigCache) Get(ctx context.Context, projectID string) (*domain.ProjectConfig, error) {
	key := buildConfigKey(projectID)

	raw, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cfg domain.ProjectConfig
		if jsonErr := json.Unmarshal(raw, &cfg); jsonErr == nil {
			return &cfg, nil
		}
		slog.Warn("Discarding undecodable cached config", "project_id", projectID)
	case errors.Is(err, redis.Nil):
		// miss
	default:
		slog.Error("Failed to read config cache",
			"error", err,
			"project_id", projectID,
		)
	}

	cfg, err := r.loader.GetProjectConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(cfg)
	if err != nil {
		return cfg, nil
	}
	if err := r.client.Set(ctx, key, encoded, r.ttl).Err(); err != nil {
		slog.Error("Failed to write config cache",
			"error", err,
			"project_id", projectID,
			"ttl", r.ttl,
		)
	}
	return cfg, nil
}

// Invalidate removes the cached config
func (r *RedisConfigCache) Invalidate(ctx context.Context, projectID string) error {
	if err := r.client.Del(ctx, buildConfigKey(projectID)).Err(); err != nil {
		slog.Error("Failed to invalidate config cache",
			"error", err,
			"project_id", projectID,
		)
		return fmt.Errorf("invalidate config: %w", err)
	}
	slog.Debug("Config cache invalidated", "project_id", projectID)
	return nil
}

// buildConfigKey constructs the Redis key: project:config:{project_id}
func buildConfigKey(projectID string) string {
	return fmt.Sprintf("project:config:%s", projectID)
}
