// internal/service/plan/cache.go
package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"audiotricks-service/internal/domain/plan"

	"github.com/redis/go-redis/v9"
)

// Cache holds resolved plans between quota checks.
type Cache interface {
	Get(ctx context.Context, userID int64, workspaceID *int64) (*plan.EffectivePlan, bool)
	Set(ctx context.Context, userID int64, workspaceID *int64, ep *plan.EffectivePlan)
	InvalidateUser(ctx context.Context, userID int64) error
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(userID int64, workspaceID *int64) string {
	if workspaceID == nil {
		return fmt.Sprintf("plan:effective:%d:none", userID)
	}
	return fmt.Sprintf("plan:effective:%d:%d", userID, *workspaceID)
}

func (c *RedisCache) Get(ctx context.Context, userID int64, workspaceID *int64) (*plan.EffectivePlan, bool) {
	data, err := c.client.Get(ctx, cacheKey(userID, workspaceID)).Bytes()
	if err != nil {
		return nil, false
	}
	var ep plan.EffectivePlan
	if err := json.Unmarshal(data, &ep); err != nil {
		return nil, false
	}
	return &ep, true
}

func (c *RedisCache) Set(ctx context.Context, userID int64, workspaceID *int64, ep *plan.EffectivePlan) {
	data, err := json.Marshal(ep)
	if err != nil {
		return
	}
	c.client.Set(ctx, cacheKey(userID, workspaceID), data, c.ttl)
}

// InvalidateUser drops every cached resolution of the user.
func (c *RedisCache) InvalidateUser(ctx context.Context, userID int64) error {
	return c.deleteMatching(ctx, fmt.Sprintf("plan:effective:%d:*", userID))
}

// InvalidateAll drops every cached resolution, for catalog and rule changes.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	return c.deleteMatching(ctx, "plan:effective:*")
}

func (c *RedisCache) deleteMatching(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to scan plan cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// InvalidateWorkspace drops cached resolutions of every member.
func InvalidateWorkspace(ctx context.Context, c Cache, memberIDs []int64) {
	if c == nil {
		return
	}
	for _, id := range memberIDs {
		_ = c.InvalidateUser(ctx, id)
	}
}
