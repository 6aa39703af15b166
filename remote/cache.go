package remote

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const usernamesCacheKey = "usernames"

// Directory lists assignable usernames.
type Directory interface {
	ListUsernames(ctx context.Context) ([]string, error)
}

// UsernameCache wraps a Directory with Redis-backed caching.
type UsernameCache struct {
	base  Directory
	redis *redis.Client
	ttl   time.Duration
}

// NewUsernameCache creates a caching Directory. A nil client disables caching.
func NewUsernameCache(base Directory, client *redis.Client, ttl time.Duration) *UsernameCache {
	if base == nil {
		panic("remote.NewUsernameCache: base directory is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &UsernameCache{base: base, redis: client, ttl: ttl}
}

func (c *UsernameCache) ListUsernames(ctx context.Context) ([]string, error) {
	if names, ok := c.load(ctx); ok {
		return names, nil
	}
	names, err := c.base.ListUsernames(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, names)
	return names, nil
}

// Evict drops the cached directory.
func (c *UsernameCache) Evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, usernamesCacheKey).Err()
}

func (c *UsernameCache) load(ctx context.Context) ([]string, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, usernamesCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the directory without failing.
			_ = c.redis.Del(ctx, usernamesCacheKey).Err()
		}
		return nil, false
	}
	var names []string
	if err := sonic.Unmarshal(data, &names); err != nil {
		_ = c.redis.Del(ctx, usernamesCacheKey).Err()
		return nil, false
	}
	return names, true
}

func (c *UsernameCache) store(ctx context.Context, names []string) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(names)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, usernamesCacheKey, data, c.ttl).Err()
}
