package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/open-builders/points-backend/internal/domain/profile"
	rplatform "github.com/open-builders/points-backend/internal/platform/redis"
)

// ProfileCache keeps the last known profile per handle in Redis.
// Entries expire after ttl; freshness is judged by the caller from StoredAt.
type ProfileCache struct {
	client *rplatform.Client
	ttl    time.Duration
}

var _ profile.Cache = (*ProfileCache)(nil)

func NewProfileCache(client *rplatform.Client, ttl time.Duration) *ProfileCache {
	return &ProfileCache{client: client, ttl: ttl}
}

func profileKey(handle string) string {
	return fmt.Sprintf("profile:handle:%s", normalize(handle))
}

// Get returns the cached entry, or nil on a miss.
func (c *ProfileCache) Get(ctx context.Context, handle string) (*profile.CacheEntry, error) {
	v, err := c.client.Get(ctx, profileKey(handle)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var e profile.CacheEntry
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, fmt.Errorf("decode cached profile: %w", err)
	}
	return &e, nil
}

// Set stores p together with the time it was read from the remote store.
func (c *ProfileCache) Set(ctx context.Context, p *profile.Profile, storedAt time.Time) error {
	b, err := json.Marshal(profile.CacheEntry{Profile: p, StoredAt: storedAt})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, profileKey(p.Handle), b, c.ttl).Err()
}

func (c *ProfileCache) Invalidate(ctx context.Context, handle string) error {
	return c.client.Del(ctx, profileKey(handle)).Err()
}

func normalize(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}
