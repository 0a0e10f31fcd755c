// Package memory holds in-process implementations of the profile cache and the
// legacy session source, used when Redis is disabled.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/open-builders/points-backend/internal/domain/profile"
)

// ProfileCache is a map-backed profile.Cache. Entries never expire on their
// own; callers judge freshness from StoredAt.
type ProfileCache struct {
	mu      sync.RWMutex
	entries map[string]profile.CacheEntry
}

var _ profile.Cache = (*ProfileCache)(nil)

func NewProfileCache() *ProfileCache {
	return &ProfileCache{entries: make(map[string]profile.CacheEntry)}
}

func (c *ProfileCache) Get(_ context.Context, handle string) (*profile.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[normalize(handle)]
	if !ok {
		return nil, nil
	}
	return &profile.CacheEntry{Profile: e.Profile.Clone(), StoredAt: e.StoredAt}, nil
}

func (c *ProfileCache) Set(_ context.Context, p *profile.Profile, storedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[normalize(p.Handle)] = profile.CacheEntry{Profile: p.Clone(), StoredAt: storedAt}
	return nil
}

func (c *ProfileCache) Invalidate(_ context.Context, handle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, normalize(handle))
	return nil
}

// LegacySessions is a map-backed profile.LegacySource.
type LegacySessions struct {
	mu       sync.Mutex
	sessions map[string][]profile.LegacySession
}

var _ profile.LegacySource = (*LegacySessions)(nil)

func NewLegacySessions() *LegacySessions {
	return &LegacySessions{sessions: make(map[string][]profile.LegacySession)}
}

func (l *LegacySessions) Load(_ context.Context, handle string) ([]profile.LegacySession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]profile.LegacySession(nil), l.sessions[normalize(handle)]...), nil
}

func (l *LegacySessions) Store(_ context.Context, handle string, sessions []profile.LegacySession) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[normalize(handle)] = append([]profile.LegacySession(nil), sessions...)
	return nil
}

func (l *LegacySessions) Delete(_ context.Context, handle string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, normalize(handle))
	return nil
}

func normalize(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}
