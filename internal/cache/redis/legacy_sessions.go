package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/open-builders/points-backend/internal/domain/profile"
	rplatform "github.com/open-builders/points-backend/internal/platform/redis"
)

// LegacySessions reads sessions the client recorded before the remote store
// was authoritative. The client uploads them as a JSON array under one key.
type LegacySessions struct {
	client *rplatform.Client
}

var _ profile.LegacySource = (*LegacySessions)(nil)

func NewLegacySessions(client *rplatform.Client) *LegacySessions {
	return &LegacySessions{client: client}
}

func legacyKey(handle string) string {
	return fmt.Sprintf("legacy:sessions:%s", normalize(handle))
}

// Load returns the stored sessions, or nil when there are none.
func (l *LegacySessions) Load(ctx context.Context, handle string) ([]profile.LegacySession, error) {
	v, err := l.client.Get(ctx, legacyKey(handle)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var sessions []profile.LegacySession
	if err := json.Unmarshal(v, &sessions); err != nil {
		return nil, fmt.Errorf("decode legacy sessions: %w", err)
	}
	return sessions, nil
}

// Store writes sessions for handle. Used by the upload endpoint and tests.
func (l *LegacySessions) Store(ctx context.Context, handle string, sessions []profile.LegacySession) error {
	b, err := json.Marshal(sessions)
	if err != nil {
		return err
	}
	return l.client.Set(ctx, legacyKey(handle), b, 0).Err()
}

func (l *LegacySessions) Delete(ctx context.Context, handle string) error {
	return l.client.Del(ctx, legacyKey(handle)).Err()
}
