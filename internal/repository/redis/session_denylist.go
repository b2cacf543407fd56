package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/zwoods58/WebApp-sub006/internal/model"
)

const revokedSessionPrefix = "revoked_session:"

// SessionDenyList marks revoked session ids so access checks can fail
// before touching the datastore. Entries only need to outlive the access
// token TTL; after that the token itself is expired.
type SessionDenyList struct {
	client goredis.Cmdable
}

var _ model.SessionDenyList = (*SessionDenyList)(nil)

func NewSessionDenyList(client goredis.Cmdable) *SessionDenyList {
	return &SessionDenyList{client: client}
}

func (d *SessionDenyList) DenySessions(ctx context.Context, sessionIDs []string, ttl time.Duration) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	pipe := d.client.Pipeline()
	for _, id := range sessionIDs {
		pipe.Set(ctx, revokedSessionPrefix+id, "1", ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to deny sessions: %w", err)
	}
	return nil
}

func (d *SessionDenyList) IsDenied(ctx context.Context, sessionID string) (bool, error) {
	n, err := d.client.Exists(ctx, revokedSessionPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check deny list: %w", err)
	}
	return n > 0, nil
}
