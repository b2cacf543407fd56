package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/model"
	"github.com/zwoods58/WebApp-sub006/internal/util"
)

const recoveryStatePrefix = "recovery_state:"

// RecoveryStateCache stores one key per phone; the key TTL bounds how long
// a started recovery stays open.
type RecoveryStateCache struct {
	client goredis.Cmdable
}

var _ model.RecoveryStateStore = (*RecoveryStateCache)(nil)

func NewRecoveryStateCache(client goredis.Cmdable) *RecoveryStateCache {
	return &RecoveryStateCache{client: client}
}

func (c *RecoveryStateCache) GetRecoveryState(ctx context.Context, phone string) (model.RecoveryState, error) {
	val, err := c.client.Get(ctx, recoveryStatePrefix+phone).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return model.RecoveryNotStarted, nil
		}
		return "", fmt.Errorf("failed to get recovery state: %w", err)
	}
	return model.RecoveryState(val), nil
}

func (c *RecoveryStateCache) SetRecoveryState(ctx context.Context, phone string, state model.RecoveryState, ttl time.Duration) error {
	if err := c.client.Set(ctx, recoveryStatePrefix+phone, string(state), ttl).Err(); err != nil {
		util.Error("Failed to set recovery state", util.MaskPhone(phone), zap.String("state", string(state)), zap.Error(err))
		return fmt.Errorf("failed to set recovery state: %w", err)
	}
	return nil
}

func (c *RecoveryStateCache) ClearRecoveryState(ctx context.Context, phone string) error {
	if err := c.client.Del(ctx, recoveryStatePrefix+phone).Err(); err != nil {
		return fmt.Errorf("failed to clear recovery state: %w", err)
	}
	return nil
}
