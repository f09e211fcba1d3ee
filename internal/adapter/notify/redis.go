// Package notify carries "new work for type X" hints between processes.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"storyjobs/internal/domain"
)

// KickChannel is the pub/sub channel carrying job type names.
const KickChannel = "jobs:kick"

// RedisKicker publishes and consumes kick hints over redis pub/sub. A lost
// message only delays a job until the next poll; the claim stays the sole
// safety mechanism.
type RedisKicker struct {
	rc     *redis.Client
	logger zerolog.Logger
}

func NewRedisKicker(rc *redis.Client, logger zerolog.Logger) *RedisKicker {
	return &RedisKicker{rc: rc, logger: logger}
}

// Notify publishes t on KickChannel.
func (k *RedisKicker) Notify(ctx context.Context, t domain.JobType) error {
	if k == nil || k.rc == nil {
		return errors.New("redis client is nil, cannot publish kick")
	}
	if err := k.rc.Publish(ctx, KickChannel, string(t)).Err(); err != nil {
		return fmt.Errorf("publish kick: %w", err)
	}
	return nil
}

// Listen blocks until ctx is done, calling fn for every valid job type
// received on KickChannel.
func (k *RedisKicker) Listen(ctx context.Context, fn func(domain.JobType)) error {
	if k == nil || k.rc == nil {
		return errors.New("redis client is nil, cannot subscribe")
	}
	sub := k.rc.Subscribe(ctx, KickChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", KickChannel, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			t := domain.JobType(msg.Payload)
			if !t.Valid() {
				k.logger.Warn().Str("payload", msg.Payload).Msg("ignoring kick for unknown job type")
				continue
			}
			fn(t)
		}
	}
}
