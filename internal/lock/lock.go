// Package lock provides a redis lease lock serializing state transitions for
// one conversation. Two concurrent inbound messages from the same user must
// not interleave the read-decide-write cycle.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/huntred/chatflow/internal/config"
	"github.com/huntred/chatflow/internal/model"
)

// releaseScript deletes the lock only if the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

var ErrNotAcquired = fmt.Errorf("conversation lock not acquired")

// Releaser is a held lease.
type Releaser interface {
	Release(ctx context.Context) error
}

type Lock struct {
	client *redis.Client
	key    string
	token  string
}

type Locker struct {
	client  *redis.Client
	ttl     time.Duration
	wait    time.Duration
	retryIn time.Duration
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{
		client:  client,
		ttl:     config.ConversationLockTTL,
		wait:    config.ConversationLockWait,
		retryIn: config.ConversationLockRetryIn,
	}
}

func lockKey(channel model.Channel, userID string) string {
	return fmt.Sprintf("convlock:%s:%s", channel, userID)
}

// Acquire blocks up to the configured wait for the lease. The lease expires
// on its own after the TTL, so a crashed holder cannot wedge a conversation.
func (l *Locker) Acquire(ctx context.Context, channel model.Channel, userID string) (Releaser, error) {
	key := lockKey(channel, userID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire conversation lock: %w", err)
		}
		if ok {
			return &Lock{client: l.client, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryIn):
		}
	}
}

// Release gives up the lease. Releasing an already-expired lease is a no-op.
func (lk *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, lk.client, []string{lk.key}, lk.token).Err()
}
