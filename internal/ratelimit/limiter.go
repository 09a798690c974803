// Package ratelimit gates outbound sends per (channel, user). It is a pure
// gate: callers denied a send decide themselves whether to drop, delay or
// surface an error.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/huntred/chatflow/internal/config"
	"github.com/huntred/chatflow/internal/model"
)

// minIntervalScript allows a send only when at least the minimum interval
// has passed since the key's last recorded send, recording the new timestamp
// atomically. Times are unix milliseconds.
var minIntervalScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local minInterval = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local last = redis.call('GET', key)
if last and (now - tonumber(last)) < minInterval then
    return 0
end

redis.call('SET', key, now, 'PX', ttl)
return 1
`)

type Limiter struct {
	client     *redis.Client
	defaultMin time.Duration
	perChannel map[model.Channel]time.Duration
	entryTTL   time.Duration
}

func NewLimiter(client *redis.Client, defaultMin time.Duration) *Limiter {
	if defaultMin <= 0 {
		defaultMin = time.Second
	}
	return &Limiter{
		client:     client,
		defaultMin: defaultMin,
		perChannel: make(map[model.Channel]time.Duration),
		entryTTL:   config.RateLimitEntryTTL,
	}
}

// SetChannelInterval overrides the minimum send interval for one channel.
func (l *Limiter) SetChannelInterval(channel model.Channel, min time.Duration) {
	l.perChannel[channel] = min
}

func (l *Limiter) interval(channel model.Channel) time.Duration {
	if min, ok := l.perChannel[channel]; ok {
		return min
	}
	return l.defaultMin
}

// Allow reports whether a send to (channel, userID) may proceed now. Redis
// failures allow the send; an occasional extra message is preferable to
// silencing a conversation.
func (l *Limiter) Allow(ctx context.Context, channel model.Channel, userID string) bool {
	key := fmt.Sprintf("ratelimit:%s:%s", channel, userID)
	now := time.Now().UnixMilli()
	min := l.interval(channel)

	result, err := minIntervalScript.Run(
		ctx, l.client, []string{key},
		now, min.Milliseconds(), l.entryTTL.Milliseconds(),
	).Int64()
	if err != nil {
		log.Warn().
			Err(err).
			Str("channel", string(channel)).
			Str("userId", userID).
			Msg("rate limit check failed, allowing send")
		return true
	}

	return result == 1
}
