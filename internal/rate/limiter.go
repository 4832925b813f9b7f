package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds refresh throttle tuning.
type Config struct {
	MaxAttempts int
	Window      time.Duration
	Prefix      string
}

// Limiter enforces a per-session refresh budget using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "ar"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *Limiter) key(sessionID string) string {
	return l.config.Prefix + ":" + sessionID
}

// CheckRefresh counts one refresh attempt for sessionID and returns
// ErrRateLimited once the window budget is spent.
func (l *Limiter) CheckRefresh(ctx context.Context, sessionID string) error {
	count, err := l.incrementWithTTL(ctx, l.key(sessionID), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Attempts returns the current counter for sessionID.
func (l *Limiter) Attempts(ctx context.Context, sessionID string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(sessionID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// incrementScript bumps the window counter and arms its expiry in one step.
// A counter found without a TTL is re-armed so it can never pin a session.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrementScript.Run(ctx, l.redis, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}
