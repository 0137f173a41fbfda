// Package engine holds the admission controls around webhook processing:
// per-provider ingress rate limiting and a circuit breaker for outbound
// notifications.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key is admitted.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// RateLimiter is a sliding-window limiter shared by every instance through
// Redis. Each key gets its own sorted set of request timestamps.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
	limit       int
	window      time.Duration
}

// Removes entries outside the window, then admits the request only while
// the remaining count is below the limit.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window + 1000)
    return 1
end
return 0
`)

// NewRateLimiter admits limit requests per second per key. A limit of zero
// or less disables limiting.
func NewRateLimiter(redisClient *redis.Client, limit int, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
		limit:       limit,
		window:      time.Second,
	}
}

func rlKey(key string) string {
	return "webhook:rl:" + key
}

// Allow fails open when Redis is unreachable.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.limit <= 0 {
		return true
	}

	now := time.Now().UnixMilli()
	result, err := rl.script.Run(ctx, rl.redisClient, []string{rlKey(key)},
		now, rl.window.Milliseconds(), rl.limit, uuid.NewString(),
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "key", key)
		return true
	}

	if result == 0 {
		rl.logger.Debug("rate limited", "key", key, "limit", rl.limit)
		return false
	}
	return true
}

// DefaultLocalMaxKeys bounds how many per-key buckets LocalRateLimiter keeps.
const DefaultLocalMaxKeys = 1024

// LocalRateLimiter is the in-process token bucket used when Redis is not
// configured. Limits are per instance. Once maxKeys buckets exist, full
// (idle) buckets are dropped and any further new key shares one overflow
// bucket.
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	overflow *rate.Limiter
	limit    rate.Limit
	burst    int
	maxKeys  int
}

func NewLocalRateLimiter(perSecond int) *LocalRateLimiter {
	return &LocalRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		overflow: rate.NewLimiter(rate.Limit(perSecond), perSecond),
		limit:    rate.Limit(perSecond),
		burst:    perSecond,
		maxKeys:  DefaultLocalMaxKeys,
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string) bool {
	if l.burst <= 0 {
		return true
	}

	l.mu.Lock()
	lim := l.bucketLocked(key)
	l.mu.Unlock()

	return lim.Allow()
}

func (l *LocalRateLimiter) bucketLocked(key string) *rate.Limiter {
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	if len(l.limiters) >= l.maxKeys {
		// A full bucket behaves exactly like a fresh one.
		for k, lim := range l.limiters {
			if lim.Tokens() >= float64(l.burst) {
				delete(l.limiters, k)
			}
		}
		if len(l.limiters) >= l.maxKeys {
			return l.overflow
		}
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters[key] = lim
	return lim
}
