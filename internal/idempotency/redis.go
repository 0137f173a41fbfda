package idempotency

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix       = "webhook:"
	reservedPrefix  = "reserved:"
	processedPrefix = "processed:"
)

// markProcessedScript sets the processed marker unless one already exists,
// so a second commit neither rewrites processed_at nor extends the TTL.
var markProcessedScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and string.sub(current, 1, 10) == 'processed:' then
    return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// releaseScript deletes the key only while it still holds the caller's
// reservation token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore shares dedup state between receiver instances. Retention is
// enforced by key TTLs.
type RedisStore struct {
	client *redis.Client
	opts   Options
}

func NewRedisStore(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{client: client, opts: opts.withDefaults()}
}

func redisKey(id string) string {
	return keyPrefix + id
}

func (s *RedisStore) Reserve(ctx context.Context, id string, lease time.Duration) (Reservation, bool, error) {
	if lease <= 0 {
		lease = DefaultLease
	}
	res := Reservation{
		ID:        id,
		Token:     uuid.NewString(),
		ExpiresAt: s.opts.Now().Add(lease),
	}

	ok, err := s.client.SetNX(ctx, redisKey(id), reservedPrefix+res.Token, lease).Result()
	if err != nil {
		return Reservation{}, false, Unavailable("reserve", err)
	}
	if !ok {
		return Reservation{}, false, nil
	}
	return res, true, nil
}

func (s *RedisStore) Commit(ctx context.Context, res Reservation, at time.Time) error {
	return s.MarkProcessed(ctx, res.ID, at)
}

func (s *RedisStore) Release(ctx context.Context, res Reservation) error {
	if res.Token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, s.client, []string{redisKey(res.ID)}, reservedPrefix+res.Token).Err(); err != nil {
		return Unavailable("release", err)
	}
	return nil
}

func (s *RedisStore) HasProcessed(ctx context.Context, id string) (bool, error) {
	val, err := s.client.Get(ctx, redisKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, Unavailable("lookup", err)
	}
	return strings.HasPrefix(val, processedPrefix), nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	if at.IsZero() {
		at = s.opts.Now()
	}
	ttl := s.opts.Retention - s.opts.Now().Sub(at)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	value := processedPrefix + strconv.FormatInt(at.UnixMilli(), 10)
	err := markProcessedScript.Run(ctx, s.client, []string{redisKey(id)}, value, ttl.Milliseconds()).Err()
	if err != nil {
		return Unavailable("mark processed", err)
	}
	return nil
}

// ProcessedAt returns when id was committed, or the zero time.
func (s *RedisStore) ProcessedAt(ctx context.Context, id string) (time.Time, error) {
	val, err := s.client.Get(ctx, redisKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, Unavailable("lookup", err)
	}
	ms, ok := strings.CutPrefix(val, processedPrefix)
	if !ok {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(n).UTC(), nil
}

var _ Store = (*RedisStore)(nil)
