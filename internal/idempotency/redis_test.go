package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, Options{Retention: 24 * time.Hour}), mr
}

func TestRedisStore_ReserveCommit(t *testing.T) {
	s, mr := setupRedisStore(t)
	ctx := context.Background()

	res, ok, err := s.Reserve(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.Reserve(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	processed, err := s.HasProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, processed)

	at := time.Now().UTC()
	require.NoError(t, s.Commit(ctx, res, at))

	processed, err = s.HasProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)

	got, err := s.ProcessedAt(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, at.UnixMilli(), got.UnixMilli())

	ttl := mr.TTL(redisKey("evt-1"))
	assert.Greater(t, ttl, 23*time.Hour)
	assert.LessOrEqual(t, ttl, 24*time.Hour)
}

func TestRedisStore_ReleaseAllowsRetry(t *testing.T) {
	s, _ := setupRedisStore(t)
	ctx := context.Background()

	res, ok, err := s.Reserve(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Release(ctx, Reservation{ID: "evt-1", Token: "foreign"}))
	_, ok, _ = s.Reserve(ctx, "evt-1", time.Minute)
	assert.False(t, ok, "foreign token must not release")

	require.NoError(t, s.Release(ctx, res))
	_, ok, err = s.Reserve(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_LeaseExpiry(t *testing.T) {
	s, mr := setupRedisStore(t)
	ctx := context.Background()

	_, ok, err := s.Reserve(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(61 * time.Second)

	_, ok, err = s.Reserve(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease should be reclaimable")
}

func TestRedisStore_MarkProcessedIsIdempotent(t *testing.T) {
	s, mr := setupRedisStore(t)
	ctx := context.Background()

	first := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.MarkProcessed(ctx, "evt-1", first))
	require.NoError(t, s.MarkProcessed(ctx, "evt-1", time.Now().UTC()))

	got, err := s.ProcessedAt(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, first.UnixMilli(), got.UnixMilli())
	assert.LessOrEqual(t, mr.TTL(redisKey("evt-1")), 23*time.Hour)

	mr.FastForward(24 * time.Hour)
	processed, err := s.HasProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRedisStore_ConcurrentReserve(t *testing.T) {
	s, _ := setupRedisStore(t)
	ctx := context.Background()

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := s.Reserve(ctx, "evt-race", time.Minute); err == nil && ok {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired.Load())
}

func TestRedisStore_UnavailableError(t *testing.T) {
	s, mr := setupRedisStore(t)
	mr.Close()

	_, ok, err := s.Reserve(context.Background(), "evt-1", time.Minute)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, IsUnavailable(err))
}
