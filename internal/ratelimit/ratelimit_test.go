package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tableside/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilGuardAllowsEverything(t *testing.T) {
	guard, err := NewOrderGuard(nil, config.Config{})
	require.NoError(t, err)
	assert.Nil(t, guard)
	assert.False(t, guard.Enabled())

	res, err := guard.AllowPlacement(context.Background(), "1", "u")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	release, err := guard.LockOrder(context.Background(), "42")
	require.NoError(t, err)
	release()
}

func TestNilPrimitivesReportNotConfigured(t *testing.T) {
	assert.Nil(t, NewLocker(nil))
	assert.Nil(t, NewTokenBucket(nil))

	var locker *Locker
	lease, err := locker.Acquire(context.Background(), "k", time.Second)
	assert.Error(t, err)
	assert.Nil(t, lease)
	assert.NoError(t, lease.Release(context.Background()))

	var bucket *TokenBucket
	res, err := bucket.Allow(context.Background(), "k", 1, 1)
	assert.Error(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 1, res.Limit)
}

func TestNewOrderGuardValidatesLimits(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	_, err := NewOrderGuard(client, config.Config{RateLimit: config.RateLimitConfig{OrderPlacementRate: 0, OrderPlacementBurst: 5, OrderLockTTLSeconds: 5}})
	assert.Error(t, err)
	_, err = NewOrderGuard(client, config.Config{RateLimit: config.RateLimitConfig{OrderPlacementRate: 1, OrderPlacementBurst: 5}})
	assert.Error(t, err)

	guard, err := NewOrderGuard(client, config.Config{RateLimit: config.RateLimitConfig{OrderPlacementRate: 1, OrderPlacementBurst: 5, OrderLockTTLSeconds: 5}})
	require.NoError(t, err)
	assert.True(t, guard.Enabled())
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 50*time.Second, bucketTTL(0.2, 5))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 0))
}

func TestScriptReplyConversion(t *testing.T) {
	assert.EqualValues(t, 3, toInt(int64(3)))
	assert.EqualValues(t, 250, toInt("250"))
	assert.EqualValues(t, 0, toInt(2.5))
	assert.Equal(t, 1.5, toFloat("1.5"))
	assert.Equal(t, 4.0, toFloat(int64(4)))
	assert.Equal(t, 0.0, toFloat("bad"))
}
