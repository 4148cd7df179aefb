package ownership

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
)

// redisClient requires a running Redis on localhost; tests skip otherwise.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisCache_Integration(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()

	var calls atomic.Int32
	subject := "Cache Subject " + uuid.NewString()
	next := LookupFunc(func(ctx context.Context, name string) (Ownership, error) {
		calls.Add(1)
		return Ownership{
			Subject: name,
			Edges:   []screening.OwnershipEdge{edge(name, "ZTE Corporation", screening.RelationParent)},
			Source:  "registry",
			Ceiling: 1,
		}, nil
	})
	cache := NewRedisCache(client, next, time.Minute)
	t.Cleanup(func() { client.Del(ctx, cache.store.key(subject)) })

	first, err := cache.Lookup(ctx, subject)
	require.NoError(t, err)
	second, err := cache.Lookup(ctx, subject)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first.Edges, second.Edges)
	assert.Equal(t, "registry", second.Source)
}

func TestRedisSiblingCache_Integration(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()

	var calls atomic.Int32
	subject := "Sibling Subject " + uuid.NewString()
	next := SiblingListerFunc(func(ctx context.Context, name string) ([]string, error) {
		calls.Add(1)
		return []string{"ZTE Kangxun Telecom"}, nil
	})
	cache := NewRedisSiblingCache(client, next, time.Minute)
	t.Cleanup(func() { client.Del(ctx, cache.store.key(subject)) })

	first, err := cache.Siblings(ctx, subject)
	require.NoError(t, err)
	second, err := cache.Siblings(ctx, subject)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first, second)
	assert.NotEqual(t, NewRedisCache(client, nil, time.Minute).store.key(subject), cache.store.key(subject))
}

func TestRedisLimiter_Integration(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()

	l := NewRedisLimiter(client, "test-"+uuid.NewString(), 1, 1)
	t.Cleanup(func() { client.Del(ctx, l.key) })

	allowed, _, err := l.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, allowed, "fresh bucket")

	allowed, wait, err := l.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, allowed, "burst of one is spent")
	assert.Greater(t, wait, time.Duration(0))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, l.Wait(waitCtx), "token refills within a second")
}
