package rediscache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/training_workflow/internal/app/domain/readiness"
)

func TestVerdictCacheIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	cache := New(client, 5*time.Second)
	cache.prefix = "test:" + t.Name() + ":"

	ctx := context.Background()
	require.NoError(t, cache.Ping(ctx))

	_, ok, err := cache.Get(ctx, "s1:1")
	require.NoError(t, err)
	require.False(t, ok)

	verdict := readiness.Verdict{
		Score: 80, MaxScore: 100, Percentage: 80, CanPublish: true,
		Checks:             []readiness.Check{{ID: readiness.CheckScheduleSet, Weight: 20, Required: true, Passed: true}},
		RecommendedActions: []string{"All required criteria met"},
	}
	require.NoError(t, cache.Put(ctx, "s1:1", verdict))

	got, ok, err := cache.Get(ctx, "s1:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, verdict, got)
}

func TestNewDefaultsTTL(t *testing.T) {
	cache := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), 0)
	require.Equal(t, time.Minute, cache.ttl)
}
