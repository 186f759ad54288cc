package pricing

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_StoreAndLoadRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewRedisCache(client)
	ctx := context.Background()

	_, ok := cache.Load(ctx)
	require.False(t, ok)

	prices := map[string]Price{"gemini-2.5-pro": {InputPerMillion: 1.25, OutputPerMillion: 5}}
	cache.Store(ctx, prices)

	loaded, ok := cache.Load(ctx)
	require.True(t, ok)
	require.Equal(t, prices, loaded)
}

func TestRedisCache_NilClientAlwaysMisses(t *testing.T) {
	cache := NewRedisCache(nil)
	_, ok := cache.Load(context.Background())
	require.False(t, ok)
}
