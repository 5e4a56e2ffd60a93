package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/echoheir/echoheir-service/internal/config"
	_ "github.com/echoheir/echoheir-service/internal/plugin/cache/memory"
	registrycache "github.com/echoheir/echoheir-service/internal/registry/cache"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadCache(t *testing.T) registrycache.DashboardCache {
	t.Helper()
	cfg := config.DefaultConfig()
	ctx := config.WithContext(context.Background(), &cfg)
	loader, err := registrycache.Select("memory")
	require.NoError(t, err)
	cache, err := loader(ctx)
	require.NoError(t, err)
	return cache
}

func TestMemoryCache_RoundTrip(t *testing.T) {
	cache := loadCache(t)
	ctx := context.Background()
	userID := uuid.New()

	miss, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	require.Nil(t, miss)

	data := registrystore.DashboardData{
		User: registrystore.DashboardUser{ID: userID, Email: "a@b.c", DisplayName: "A"},
	}
	require.NoError(t, cache.Set(ctx, userID, data, time.Minute))

	// Ristretto admits writes asynchronously.
	assert.Eventually(t, func() bool {
		got, err := cache.Get(ctx, userID)
		return err == nil && got != nil && got.User.ID == userID
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryCache_Remove(t *testing.T) {
	cache := loadCache(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, cache.Set(ctx, userID, registrystore.DashboardData{}, time.Minute))
	assert.Eventually(t, func() bool {
		got, err := cache.Get(ctx, userID)
		return err == nil && got != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, cache.Remove(ctx, userID))
	got, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	cache := loadCache(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, cache.Set(ctx, userID, registrystore.DashboardData{}, 50*time.Millisecond))
	assert.Eventually(t, func() bool {
		got, err := cache.Get(ctx, userID)
		return err == nil && got == nil
	}, 2*time.Second, 25*time.Millisecond)
}
