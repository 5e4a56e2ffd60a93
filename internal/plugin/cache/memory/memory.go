// Package memory registers an in-process dashboard cache backed by
// ristretto, for single-instance deployments without redis.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/echoheir/echoheir-service/internal/config"
	registrycache "github.com/echoheir/echoheir-service/internal/registry/cache"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/google/uuid"
)

const defaultTTL = 30 * time.Second

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "memory",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.DashboardCache, error) {
	cfg := config.FromContext(ctx)
	ttl := defaultTTL
	if cfg != nil && cfg.DashboardCacheTTL > 0 {
		ttl = cfg.DashboardCacheTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10_000,
		MaxCost:     32 << 20, // 32 MiB of serialized snapshots
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	return &memoryDashboardCache{cache: cache, ttl: ttl}, nil
}

type memoryDashboardCache struct {
	cache *ristretto.Cache[string, []byte]
	ttl   time.Duration
}

func dashboardKey(userID uuid.UUID) string {
	return "dashboard:" + userID.String()
}

func (c *memoryDashboardCache) Available() bool {
	return true
}

func (c *memoryDashboardCache) Get(_ context.Context, userID uuid.UUID) (*registrystore.DashboardData, error) {
	data, found := c.cache.Get(dashboardKey(userID))
	if !found {
		return nil, nil
	}
	var cached registrystore.DashboardData
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (c *memoryDashboardCache) Set(_ context.Context, userID uuid.UUID, data registrystore.DashboardData, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	c.cache.SetWithTTL(dashboardKey(userID), payload, int64(len(payload)), ttl)
	return nil
}

func (c *memoryDashboardCache) Remove(_ context.Context, userID uuid.UUID) error {
	c.cache.Del(dashboardKey(userID))
	return nil
}

var _ registrycache.DashboardCache = (*memoryDashboardCache)(nil)
