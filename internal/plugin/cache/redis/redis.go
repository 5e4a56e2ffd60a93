package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/echoheir/echoheir-service/internal/config"
	registrycache "github.com/echoheir/echoheir-service/internal/registry/cache"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * time.Second

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.DashboardCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: ECHOHEIR_REDIS_URL is required")
	}
	ttl := cfg.DashboardCacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURL creates a DashboardCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.DashboardCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisDashboardCache{client: client, ttl: ttl}, nil
}

type redisDashboardCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func dashboardKey(userID uuid.UUID) string {
	return "dashboard:" + userID.String()
}

func (c *redisDashboardCache) Available() bool {
	return true
}

func (c *redisDashboardCache) Get(ctx context.Context, userID uuid.UUID) (*registrystore.DashboardData, error) {
	data, err := c.client.Get(ctx, dashboardKey(userID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cached registrystore.DashboardData
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (c *redisDashboardCache) Set(ctx context.Context, userID uuid.UUID, data registrystore.DashboardData, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, dashboardKey(userID), payload, ttl).Err()
}

func (c *redisDashboardCache) Remove(ctx context.Context, userID uuid.UUID) error {
	return c.client.Del(ctx, dashboardKey(userID)).Err()
}

var _ registrycache.DashboardCache = (*redisDashboardCache)(nil)
