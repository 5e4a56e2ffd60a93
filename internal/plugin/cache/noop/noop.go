package noop

import (
	"context"
	"time"

	"github.com/echoheir/echoheir-service/internal/registry/cache"
	"github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/google/uuid"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.DashboardCache, error) {
			return &noopDashboardCache{}, nil
		},
	})
}

type noopDashboardCache struct{}

func (n *noopDashboardCache) Available() bool { return false }
func (n *noopDashboardCache) Get(_ context.Context, _ uuid.UUID) (*store.DashboardData, error) {
	return nil, nil
}
func (n *noopDashboardCache) Set(_ context.Context, _ uuid.UUID, _ store.DashboardData, _ time.Duration) error {
	return nil
}
func (n *noopDashboardCache) Remove(_ context.Context, _ uuid.UUID) error { return nil }

var _ cache.DashboardCache = (*noopDashboardCache)(nil)
