package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/google/uuid"
)

// DashboardCache caches per-user dashboard snapshots. Engagement writes
// invalidate the owner's entry so the next read rebuilds it.
type DashboardCache interface {
	Available() bool
	Get(ctx context.Context, userID uuid.UUID) (*store.DashboardData, error)
	Set(ctx context.Context, userID uuid.UUID, data store.DashboardData, ttl time.Duration) error
	Remove(ctx context.Context, userID uuid.UUID) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (DashboardCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
