// Package migrate holds the registry of schema migrators. Store plugins
// register one from init(); the serve and migrate commands run them all.
package migrate

import (
	"context"
	"fmt"
	"sort"
)

// Migrator runs schema migrations for one backend.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin pairs a migrator with an order so execution is deterministic.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// RunAll executes every registered migrator in Order. The first failure
// aborts the run.
func RunAll(ctx context.Context) error {
	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for _, p := range sorted {
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
