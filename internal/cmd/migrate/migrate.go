package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/echoheir/echoheir-service/internal/config"
	registrymigrate "github.com/echoheir/echoheir-service/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/echoheir/echoheir-service/internal/plugin/store/postgres"
	_ "github.com/echoheir/echoheir-service/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("ECHOHEIR_DB_URL"),
				Usage:    "Database connection URL (postgres DSN or sqlite file path)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("ECHOHEIR_DB_KIND"),
				Usage:   "Store backend (postgres|sqlite)",
				Value:   "postgres",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.DatastoreType = cmd.String("db-kind")
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
