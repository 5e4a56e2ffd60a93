package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/echoheir/echoheir-service/internal/config"
	registryattach "github.com/echoheir/echoheir-service/internal/registry/attach"
	registrycache "github.com/echoheir/echoheir-service/internal/registry/cache"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/echoheir/echoheir-service/internal/plugin/attach/fsstore"
	_ "github.com/echoheir/echoheir-service/internal/plugin/attach/mongostore"
	_ "github.com/echoheir/echoheir-service/internal/plugin/attach/pgstore"
	_ "github.com/echoheir/echoheir-service/internal/plugin/attach/s3store"
	_ "github.com/echoheir/echoheir-service/internal/plugin/cache/memory"
	_ "github.com/echoheir/echoheir-service/internal/plugin/cache/noop"
	_ "github.com/echoheir/echoheir-service/internal/plugin/cache/redis"
	_ "github.com/echoheir/echoheir-service/internal/plugin/route/system"
	_ "github.com/echoheir/echoheir-service/internal/plugin/store/postgres"
	_ "github.com/echoheir/echoheir-service/internal/plugin/store/sqlite"
)

type durationFlags struct {
	readHeaderTimeoutSecs int
	sessionTTLHours       int
	dashboardCacheSecs    int
	uploadCleanupMinutes  int
	uploadMaxSizeBytes    int
	maxBodySizeBytes      int
}

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	durs := durationFlags{
		readHeaderTimeoutSecs: 5,
		sessionTTLHours:       int(cfg.SessionTTL / time.Hour),
		dashboardCacheSecs:    int(cfg.DashboardCacheTTL / time.Second),
		uploadCleanupMinutes:  int(cfg.UploadCleanupInterval / time.Minute),
		uploadMaxSizeBytes:    int(cfg.UploadMaxSize),
		maxBodySizeBytes:      int(cfg.MaxBodySize),
	}
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the EchoHeir HTTP server",
		Flags: flags(&cfg, &durs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(durs.readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			cfg.SessionTTL = time.Duration(durs.sessionTTLHours) * time.Hour
			cfg.DashboardCacheTTL = time.Duration(durs.dashboardCacheSecs) * time.Second
			cfg.UploadCleanupInterval = time.Duration(durs.uploadCleanupMinutes) * time.Minute
			cfg.UploadMaxSize = int64(durs.uploadMaxSizeBytes)
			cfg.MaxBodySize = int64(durs.maxBodySizeBytes)
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, durs *durationFlags) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("ECHOHEIR_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Runtime mode (prod|dev|testing)",
		},
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("ECHOHEIR_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Server:",
			Sources:     cli.EnvVars("ECHOHEIR_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("ECHOHEIR_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("ECHOHEIR_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: &durs.readHeaderTimeoutSecs,
			Value:       durs.readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.StringFlag{
			Name:        "temp-dir",
			Category:    "Server:",
			Sources:     cli.EnvVars("ECHOHEIR_TEMP_DIR"),
			Destination: &cfg.TempDir,
			Usage:       "Directory for temporary files; defaults to OS temp directory",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("ECHOHEIR_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("ECHOHEIR_MAX_BODY_SIZE"),
			Destination: &durs.maxBodySizeBytes,
			Value:       durs.maxBodySizeBytes,
			Usage:       "Maximum request body size in bytes for non-upload requests",
		},
		&cli.BoolFlag{
			Name:        "cors",
			Category:    "Server:",
			Sources:     cli.EnvVars("ECHOHEIR_CORS"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS handling",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("ECHOHEIR_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed CORS origins; empty allows any",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("ECHOHEIR_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("ECHOHEIR_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL (postgres DSN or sqlite file path)",
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("ECHOHEIR_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run datastore migrations on startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("ECHOHEIR_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("ECHOHEIR_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("ECHOHEIR_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Dashboard cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("ECHOHEIR_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.IntFlag{
			Name:        "dashboard-cache-ttl-seconds",
			Category:    "Cache:",
			Sources:     cli.EnvVars("ECHOHEIR_DASHBOARD_CACHE_TTL_SECONDS"),
			Destination: &durs.dashboardCacheSecs,
			Value:       durs.dashboardCacheSecs,
			Usage:       "Dashboard snapshot TTL in seconds",
		},

		// ── Upload Storage ────────────────────────────────────────
		&cli.StringFlag{
			Name:        "uploads-kind",
			Category:    "Upload Storage:",
			Sources:     cli.EnvVars("ECHOHEIR_UPLOADS_KIND"),
			Destination: &cfg.UploadsType,
			Value:       cfg.UploadsType,
			Usage:       "Upload blob store (db|" + strings.Join(registryattach.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "uploads-dir",
			Category:    "Upload Storage:",
			Sources:     cli.EnvVars("ECHOHEIR_UPLOADS_DIR"),
			Destination: &cfg.UploadDir,
			Value:       cfg.UploadDir,
			Usage:       "Local directory for the fs upload store",
		},
		&cli.IntFlag{
			Name:        "uploads-max-size",
			Category:    "Upload Storage:",
			Sources:     cli.EnvVars("ECHOHEIR_UPLOADS_MAX_SIZE"),
			Destination: &durs.uploadMaxSizeBytes,
			Value:       durs.uploadMaxSizeBytes,
			Usage:       "Maximum upload size in bytes",
		},
		&cli.IntFlag{
			Name:        "uploads-cleanup-interval-minutes",
			Category:    "Upload Storage:",
			Sources:     cli.EnvVars("ECHOHEIR_UPLOADS_CLEANUP_INTERVAL_MINUTES"),
			Destination: &durs.uploadCleanupMinutes,
			Value:       durs.uploadCleanupMinutes,
			Usage:       "Orphan upload cleanup interval in minutes (0 disables cleanup)",
		},
		&cli.BoolFlag{
			Name:        "uploads-direct-download",
			Category:    "Upload Storage:",
			Sources:     cli.EnvVars("ECHOHEIR_UPLOADS_DIRECT_DOWNLOAD"),
			Destination: &cfg.UploadsDirectDownload,
			Value:       cfg.UploadsDirectDownload,
			Usage:       "Redirect downloads to store-signed URLs when the blob store supports them",
		},
		&cli.StringFlag{
			Name:        "mongo-url",
			Category:    "Upload Storage:",
			Sources:     cli.EnvVars("ECHOHEIR_MONGO_URL"),
			Destination: &cfg.MongoURL,
			Usage:       "MongoDB connection URL for the mongo upload store",
		},
		&cli.StringFlag{
			Name:        "uploads-s3-bucket",
			Category:    "Upload Storage:",
			Sources:     cli.EnvVars("ECHOHEIR_UPLOADS_S3_BUCKET"),
			Destination: &cfg.S3Bucket,
			Usage:       "S3 bucket for uploads",
		},
		&cli.StringFlag{
			Name:        "uploads-s3-prefix",
			Category:    "Upload Storage:",
			Sources:     cli.EnvVars("ECHOHEIR_UPLOADS_S3_PREFIX"),
			Destination: &cfg.S3Prefix,
			Usage:       "Key prefix for S3 upload objects",
		},
		&cli.BoolFlag{
			Name:        "uploads-s3-use-path-style",
			Category:    "Upload Storage:",
			Sources:     cli.EnvVars("ECHOHEIR_UPLOADS_S3_USE_PATH_STYLE"),
			Destination: &cfg.S3UsePathStyle,
			Usage:       "Use path-style S3 addressing (required for LocalStack/MinIO)",
		},

		// ── Authentication ────────────────────────────────────────
		&cli.IntFlag{
			Name:        "session-ttl-hours",
			Category:    "Authentication:",
			Sources:     cli.EnvVars("ECHOHEIR_SESSION_TTL_HOURS"),
			Destination: &durs.sessionTTLHours,
			Value:       durs.sessionTTLHours,
			Usage:       "Session lifetime in hours",
		},
		&cli.StringFlag{
			Name:        "session-cookie-name",
			Category:    "Authentication:",
			Sources:     cli.EnvVars("ECHOHEIR_SESSION_COOKIE_NAME"),
			Destination: &cfg.SessionCookieName,
			Value:       cfg.SessionCookieName,
			Usage:       "Name of the session cookie",
		},
		&cli.StringFlag{
			Name:        "google-client-id",
			Category:    "Authentication:",
			Sources:     cli.EnvVars("ECHOHEIR_GOOGLE_CLIENT_ID"),
			Destination: &cfg.GoogleClientID,
			Usage:       "Google OAuth client ID (enables Google sign-in)",
		},
		&cli.StringFlag{
			Name:        "google-client-secret",
			Category:    "Authentication:",
			Sources:     cli.EnvVars("ECHOHEIR_GOOGLE_CLIENT_SECRET"),
			Destination: &cfg.GoogleClientSecret,
			Usage:       "Google OAuth client secret",
		},
		&cli.StringFlag{
			Name:        "google-redirect-url",
			Category:    "Authentication:",
			Sources:     cli.EnvVars("ECHOHEIR_GOOGLE_REDIRECT_URL"),
			Destination: &cfg.GoogleRedirectURL,
			Usage:       "OAuth callback URL registered with Google",
		},
		&cli.StringFlag{
			Name:        "frontend-url",
			Category:    "Authentication:",
			Sources:     cli.EnvVars("ECHOHEIR_FRONTEND_URL"),
			Destination: &cfg.FrontendURL,
			Value:       cfg.FrontendURL,
			Usage:       "Frontend base URL for OAuth redirects",
		},

		// ── Engagement ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "streak-time-zone",
			Category:    "Engagement:",
			Sources:     cli.EnvVars("ECHOHEIR_STREAK_TIME_ZONE"),
			Destination: &cfg.StreakTimeZone,
			Usage:       "IANA time zone for streak day boundaries; empty uses UTC",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("ECHOHEIR_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=echoheir-service",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isUploadRequest(c.Request) {
			c.Next()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}

// isUploadRequest reports whether the request carries a multipart upload
// (legacy photo or voice sample). Those are size-limited per file instead.
func isUploadRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	if req.Method != http.MethodPost || !strings.HasPrefix(req.URL.Path, "/api/legacy") {
		return false
	}
	contentType := strings.ToLower(strings.TrimSpace(req.Header.Get("Content-Type")))
	return strings.HasPrefix(contentType, "multipart/form-data")
}
