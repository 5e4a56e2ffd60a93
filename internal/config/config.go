package config

import (
	"context"
	"os"
	"strings"
	"time"
)

// ListenerConfig holds the network settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd = "prod"
	// ModeDev relaxes cookie security and exposes underlying error strings in 500 responses.
	ModeDev = "dev"
	// ModeTesting additionally accepts the X-User-ID identity fixture header.
	// Never the default; it exists only for handler tests.
	ModeTesting = "testing"
)

// Config holds all configuration for the EchoHeir service.
type Config struct {
	// Mode controls security behavior: "prod" (default), "dev", or "testing".
	Mode string

	// Database
	DBURL string

	// Datastore backend type: "postgres" or "sqlite".
	DatastoreType string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Cache backend type: "redis", "memory", or "none".
	CacheType string

	// Redis connection URL for the redis cache backend.
	RedisURL string

	// Dashboard snapshot TTL.
	DashboardCacheTTL time.Duration

	// Upload store type: "fs", "db", "s3", or "mongo".
	UploadsType string

	// Local directory for the fs upload store.
	UploadDir string

	// Upload behavior.
	UploadMaxSize         int64
	UploadCleanupInterval time.Duration

	// When true, upload downloads redirect to a store-signed URL instead of
	// proxying the bytes. Stores without signing fall back to streaming.
	UploadsDirectDownload      bool
	UploadDownloadURLExpiresIn time.Duration

	// MongoDB connection URL for the mongo upload store.
	MongoURL string

	// S3
	S3Bucket       string
	S3Prefix       string
	S3UsePathStyle bool

	// Sessions
	SessionTTL        time.Duration
	SessionCookieName string

	// Google OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// FrontendURL is where OAuth callbacks redirect after establishing a session.
	FrontendURL string

	// Streak day boundaries are computed in this IANA time zone. Empty means UTC.
	StreakTimeZone string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly provided.
	// When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for /api/health, /ready and /metrics.
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Body size limit (bytes) for non-multipart requests.
	MaxBodySize int64

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Temporary file directory. Empty uses the platform default.
	TempDir string

	// Graceful shutdown drain timeout (seconds).
	DrainTimeout int

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                       ModeProd,
		DatastoreType:              "postgres",
		DatastoreMigrateAtStart:    true,
		CacheType:                  "none",
		DashboardCacheTTL:          30 * time.Second,
		UploadsType:                "fs",
		UploadDir:                  "uploads",
		UploadMaxSize:              5 * 1024 * 1024, // 5 MB
		UploadCleanupInterval:      10 * time.Minute,
		UploadsDirectDownload:      true,
		UploadDownloadURLExpiresIn: 15 * time.Minute,
		SessionTTL:                 7 * 24 * time.Hour,
		SessionCookieName:          "echoheir_session",
		FrontendURL:                "http://localhost:3000",
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:    1024 * 1024,
		DrainTimeout:   30,
		DBMaxOpenConns: 25,
		DBMaxIdleConns: 5,
	}
}

// IsDev returns true when underlying error details may be exposed to clients.
func (c *Config) IsDev() bool {
	return c != nil && (c.Mode == ModeDev || c.Mode == ModeTesting)
}

// ResolvedTempDir returns the configured temp directory or the platform default.
func (c *Config) ResolvedTempDir() string {
	if c == nil {
		return os.TempDir()
	}
	if dir := strings.TrimSpace(c.TempDir); dir != "" {
		return dir
	}
	return os.TempDir()
}

// StreakLocation resolves the configured streak time zone, falling back to UTC.
func (c *Config) StreakLocation() *time.Location {
	if c == nil || strings.TrimSpace(c.StreakTimeZone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.StreakTimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
