package serve

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"github.com/echoheir/echoheir-service/internal/config"
	"github.com/echoheir/echoheir-service/internal/plugin/route/auth"
	"github.com/echoheir/echoheir-service/internal/plugin/route/conversations"
	"github.com/echoheir/echoheir-service/internal/plugin/route/dashboard"
	"github.com/echoheir/echoheir-service/internal/plugin/route/legacies"
	"github.com/echoheir/echoheir-service/internal/plugin/route/memories"
	routesystem "github.com/echoheir/echoheir-service/internal/plugin/route/system"
	storemetrics "github.com/echoheir/echoheir-service/internal/plugin/store/metrics"
	registryattach "github.com/echoheir/echoheir-service/internal/registry/attach"
	registrycache "github.com/echoheir/echoheir-service/internal/registry/cache"
	registrymigrate "github.com/echoheir/echoheir-service/internal/registry/migrate"
	registryroute "github.com/echoheir/echoheir-service/internal/registry/route"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/echoheir/echoheir-service/internal/security"
	"github.com/echoheir/echoheir-service/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.LegacyStore
	Router          *gin.Engine
	Addr            net.Addr
	closeMain       func(context.Context) error
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	if s.closeMain != nil {
		return s.closeMain(ctx)
	}
	return nil
}

// Port returns the port the main listener is bound to.
func (s *Server) Port() int {
	if addr, ok := s.Addr.(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.Config.Listener.Port
}

// StartServer initializes all subsystems and starts the HTTP server.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Port().
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting EchoHeir service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"uploads", cfg.UploadsType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize the dashboard cache. A broken cache backend degrades to
	// uncached reads rather than failing startup.
	var dashboardCache registrycache.DashboardCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if c, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		dashboardCache = c
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/api/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	// Mount main route plugins on the main router.
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Initialize the upload store. "db" resolves to the blob store matching
	// the configured datastore.
	var uploadStore registryattach.UploadStore
	uploadStoreName := cfg.UploadsType
	if uploadStoreName == "db" {
		switch cfg.DatastoreType {
		case "sqlite":
			uploadStoreName = "fs"
		default:
			uploadStoreName = "postgres"
		}
	}
	if uploadStoreName != "" {
		uploadLoader, err := registryattach.Select(uploadStoreName)
		if err != nil {
			log.Warn("Upload store not available, upload routes will refuse requests", "err", err)
		} else {
			uploadStore, err = uploadLoader(ctx)
			if err != nil {
				log.Warn("Failed to initialize upload store, upload routes will refuse requests", "err", err)
			}
		}
	}

	// Create session auth and the optional Google authenticator.
	sessions := security.NewSessionAuth(cfg, store)
	google, err := security.NewGoogleAuthenticator(ctx, cfg)
	if err != nil {
		log.Warn("Google sign-in not available", "err", err)
	}

	// Mount API routes
	auth.MountRoutes(router, store, cfg, sessions, google)
	dashboard.MountRoutes(router, store, cfg, sessions, dashboardCache)
	legacies.MountRoutes(router, store, cfg, sessions, uploadStore, dashboardCache)
	conversations.MountRoutes(router, store, cfg, sessions, dashboardCache)
	memories.MountRoutes(router, store, cfg, sessions, dashboardCache)

	// Start background services
	uploadCleanup := service.NewUploadCleanupService(store, uploadStore, cfg.UploadCleanupInterval)
	go uploadCleanup.Start(ctx)

	sessionSweeper := service.NewSessionSweeper(store, time.Hour)
	go sessionSweeper.Start(ctx)

	// Mount management route plugins. If a dedicated management port is
	// configured, run them on a bare gin engine served by its own listener.
	// Otherwise, mount them on the main router.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		mgmtAddr, closeFn, err := startHTTPServer(cfg.ManagementListener, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
		closeManagement = closeFn
		log.Info("Management server listening", "addr", mgmtAddr)
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
	}

	addr, closeMain, err := startHTTPServer(cfg.Listener, router)
	if err != nil {
		return nil, err
	}
	log.Info("Server listening", "addr", addr)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Router:          router,
		Addr:            addr,
		closeMain:       closeMain,
		closeManagement: closeManagement,
	}, nil
}
