package dashboard

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/echoheir/echoheir-service/internal/config"
	registrycache "github.com/echoheir/echoheir-service/internal/registry/cache"
	registryroute "github.com/echoheir/echoheir-service/internal/registry/route"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/echoheir/echoheir-service/internal/security"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 20,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts the dashboard routes. Reads may be served from the
// snapshot cache; the dashboard never mutates streak state.
func MountRoutes(r *gin.Engine, store registrystore.LegacyStore, cfg *config.Config, sessions *security.SessionAuth, cache registrycache.DashboardCache) {
	handler := func(c *gin.Context) {
		getDashboard(c, store, cfg, cache)
	}
	g := r.Group("/api", sessions.Middleware())
	g.GET("/dashboard", handler)
	g.GET("/dashboard/me", handler)
}

func getDashboard(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config, cache registrycache.DashboardCache) {
	userID := security.GetUserID(c)

	if cache != nil && cache.Available() {
		cached, err := cache.Get(c.Request.Context(), userID)
		if err != nil {
			log.Warn("Dashboard cache read failed", "err", err)
		} else if cached != nil {
			security.CacheHitsTotal.Inc()
			c.JSON(http.StatusOK, cached)
			return
		} else {
			security.CacheMissesTotal.Inc()
		}
	}

	data, err := store.GetDashboard(c.Request.Context(), userID)
	if err != nil {
		handleError(c, cfg, err)
		return
	}

	if cache != nil && cache.Available() {
		if err := cache.Set(c.Request.Context(), userID, *data, cfg.DashboardCacheTTL); err != nil {
			log.Warn("Dashboard cache write failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, data)
}

func handleError(c *gin.Context, cfg *config.Config, err error) {
	var notFound *registrystore.NotFoundError

	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
		return
	}
	body := gin.H{"error": "internal server error"}
	if cfg.IsDev() {
		body["detail"] = err.Error()
	}
	c.JSON(http.StatusInternalServerError, body)
}
