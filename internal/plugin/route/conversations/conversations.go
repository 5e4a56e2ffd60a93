package conversations

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/echoheir/echoheir-service/internal/config"
	"github.com/echoheir/echoheir-service/internal/model"
	registrycache "github.com/echoheir/echoheir-service/internal/registry/cache"
	registryroute "github.com/echoheir/echoheir-service/internal/registry/route"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/echoheir/echoheir-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 40,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts the conversation routes.
func MountRoutes(r *gin.Engine, store registrystore.LegacyStore, cfg *config.Config, sessions *security.SessionAuth, cache registrycache.DashboardCache) {
	g := r.Group("/api", sessions.Middleware())

	g.POST("/conversation", func(c *gin.Context) {
		createConversation(c, store, cfg, cache)
	})
	g.GET("/conversation", func(c *gin.Context) {
		listConversations(c, store, cfg)
	})
}

func createConversation(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config, cache registrycache.DashboardCache) {
	userID := security.GetUserID(c)
	var req struct {
		LegacyID      string `json:"legacyId"`
		Message       string `json:"message"`
		EmotionalTone string `json:"emotionalTone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	legacyID, err := uuid.Parse(req.LegacyID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid legacy id", "field": "legacyId"})
		return
	}

	exchange, err := store.CreateConversation(c.Request.Context(), userID, registrystore.CreateConversationRequest{
		LegacyID:      legacyID,
		Message:       req.Message,
		EmotionalTone: model.EmotionalTone(req.EmotionalTone),
	})
	if err != nil {
		handleError(c, cfg, err)
		return
	}
	invalidateDashboard(c, cache, userID)
	c.JSON(http.StatusCreated, exchange)
}

func listConversations(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config) {
	query := registrystore.ConversationQuery{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if raw := c.Query("legacyId"); raw != "" {
		legacyID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid legacy id", "field": "legacyId"})
			return
		}
		query.LegacyID = &legacyID
	}

	conversations, err := store.ListConversations(c.Request.Context(), security.GetUserID(c), query)
	if err != nil {
		handleError(c, cfg, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": conversations})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func invalidateDashboard(c *gin.Context, cache registrycache.DashboardCache, userID uuid.UUID) {
	if cache == nil || !cache.Available() {
		return
	}
	if err := cache.Remove(c.Request.Context(), userID); err != nil {
		log.Warn("Dashboard cache invalidation failed", "err", err)
	}
}

func handleError(c *gin.Context, cfg *config.Config, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	default:
		body := gin.H{"error": "internal server error"}
		if cfg.IsDev() {
			body["detail"] = err.Error()
		}
		c.JSON(http.StatusInternalServerError, body)
	}
}
