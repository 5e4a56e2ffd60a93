package memories

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/echoheir/echoheir-service/internal/config"
	registrycache "github.com/echoheir/echoheir-service/internal/registry/cache"
	registryroute "github.com/echoheir/echoheir-service/internal/registry/route"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/echoheir/echoheir-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 50,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts the memory union routes.
func MountRoutes(r *gin.Engine, store registrystore.LegacyStore, cfg *config.Config, sessions *security.SessionAuth, cache registrycache.DashboardCache) {
	g := r.Group("/api", sessions.Middleware())

	g.GET("/memories", func(c *gin.Context) {
		listMemories(c, store, cfg)
	})
	g.POST("/memories", func(c *gin.Context) {
		createNote(c, store, cfg, cache)
	})
	g.PUT("/memories/:memoryId", func(c *gin.Context) {
		updateMemory(c, store, cfg, cache)
	})
	g.DELETE("/memories/:memoryId", func(c *gin.Context) {
		deleteMemory(c, store, cfg, cache)
	})
}

func listMemories(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config) {
	kind, err := registrystore.ParseMemoryKind(c.Query("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": "kind"})
		return
	}
	query := registrystore.MemoryQuery{
		Kind:    kind,
		Emotion: c.Query("emotion"),
		Search:  c.Query("q"),
		Offset:  queryInt(c, "offset", 0),
		Limit:   queryInt(c, "limit", 0),
	}
	if raw := c.Query("legacyId"); raw != "" {
		legacyID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid legacy id", "field": "legacyId"})
			return
		}
		query.LegacyID = &legacyID
	}

	page, err := store.ListMemories(c.Request.Context(), security.GetUserID(c), query)
	if err != nil {
		handleError(c, cfg, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func createNote(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config, cache registrycache.DashboardCache) {
	userID := security.GetUserID(c)
	var req struct {
		LegacyID string   `json:"legacyId"`
		Title    string   `json:"title"`
		Content  string   `json:"content"`
		Tags     []string `json:"tags"`
		Emotion  string   `json:"emotion"`
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

	item, err := store.CreateNote(c.Request.Context(), userID, registrystore.CreateNoteRequest{
		LegacyID: legacyID,
		Title:    req.Title,
		Content:  req.Content,
		Tags:     req.Tags,
		Emotion:  req.Emotion,
	})
	if err != nil {
		handleError(c, cfg, err)
		return
	}
	invalidateDashboard(c, cache, userID)
	c.JSON(http.StatusCreated, item)
}

func updateMemory(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config, cache registrycache.DashboardCache) {
	userID := security.GetUserID(c)
	memoryID, err := uuid.Parse(c.Param("memoryId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid memory id"})
		return
	}
	var req struct {
		Title   *string  `json:"title"`
		Content *string  `json:"content"`
		Tags    []string `json:"tags"`
		Emotion *string  `json:"emotion"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := store.UpdateMemory(c.Request.Context(), userID, memoryID, registrystore.UpdateMemoryRequest{
		Title:   req.Title,
		Content: req.Content,
		Tags:    req.Tags,
		Emotion: req.Emotion,
	})
	if err != nil {
		handleError(c, cfg, err)
		return
	}
	invalidateDashboard(c, cache, userID)
	c.JSON(http.StatusOK, item)
}

func deleteMemory(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config, cache registrycache.DashboardCache) {
	userID := security.GetUserID(c)
	memoryID, err := uuid.Parse(c.Param("memoryId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid memory id"})
		return
	}
	if err := store.DeleteMemory(c.Request.Context(), userID, memoryID); err != nil {
		handleError(c, cfg, err)
		return
	}
	invalidateDashboard(c, cache, userID)
	c.Status(http.StatusNoContent)
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
