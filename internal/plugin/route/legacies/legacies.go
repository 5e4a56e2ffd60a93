package legacies

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/echoheir/echoheir-service/internal/config"
	"github.com/echoheir/echoheir-service/internal/model"
	registryattach "github.com/echoheir/echoheir-service/internal/registry/attach"
	registrycache "github.com/echoheir/echoheir-service/internal/registry/cache"
	registryroute "github.com/echoheir/echoheir-service/internal/registry/route"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/echoheir/echoheir-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 30,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts the legacy and upload routes.
func MountRoutes(r *gin.Engine, store registrystore.LegacyStore, cfg *config.Config, sessions *security.SessionAuth, uploads registryattach.UploadStore, cache registrycache.DashboardCache) {
	g := r.Group("/api", sessions.Middleware())

	g.POST("/legacy", func(c *gin.Context) {
		createLegacy(c, store, cfg, uploads, cache)
	})
	g.GET("/legacy", func(c *gin.Context) {
		listLegacies(c, store, cfg)
	})
	g.GET("/legacy/:legacyId", func(c *gin.Context) {
		getLegacy(c, store, cfg)
	})
	g.POST("/legacy/:legacyId/voice", func(c *gin.Context) {
		recordVoiceTraining(c, store, cfg, uploads, cache)
	})
	g.GET("/uploads/:uploadId", func(c *gin.Context) {
		streamUpload(c, store, cfg, uploads)
	})
}

func createLegacy(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config, uploads registryattach.UploadStore, cache registrycache.DashboardCache) {
	userID := security.GetUserID(c)

	// Validate the text fields before touching blob storage so a rejected
	// request persists nothing.
	name := strings.TrimSpace(c.PostForm("name"))
	relationship := c.PostForm("relationship")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "name is required", "field": "name"})
		return
	}
	if relationship == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "relationship is required", "field": "relationship"})
		return
	}

	var traits map[string]interface{}
	if raw := c.PostForm("personalityTraits"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &traits); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "personalityTraits must be a JSON object", "field": "personalityTraits"})
			return
		}
	}

	req := registrystore.CreateLegacyRequest{
		Name:              name,
		Relationship:      model.Relationship(relationship),
		Bio:               c.PostForm("bio"),
		PersonalityTraits: traits,
	}

	if file, err := c.FormFile("photo"); err == nil {
		if !requireUploads(c, uploads) {
			return
		}
		upload, uerr := storeUpload(c, store, cfg, uploads, file, userID, model.UploadKindPhoto, "image/")
		if uerr != nil {
			handleError(c, cfg, uerr)
			return
		}
		req.PhotoUpload = upload
		req.PhotoKey = upload.StorageKey
		req.PhotoURL = "/api/uploads/" + upload.ID.String()
	}

	legacy, err := store.CreateLegacy(c.Request.Context(), userID, req)
	if err != nil {
		// The blob was written before the link; don't leak it.
		if req.PhotoUpload != nil {
			discardUpload(c, store, uploads, req.PhotoUpload)
		}
		handleError(c, cfg, err)
		return
	}
	invalidateDashboard(c, cache, userID)
	c.JSON(http.StatusCreated, legacy)
}

func listLegacies(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config) {
	legacies, err := store.ListLegacies(c.Request.Context(), security.GetUserID(c))
	if err != nil {
		handleError(c, cfg, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": legacies})
}

func getLegacy(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config) {
	legacyID, err := uuid.Parse(c.Param("legacyId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid legacy id"})
		return
	}
	legacy, err := store.GetLegacy(c.Request.Context(), security.GetUserID(c), legacyID)
	if err != nil {
		handleError(c, cfg, err)
		return
	}
	c.JSON(http.StatusOK, legacy)
}

func recordVoiceTraining(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config, uploads registryattach.UploadStore, cache registrycache.DashboardCache) {
	userID := security.GetUserID(c)
	legacyID, err := uuid.Parse(c.Param("legacyId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid legacy id"})
		return
	}

	file, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "an audio recording is required", "field": "audio"})
		return
	}
	if !requireUploads(c, uploads) {
		return
	}
	// Ownership check before the blob write.
	if _, err := store.GetLegacy(c.Request.Context(), userID, legacyID); err != nil {
		handleError(c, cfg, err)
		return
	}

	upload, err := storeUpload(c, store, cfg, uploads, file, userID, model.UploadKindAudio, "audio/")
	if err != nil {
		handleError(c, cfg, err)
		return
	}

	legacy, err := store.RecordVoiceTraining(c.Request.Context(), userID, legacyID, registrystore.VoiceTrainingRequest{
		AudioUpload: upload,
	})
	if err != nil {
		discardUpload(c, store, uploads, upload)
		handleError(c, cfg, err)
		return
	}
	invalidateDashboard(c, cache, userID)
	c.JSON(http.StatusCreated, legacy)
}

func streamUpload(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config, uploads registryattach.UploadStore) {
	uploadID, err := uuid.Parse(c.Param("uploadId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid upload id"})
		return
	}
	if !requireUploads(c, uploads) {
		return
	}
	upload, err := store.GetUpload(c.Request.Context(), security.GetUserID(c), uploadID)
	if err != nil {
		handleError(c, cfg, err)
		return
	}
	if cfg.UploadsDirectDownload {
		if signed, serr := uploads.GetSignedURL(c.Request.Context(), upload.StorageKey, cfg.UploadDownloadURLExpiresIn); serr == nil {
			c.Redirect(http.StatusFound, signed.String())
			return
		}
	}
	reader, err := uploads.Retrieve(c.Request.Context(), upload.StorageKey)
	if err != nil {
		handleError(c, cfg, err)
		return
	}
	defer reader.Close()
	c.DataFromReader(http.StatusOK, upload.Size, upload.ContentType, reader, map[string]string{
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", upload.Filename),
	})
}

// requireUploads rejects the request when no blob store was configured at
// startup, instead of letting a nil store panic mid-handler.
func requireUploads(c *gin.Context, uploads registryattach.UploadStore) bool {
	if uploads == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upload storage is unavailable"})
		return false
	}
	return true
}

// storeUpload enforces the MIME allow-list and size cap, writes the blob, and
// records the upload row. The row is linked to a legacy by the subsequent
// store call; unlinked rows get reaped by the cleanup service.
func storeUpload(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config, uploads registryattach.UploadStore, file *multipart.FileHeader, userID uuid.UUID, kind model.UploadKind, allowPrefix string) (*model.Upload, error) {
	contentType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, allowPrefix) {
		return nil, &registrystore.ValidationError{
			Field:   string(kind),
			Message: fmt.Sprintf("content type %q is not allowed; expected %s*", contentType, allowPrefix),
		}
	}
	if file.Size > cfg.UploadMaxSize {
		return nil, &registrystore.ValidationError{
			Field:   string(kind),
			Message: fmt.Sprintf("file exceeds maximum size of %d bytes", cfg.UploadMaxSize),
		}
	}

	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	nameHint := string(kind) + filepath.Ext(file.Filename)
	result, err := uploads.Store(c.Request.Context(), src, cfg.UploadMaxSize, contentType, nameHint)
	if err != nil {
		return nil, err
	}
	if security.UploadsStoredTotal != nil {
		security.UploadsStoredTotal.WithLabelValues(string(kind)).Inc()
	}

	upload := &model.Upload{
		ID:          uuid.New(),
		UserID:      userID,
		Kind:        kind,
		StorageKey:  result.StorageKey,
		Filename:    file.Filename,
		ContentType: contentType,
		Size:        result.Size,
		SHA256:      result.SHA256,
		CreatedAt:   time.Now(),
	}
	if err := store.RecordUpload(c.Request.Context(), upload); err != nil {
		if derr := uploads.Delete(c.Request.Context(), upload.StorageKey); derr != nil {
			log.Error("Failed to remove unrecorded blob", "key", upload.StorageKey, "err", derr)
		}
		return nil, err
	}
	return upload, nil
}

// discardUpload removes a blob and its row after the linking store call failed.
func discardUpload(c *gin.Context, store registrystore.LegacyStore, uploads registryattach.UploadStore, upload *model.Upload) {
	if err := uploads.Delete(c.Request.Context(), upload.StorageKey); err != nil {
		log.Error("Failed to remove orphaned blob", "key", upload.StorageKey, "err", err)
	}
	if err := store.HardDeleteUpload(c.Request.Context(), upload.ID); err != nil {
		log.Warn("Failed to remove orphaned upload row", "uploadId", upload.ID.String(), "err", err)
	}
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
	var conflict *registrystore.ConflictError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		body := gin.H{"error": "internal server error"}
		if cfg.IsDev() {
			body["detail"] = err.Error()
		}
		c.JSON(http.StatusInternalServerError, body)
	}
}
