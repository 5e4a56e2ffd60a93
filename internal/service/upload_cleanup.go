package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	registryattach "github.com/echoheir/echoheir-service/internal/registry/attach"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
)

// UploadCleanupService removes upload blobs that were stored but never
// attached to a legacy, typically because the legacy create failed after
// the blob was written.
type UploadCleanupService struct {
	store       registrystore.LegacyStore
	uploadStore registryattach.UploadStore
	interval    time.Duration
	minAge      time.Duration
}

func NewUploadCleanupService(store registrystore.LegacyStore, uploadStore registryattach.UploadStore, interval time.Duration) *UploadCleanupService {
	return &UploadCleanupService{
		store:       store,
		uploadStore: uploadStore,
		interval:    interval,
		minAge:      time.Hour,
	}
}

func (s *UploadCleanupService) Start(ctx context.Context) {
	if s == nil || s.store == nil || s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupOnce(ctx)
		}
	}
}

func (s *UploadCleanupService) cleanupOnce(ctx context.Context) {
	for {
		uploads, err := s.store.ListOrphanUploads(ctx, time.Now().Add(-s.minAge), 200)
		if err != nil {
			log.Error("Upload cleanup list failed", "err", err)
			return
		}
		if len(uploads) == 0 {
			return
		}
		for _, upload := range uploads {
			if s.uploadStore != nil && upload.StorageKey != "" {
				if err := s.uploadStore.Delete(ctx, upload.StorageKey); err != nil {
					log.Warn("Upload cleanup blob delete failed", "uploadId", upload.ID.String(), "err", err)
				}
			}
			if err := s.store.HardDeleteUpload(ctx, upload.ID); err != nil {
				log.Error("Upload cleanup delete failed", "uploadId", upload.ID.String(), "err", err)
				return
			}
		}
		if len(uploads) < 200 {
			return
		}
	}
}

// SessionSweeper deletes expired sessions on a fixed interval so the
// sessions table does not grow without bound.
type SessionSweeper struct {
	store    registrystore.LegacyStore
	interval time.Duration
}

func NewSessionSweeper(store registrystore.LegacyStore, interval time.Duration) *SessionSweeper {
	return &SessionSweeper{store: store, interval: interval}
}

func (s *SessionSweeper) Start(ctx context.Context) {
	if s == nil || s.store == nil || s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if deleted, err := s.store.DeleteExpiredSessions(ctx); err != nil {
				log.Error("Session sweep failed", "err", err)
			} else if deleted > 0 {
				log.Debug("Session sweep removed expired sessions", "count", deleted)
			}
		}
	}
}
