package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/echoheir/echoheir-service/internal/model"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecordUpload persists an upload row as soon as the blob is stored, before
// it is linked to a legacy. Unlinked rows get reaped by the cleanup service.
func (s *Store) RecordUpload(ctx context.Context, upload *model.Upload) error {
	if upload.CreatedAt.IsZero() {
		upload.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(upload).Error
}

func (s *Store) GetUpload(ctx context.Context, userID uuid.UUID, uploadID uuid.UUID) (*model.Upload, error) {
	var upload model.Upload
	err := s.db.WithContext(ctx).
		First(&upload, "id = ? AND user_id = ? AND deleted_at IS NULL", uploadID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "upload", ID: uploadID.String()}
	}
	if err != nil {
		return nil, err
	}
	return &upload, nil
}

// ListOrphanUploads returns uploads older than the cutoff that were never
// linked to a legacy, or whose legacy no longer exists, for the cleanup
// service to reap.
func (s *Store) ListOrphanUploads(ctx context.Context, olderThan time.Time, limit int) ([]model.Upload, error) {
	if limit <= 0 {
		limit = 100
	}
	var uploads []model.Upload
	err := s.db.WithContext(ctx).
		Where("created_at < ? AND deleted_at IS NULL", olderThan).
		Where("legacy_id IS NULL OR legacy_id NOT IN (?)",
			s.db.Model(&model.Legacy{}).Select("id")).
		Limit(limit).
		Find(&uploads).Error
	if err != nil {
		return nil, err
	}
	return uploads, nil
}

// HardDeleteUpload removes the upload row after its blob has been deleted.
func (s *Store) HardDeleteUpload(ctx context.Context, uploadID uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&model.Upload{}, "id = ?", uploadID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "upload", ID: uploadID.String()}
	}
	return nil
}
