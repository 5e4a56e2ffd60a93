package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/echoheir/echoheir-service/internal/model"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *Store) CreateLegacy(ctx context.Context, userID uuid.UUID, req registrystore.CreateLegacyRequest) (*model.Legacy, error) {
	if req.Name == "" {
		return nil, &registrystore.ValidationError{Field: "name", Message: "name is required"}
	}
	if req.Relationship == "" {
		return nil, &registrystore.ValidationError{Field: "relationship", Message: "relationship is required"}
	}
	if !model.ValidRelationship(req.Relationship) {
		return nil, &registrystore.ValidationError{Field: "relationship", Message: "unknown relationship"}
	}

	now := time.Now()
	legacy := model.Legacy{
		ID:                uuid.New(),
		UserID:            userID,
		Name:              req.Name,
		Relationship:      req.Relationship,
		Bio:               req.Bio,
		PhotoURL:          req.PhotoURL,
		PersonalityTraits: req.PersonalityTraits,
		Status:            model.LegacyStatusActive,
		CreatedAt:         now,
	}
	if req.PhotoKey != "" {
		legacy.PhotoKey = &req.PhotoKey
	}
	if req.PhotoUpload != nil {
		legacy.PhotoCount = 1
		legacy.TotalMemories = 1
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&legacy).Error; err != nil {
			return err
		}
		if req.PhotoUpload != nil {
			if err := linkUpload(tx, req.PhotoUpload, legacy.ID); err != nil {
				return err
			}
		}
		activity := model.Activity{
			ID:        uuid.New(),
			UserID:    userID,
			Type:      model.ActivityLegacyCreated,
			Message:   fmt.Sprintf("Created a legacy for %s", legacy.Name),
			LegacyID:  &legacy.ID,
			CreatedAt: now,
		}
		if err := tx.Create(&activity).Error; err != nil {
			return err
		}
		return s.touchStreak(tx, userID, now)
	})
	if err != nil {
		return nil, err
	}
	return &legacy, nil
}

// linkUpload attaches an upload row to a legacy. The row may already exist
// when the route recorded it ahead of the link; otherwise it is created here.
func linkUpload(tx *gorm.DB, upload *model.Upload, legacyID uuid.UUID) error {
	upload.LegacyID = &legacyID
	res := tx.Model(&model.Upload{}).Where("id = ?", upload.ID).Update("legacy_id", legacyID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tx.Create(upload).Error
	}
	return nil
}

func (s *Store) ListLegacies(ctx context.Context, userID uuid.UUID) ([]registrystore.LegacySummary, error) {
	var legacies []model.Legacy
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&legacies).Error
	if err != nil {
		return nil, err
	}
	summaries := make([]registrystore.LegacySummary, len(legacies))
	for i, l := range legacies {
		summaries[i] = summarizeLegacy(l)
	}
	return summaries, nil
}

// summarizeLegacy trims a legacy row to its list shape; personality traits
// stay out of list responses.
func summarizeLegacy(l model.Legacy) registrystore.LegacySummary {
	return registrystore.LegacySummary{
		ID:            l.ID,
		Name:          l.Name,
		Relationship:  l.Relationship,
		Bio:           l.Bio,
		PhotoURL:      l.PhotoURL,
		TotalMemories: l.TotalMemories,
		VoiceTraining: l.VoiceTraining,
		PhotoCount:    l.PhotoCount,
		AudioCount:    l.AudioCount,
		TextCount:     l.TextCount,
		Status:        l.Status,
		LastActiveAt:  l.LastActiveAt,
		RecentMessage: l.RecentMessage,
		CreatedAt:     l.CreatedAt,
	}
}

func (s *Store) GetLegacy(ctx context.Context, userID uuid.UUID, legacyID uuid.UUID) (*model.Legacy, error) {
	return getLegacy(s.db.WithContext(ctx), userID, legacyID)
}

func getLegacy(tx *gorm.DB, userID uuid.UUID, legacyID uuid.UUID) (*model.Legacy, error) {
	var legacy model.Legacy
	err := tx.First(&legacy, "id = ? AND user_id = ?", legacyID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "legacy", ID: legacyID.String()}
	}
	if err != nil {
		return nil, err
	}
	return &legacy, nil
}

func (s *Store) RecordVoiceTraining(ctx context.Context, userID uuid.UUID, legacyID uuid.UUID, req registrystore.VoiceTrainingRequest) (*model.Legacy, error) {
	if req.AudioUpload == nil {
		return nil, &registrystore.ValidationError{Field: "audio", Message: "an audio recording is required"}
	}

	now := time.Now()
	var legacy *model.Legacy
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		legacy, err = getLegacy(tx, userID, legacyID)
		if err != nil {
			return err
		}

		if err := linkUpload(tx, req.AudioUpload, legacy.ID); err != nil {
			return err
		}

		err = tx.Model(&model.Legacy{}).Where("id = ?", legacy.ID).Updates(map[string]any{
			"voice_training": gorm.Expr("voice_training + 1"),
			"audio_count":    gorm.Expr("audio_count + 1"),
			"total_memories": gorm.Expr("total_memories + 1"),
		}).Error
		if err != nil {
			return err
		}

		activity := model.Activity{
			ID:        uuid.New(),
			UserID:    userID,
			Type:      model.ActivityVoiceTrainingComplete,
			Message:   fmt.Sprintf("Completed a voice training session for %s", legacy.Name),
			LegacyID:  &legacy.ID,
			CreatedAt: now,
		}
		if err := tx.Create(&activity).Error; err != nil {
			return err
		}
		if err := s.touchStreak(tx, userID, now); err != nil {
			return err
		}
		return tx.First(legacy, "id = ?", legacy.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return legacy, nil
}
