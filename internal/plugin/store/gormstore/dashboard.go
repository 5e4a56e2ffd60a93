package gormstore

import (
	"context"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/echoheir/echoheir-service/internal/model"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/google/uuid"
)

const (
	dashboardRecentConversations = 5
	dashboardRecentActivities    = 10
)

// GetDashboard builds the per-user aggregate view. Read-only: streak state is
// never mutated here, only reported.
func (s *Store) GetDashboard(ctx context.Context, userID uuid.UUID) (*registrystore.DashboardData, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	legacies, err := s.ListLegacies(ctx, userID)
	if err != nil {
		return nil, err
	}
	nameByID := make(map[uuid.UUID]string, len(legacies))
	for _, l := range legacies {
		nameByID[l.ID] = l.Name
	}

	var conversations []model.Conversation
	err = s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(dashboardRecentConversations).
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}
	recent := make([]registrystore.RecentConversation, len(conversations))
	for i, conv := range conversations {
		recent[i] = registrystore.RecentConversation{
			ID:            conv.ID,
			LegacyID:      conv.LegacyID,
			LegacyName:    nameByID[conv.LegacyID],
			Message:       conv.Message,
			MessageType:   conv.MessageType,
			EmotionalTone: conv.EmotionalTone,
			TimeAgo:       humanize.Time(conv.CreatedAt),
			CreatedAt:     conv.CreatedAt,
		}
	}

	activities := []model.Activity{}
	err = s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(dashboardRecentActivities).
		Find(&activities).Error
	if err != nil {
		return nil, err
	}

	stats, err := s.dashboardStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &registrystore.DashboardData{
		User: registrystore.DashboardUser{
			ID:             user.ID,
			Email:          user.Email,
			DisplayName:    displayName(user),
			AvatarURL:      user.AvatarURL,
			CurrentStreak:  user.CurrentStreak,
			LongestStreak:  user.LongestStreak,
			LastActiveDate: user.LastActiveDate,
		},
		Legacies:            legacies,
		RecentConversations: recent,
		RecentActivities:    activities,
		Stats:               *stats,
	}, nil
}

func (s *Store) dashboardStats(ctx context.Context, userID uuid.UUID) (*registrystore.DashboardStats, error) {
	var sums struct {
		TotalMemories int64
		TotalPhotos   int64
		TotalAudio    int64
		TotalText     int64
	}
	err := s.db.WithContext(ctx).Model(&model.Legacy{}).
		Select("COALESCE(SUM(total_memories),0) AS total_memories, COALESCE(SUM(photo_count),0) AS total_photos, COALESCE(SUM(audio_count),0) AS total_audio, COALESCE(SUM(text_count),0) AS total_text").
		Where("user_id = ?", userID).
		Scan(&sums).Error
	if err != nil {
		return nil, err
	}

	var activeLegacies int64
	err = s.db.WithContext(ctx).Model(&model.Legacy{}).
		Where("user_id = ? AND status = ?", userID, model.LegacyStatusActive).
		Count(&activeLegacies).Error
	if err != nil {
		return nil, err
	}

	var totalConversations int64
	err = s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("user_id = ?", userID).
		Count(&totalConversations).Error
	if err != nil {
		return nil, err
	}

	return &registrystore.DashboardStats{
		TotalMemories:      sums.TotalMemories,
		TotalPhotos:        sums.TotalPhotos,
		TotalAudio:         sums.TotalAudio,
		TotalText:          sums.TotalText,
		ActiveLegacies:     activeLegacies,
		TotalConversations: totalConversations,
		MemoryDistribution: registrystore.MemoryDistribution{
			Photos: sums.TotalPhotos,
			Audio:  sums.TotalAudio,
			Text:   sums.TotalText,
		},
	}, nil
}

// displayName prefers the profile name and falls back to the capitalized
// local part of the email.
func displayName(user *model.User) string {
	if user.Name != "" {
		return user.Name
	}
	local, _, _ := strings.Cut(user.Email, "@")
	if local == "" {
		return user.Email
	}
	return strings.ToUpper(local[:1]) + local[1:]
}
