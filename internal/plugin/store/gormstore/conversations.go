package gormstore

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/echoheir/echoheir-service/internal/model"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/echoheir/echoheir-service/internal/service"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const recentMessageMaxLen = 120

// truncateRecent caps the stored preview at recentMessageMaxLen bytes,
// backing up to a rune boundary so multi-byte input stays valid UTF-8.
func truncateRecent(message string) string {
	if len(message) <= recentMessageMaxLen {
		return message
	}
	cut := recentMessageMaxLen
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}

func validTone(t model.EmotionalTone) bool {
	switch t {
	case model.ToneNeutral, model.ToneJoyful, model.ToneNostalgic,
		model.ToneComforting, model.ToneReflective, model.ToneSad:
		return true
	}
	return false
}

// CreateConversation persists the user's message and a simulated persona
// reply in one transaction, then refreshes the legacy's activity fields and
// the owner's streak.
func (s *Store) CreateConversation(ctx context.Context, userID uuid.UUID, req registrystore.CreateConversationRequest) (*registrystore.ConversationExchange, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, &registrystore.ValidationError{Field: "message", Message: "message is required"}
	}
	tone := req.EmotionalTone
	if tone == "" {
		tone = model.ToneNeutral
	}
	if !validTone(tone) {
		return nil, &registrystore.ValidationError{Field: "emotionalTone", Message: "unknown emotional tone"}
	}

	now := time.Now()
	exchange := &registrystore.ConversationExchange{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		legacy, err := getLegacy(tx, userID, req.LegacyID)
		if err != nil {
			return err
		}

		userMsg := model.Conversation{
			ID:            uuid.New(),
			UserID:        userID,
			LegacyID:      legacy.ID,
			Message:       message,
			MessageType:   model.MessageTypeUser,
			EmotionalTone: tone,
			CreatedAt:     now,
		}
		if err := tx.Create(&userMsg).Error; err != nil {
			return err
		}

		// The reply timestamp sits just after the user message so history
		// ordering is stable.
		aiMsg := model.Conversation{
			ID:            uuid.New(),
			UserID:        userID,
			LegacyID:      legacy.ID,
			Message:       service.PersonaReply(legacy, message, tone),
			MessageType:   model.MessageTypeAI,
			EmotionalTone: tone,
			CreatedAt:     now.Add(time.Millisecond),
		}
		if err := tx.Create(&aiMsg).Error; err != nil {
			return err
		}

		recent := truncateRecent(message)
		err = tx.Model(&model.Legacy{}).Where("id = ?", legacy.ID).Updates(map[string]any{
			"last_active_at": now,
			"recent_message": recent,
		}).Error
		if err != nil {
			return err
		}

		activity := model.Activity{
			ID:             uuid.New(),
			UserID:         userID,
			Type:           model.ActivityConversationSent,
			Message:        service.ConversationMessageFor(legacy),
			LegacyID:       &legacy.ID,
			ConversationID: &userMsg.ID,
			CreatedAt:      now,
		}
		if err := tx.Create(&activity).Error; err != nil {
			return err
		}
		if err := s.touchStreak(tx, userID, now); err != nil {
			return err
		}

		exchange.UserMessage = &userMsg
		exchange.AIMessage = &aiMsg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exchange, nil
}

func (s *Store) ListConversations(ctx context.Context, userID uuid.UUID, query registrystore.ConversationQuery) ([]model.Conversation, error) {
	limit := query.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if query.LegacyID != nil {
		q = q.Where("legacy_id = ?", *query.LegacyID)
	}
	var conversations []model.Conversation
	err := q.Order("created_at DESC").
		Offset(query.Offset).
		Limit(limit).
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}
	return conversations, nil
}
