package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/echoheir/echoheir-service/internal/model"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultMemoryPageSize = 20
	maxMemoryPageSize     = 100
)

// ListMemories merges legacies, conversation messages, and notes into one
// chronological list. Column-backed filters (legacy, emotion, kind) are
// pushed into the sub-queries; the free-text filter runs over the merged
// items since title and tags are synthesized.
func (s *Store) ListMemories(ctx context.Context, userID uuid.UUID, query registrystore.MemoryQuery) (*registrystore.MemoryPage, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultMemoryPageSize
	}
	if limit > maxMemoryPageSize {
		limit = maxMemoryPageSize
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	include := func(kind registrystore.MemoryKind) bool {
		return query.Kind == nil || *query.Kind == kind
	}

	var legacies []model.Legacy
	lq := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if query.LegacyID != nil {
		lq = lq.Where("id = ?", *query.LegacyID)
	}
	if err := lq.Find(&legacies).Error; err != nil {
		return nil, err
	}
	nameByID := make(map[uuid.UUID]string, len(legacies))
	for _, l := range legacies {
		nameByID[l.ID] = l.Name
	}

	var items []registrystore.MemoryItem

	// Legacies carry no emotion, so an emotion filter excludes them.
	if include(registrystore.MemoryKindLegacy) && query.Emotion == "" {
		for _, l := range legacies {
			l := l
			rel := l.Relationship
			items = append(items, registrystore.MemoryItem{
				ID:           l.ID,
				Kind:         registrystore.MemoryKindLegacy,
				Title:        l.Name,
				Content:      l.Bio,
				LegacyID:     &l.ID,
				LegacyName:   l.Name,
				Relationship: &rel,
				CreatedAt:    l.CreatedAt,
			})
		}
	}

	if include(registrystore.MemoryKindConversation) {
		cq := s.db.WithContext(ctx).Where("user_id = ?", userID)
		if query.LegacyID != nil {
			cq = cq.Where("legacy_id = ?", *query.LegacyID)
		}
		if query.Emotion != "" {
			cq = cq.Where("emotional_tone = ?", query.Emotion)
		}
		var conversations []model.Conversation
		if err := cq.Find(&conversations).Error; err != nil {
			return nil, err
		}
		for _, conv := range conversations {
			conv := conv
			mt := conv.MessageType
			items = append(items, registrystore.MemoryItem{
				ID:          conv.ID,
				Kind:        registrystore.MemoryKindConversation,
				Title:       fmt.Sprintf("Conversation with %s", nameByID[conv.LegacyID]),
				Content:     conv.Message,
				LegacyID:    &conv.LegacyID,
				LegacyName:  nameByID[conv.LegacyID],
				Emotion:     string(conv.EmotionalTone),
				MessageType: &mt,
				CreatedAt:   conv.CreatedAt,
			})
		}
	}

	if include(registrystore.MemoryKindNote) {
		aq := s.db.WithContext(ctx).
			Where("user_id = ? AND type = ?", userID, model.ActivityMemoryCreated)
		if query.LegacyID != nil {
			aq = aq.Where("legacy_id = ?", *query.LegacyID)
		}
		var notes []model.Activity
		if err := aq.Find(&notes).Error; err != nil {
			return nil, err
		}
		for _, note := range notes {
			item := noteItem(note, nameByID)
			if query.Emotion != "" && item.Emotion != query.Emotion {
				continue
			}
			items = append(items, item)
		}
	}

	if q := strings.TrimSpace(query.Search); q != "" {
		needle := strings.ToLower(q)
		filtered := items[:0]
		for _, item := range items {
			if matchesSearch(item, needle) {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	total := len(items)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return &registrystore.MemoryPage{
		Data:    items[offset:end],
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: end < total,
	}, nil
}

func matchesSearch(item registrystore.MemoryItem, needle string) bool {
	if strings.Contains(strings.ToLower(item.Title), needle) ||
		strings.Contains(strings.ToLower(item.Content), needle) {
		return true
	}
	for _, tag := range item.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func noteItem(note model.Activity, nameByID map[uuid.UUID]string) registrystore.MemoryItem {
	item := registrystore.MemoryItem{
		ID:        note.ID,
		Kind:      registrystore.MemoryKindNote,
		LegacyID:  note.LegacyID,
		CreatedAt: note.CreatedAt,
	}
	if note.LegacyID != nil {
		item.LegacyName = nameByID[*note.LegacyID]
	}
	if note.Metadata != nil {
		item.Title = note.Metadata.Title
		item.Content = note.Metadata.Content
		item.Tags = note.Metadata.Tags
		item.Emotion = string(note.Metadata.Emotion)
	}
	if item.Title == "" {
		item.Title = note.Message
	}
	return item
}

func (s *Store) CreateNote(ctx context.Context, userID uuid.UUID, req registrystore.CreateNoteRequest) (*registrystore.MemoryItem, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, &registrystore.ValidationError{Field: "content", Message: "content is required"}
	}
	emotion := model.EmotionalTone(req.Emotion)
	if emotion == "" {
		emotion = model.ToneNeutral
	}
	if !validTone(emotion) {
		return nil, &registrystore.ValidationError{Field: "emotion", Message: "unknown emotion"}
	}

	now := time.Now()
	var item registrystore.MemoryItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		legacy, err := getLegacy(tx, userID, req.LegacyID)
		if err != nil {
			return err
		}

		note := model.Activity{
			ID:       uuid.New(),
			UserID:   userID,
			Type:     model.ActivityMemoryCreated,
			Message:  fmt.Sprintf("Added a memory for %s", legacy.Name),
			LegacyID: &legacy.ID,
			Metadata: &model.ActivityMetadata{
				Title:   req.Title,
				Content: req.Content,
				Tags:    req.Tags,
				Emotion: emotion,
				Type:    "text",
			},
			CreatedAt: now,
		}
		if err := tx.Create(&note).Error; err != nil {
			return err
		}

		err = tx.Model(&model.Legacy{}).Where("id = ?", legacy.ID).Updates(map[string]any{
			"total_memories": gorm.Expr("total_memories + 1"),
			"text_count":     gorm.Expr("text_count + 1"),
		}).Error
		if err != nil {
			return err
		}
		if err := s.touchStreak(tx, userID, now); err != nil {
			return err
		}

		item = noteItem(note, map[uuid.UUID]string{legacy.ID: legacy.Name})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateMemory resolves the id across the note and conversation tables.
// UUIDs are globally unique, so whichever table holds the row wins. Legacy
// profiles are list-only in the memory view and cannot be edited here.
func (s *Store) UpdateMemory(ctx context.Context, userID uuid.UUID, memoryID uuid.UUID, req registrystore.UpdateMemoryRequest) (*registrystore.MemoryItem, error) {
	var item registrystore.MemoryItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var note model.Activity
		err := tx.First(&note, "id = ? AND user_id = ? AND type = ?", memoryID, userID, model.ActivityMemoryCreated).Error
		if err == nil {
			return updateNote(tx, &note, req, &item)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var conv model.Conversation
		err = tx.First(&conv, "id = ? AND user_id = ?", memoryID, userID).Error
		if err == nil {
			return s.updateConversationMemory(tx, &conv, req, &item)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return &registrystore.NotFoundError{Resource: "memory", ID: memoryID.String()}
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func updateNote(tx *gorm.DB, note *model.Activity, req registrystore.UpdateMemoryRequest, out *registrystore.MemoryItem) error {
	meta := note.Metadata
	if meta == nil {
		meta = &model.ActivityMetadata{Type: "text"}
	}
	if req.Title != nil {
		meta.Title = *req.Title
	}
	if req.Content != nil {
		meta.Content = *req.Content
	}
	if req.Tags != nil {
		meta.Tags = req.Tags
	}
	if req.Emotion != nil {
		emotion := model.EmotionalTone(*req.Emotion)
		if !validTone(emotion) {
			return &registrystore.ValidationError{Field: "emotion", Message: "unknown emotion"}
		}
		meta.Emotion = emotion
	}
	note.Metadata = meta
	if err := tx.Model(note).Update("metadata", meta).Error; err != nil {
		return err
	}

	names := map[uuid.UUID]string{}
	if note.LegacyID != nil {
		var legacy model.Legacy
		if err := tx.First(&legacy, "id = ?", *note.LegacyID).Error; err == nil {
			names[legacy.ID] = legacy.Name
		}
	}
	*out = noteItem(*note, names)
	return nil
}

func (s *Store) updateConversationMemory(tx *gorm.DB, conv *model.Conversation, req registrystore.UpdateMemoryRequest, out *registrystore.MemoryItem) error {
	updates := map[string]any{}
	if req.Content != nil {
		if strings.TrimSpace(*req.Content) == "" {
			return &registrystore.ValidationError{Field: "content", Message: "content cannot be empty"}
		}
		updates["message"] = *req.Content
		conv.Message = *req.Content
	}
	if req.Emotion != nil {
		emotion := model.EmotionalTone(*req.Emotion)
		if !validTone(emotion) {
			return &registrystore.ValidationError{Field: "emotion", Message: "unknown emotion"}
		}
		updates["emotional_tone"] = emotion
		conv.EmotionalTone = emotion
	}
	if len(updates) > 0 {
		if err := tx.Model(conv).Updates(updates).Error; err != nil {
			return err
		}
	}

	legacyName := ""
	var legacy model.Legacy
	if err := tx.First(&legacy, "id = ?", conv.LegacyID).Error; err == nil {
		legacyName = legacy.Name
	}
	mt := conv.MessageType
	*out = registrystore.MemoryItem{
		ID:          conv.ID,
		Kind:        registrystore.MemoryKindConversation,
		Title:       fmt.Sprintf("Conversation with %s", legacyName),
		Content:     conv.Message,
		LegacyID:    &conv.LegacyID,
		LegacyName:  legacyName,
		Emotion:     string(conv.EmotionalTone),
		MessageType: &mt,
		CreatedAt:   conv.CreatedAt,
	}
	return nil
}

// DeleteMemory removes a note or a conversation message by id. Deleting a
// note decrements the legacy's counters, floored at zero; deleting a
// conversation message also removes the activity rows linked to it by
// conversation id.
func (s *Store) DeleteMemory(ctx context.Context, userID uuid.UUID, memoryID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var note model.Activity
		err := tx.First(&note, "id = ? AND user_id = ? AND type = ?", memoryID, userID, model.ActivityMemoryCreated).Error
		if err == nil {
			if err := tx.Delete(&model.Activity{}, "id = ?", note.ID).Error; err != nil {
				return err
			}
			if note.LegacyID == nil {
				return nil
			}
			return tx.Model(&model.Legacy{}).Where("id = ?", *note.LegacyID).Updates(map[string]any{
				"total_memories": gorm.Expr("CASE WHEN total_memories > 0 THEN total_memories - 1 ELSE 0 END"),
				"text_count":     gorm.Expr("CASE WHEN text_count > 0 THEN text_count - 1 ELSE 0 END"),
			}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var conv model.Conversation
		err = tx.First(&conv, "id = ? AND user_id = ?", memoryID, userID).Error
		if err == nil {
			if err := tx.Delete(&model.Conversation{}, "id = ?", conv.ID).Error; err != nil {
				return err
			}
			return tx.Delete(&model.Activity{}, "conversation_id = ?", conv.ID).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return &registrystore.NotFoundError{Resource: "memory", ID: memoryID.String()}
	})
}
