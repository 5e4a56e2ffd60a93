package metrics

import (
	"context"
	"time"

	"github.com/echoheir/echoheir-service/internal/model"
	"github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/echoheir/echoheir-service/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a LegacyStore that records StoreLatency for every operation.
func Wrap(inner store.LegacyStore) store.LegacyStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.LegacyStore
}

func observe(op string, start time.Time) {
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) RegisterUser(ctx context.Context, req store.RegisterUserRequest) (*model.User, error) {
	defer observe("register_user", time.Now())
	return m.inner.RegisterUser(ctx, req)
}

func (m *metricsStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	defer observe("get_user_by_email", time.Now())
	return m.inner.GetUserByEmail(ctx, email)
}

func (m *metricsStore) GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	defer observe("get_user", time.Now())
	return m.inner.GetUser(ctx, userID)
}

func (m *metricsStore) UpsertGoogleUser(ctx context.Context, profile store.GoogleProfile) (*model.User, error) {
	defer observe("upsert_google_user", time.Now())
	return m.inner.UpsertGoogleUser(ctx, profile)
}

func (m *metricsStore) CreateSession(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*model.Session, error) {
	defer observe("create_session", time.Now())
	return m.inner.CreateSession(ctx, userID, ttl)
}

func (m *metricsStore) GetSession(ctx context.Context, token string) (*model.Session, error) {
	defer observe("get_session", time.Now())
	return m.inner.GetSession(ctx, token)
}

func (m *metricsStore) DeleteSession(ctx context.Context, token string) error {
	defer observe("delete_session", time.Now())
	return m.inner.DeleteSession(ctx, token)
}

func (m *metricsStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	defer observe("delete_expired_sessions", time.Now())
	return m.inner.DeleteExpiredSessions(ctx)
}

func (m *metricsStore) GetDashboard(ctx context.Context, userID uuid.UUID) (*store.DashboardData, error) {
	defer observe("get_dashboard", time.Now())
	return m.inner.GetDashboard(ctx, userID)
}

func (m *metricsStore) CreateLegacy(ctx context.Context, userID uuid.UUID, req store.CreateLegacyRequest) (*model.Legacy, error) {
	defer observe("create_legacy", time.Now())
	return m.inner.CreateLegacy(ctx, userID, req)
}

func (m *metricsStore) ListLegacies(ctx context.Context, userID uuid.UUID) ([]store.LegacySummary, error) {
	defer observe("list_legacies", time.Now())
	return m.inner.ListLegacies(ctx, userID)
}

func (m *metricsStore) GetLegacy(ctx context.Context, userID uuid.UUID, legacyID uuid.UUID) (*model.Legacy, error) {
	defer observe("get_legacy", time.Now())
	return m.inner.GetLegacy(ctx, userID, legacyID)
}

func (m *metricsStore) RecordVoiceTraining(ctx context.Context, userID uuid.UUID, legacyID uuid.UUID, req store.VoiceTrainingRequest) (*model.Legacy, error) {
	defer observe("record_voice_training", time.Now())
	return m.inner.RecordVoiceTraining(ctx, userID, legacyID, req)
}

func (m *metricsStore) CreateConversation(ctx context.Context, userID uuid.UUID, req store.CreateConversationRequest) (*store.ConversationExchange, error) {
	defer observe("create_conversation", time.Now())
	return m.inner.CreateConversation(ctx, userID, req)
}

func (m *metricsStore) ListConversations(ctx context.Context, userID uuid.UUID, query store.ConversationQuery) ([]model.Conversation, error) {
	defer observe("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, userID, query)
}

func (m *metricsStore) ListMemories(ctx context.Context, userID uuid.UUID, query store.MemoryQuery) (*store.MemoryPage, error) {
	defer observe("list_memories", time.Now())
	return m.inner.ListMemories(ctx, userID, query)
}

func (m *metricsStore) CreateNote(ctx context.Context, userID uuid.UUID, req store.CreateNoteRequest) (*store.MemoryItem, error) {
	defer observe("create_note", time.Now())
	return m.inner.CreateNote(ctx, userID, req)
}

func (m *metricsStore) UpdateMemory(ctx context.Context, userID uuid.UUID, memoryID uuid.UUID, req store.UpdateMemoryRequest) (*store.MemoryItem, error) {
	defer observe("update_memory", time.Now())
	return m.inner.UpdateMemory(ctx, userID, memoryID, req)
}

func (m *metricsStore) DeleteMemory(ctx context.Context, userID uuid.UUID, memoryID uuid.UUID) error {
	defer observe("delete_memory", time.Now())
	return m.inner.DeleteMemory(ctx, userID, memoryID)
}

func (m *metricsStore) RecordUpload(ctx context.Context, upload *model.Upload) error {
	defer observe("record_upload", time.Now())
	return m.inner.RecordUpload(ctx, upload)
}

func (m *metricsStore) GetUpload(ctx context.Context, userID uuid.UUID, uploadID uuid.UUID) (*model.Upload, error) {
	defer observe("get_upload", time.Now())
	return m.inner.GetUpload(ctx, userID, uploadID)
}

func (m *metricsStore) ListOrphanUploads(ctx context.Context, olderThan time.Time, limit int) ([]model.Upload, error) {
	defer observe("list_orphan_uploads", time.Now())
	return m.inner.ListOrphanUploads(ctx, olderThan, limit)
}

func (m *metricsStore) HardDeleteUpload(ctx context.Context, uploadID uuid.UUID) error {
	defer observe("hard_delete_upload", time.Now())
	return m.inner.HardDeleteUpload(ctx, uploadID)
}
