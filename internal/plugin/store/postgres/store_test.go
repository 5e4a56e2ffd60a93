package postgres_test

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/echoheir/echoheir-service/internal/config"
	"github.com/echoheir/echoheir-service/internal/model"
	"github.com/echoheir/echoheir-service/internal/plugin/store/postgres"
	registrymigrate "github.com/echoheir/echoheir-service/internal/registry/migrate"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/echoheir/echoheir-service/internal/testutil/testpg"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (registrystore.LegacyStore, context.Context) {
	t.Helper()

	dbURL := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)

	// Ensure postgres store plugin is registered
	_ = postgres.ForceImport

	// Run migrations
	err := registrymigrate.RunAll(ctx)
	require.NoError(t, err)

	// Initialize store
	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)

	store, err := loader(ctx)
	require.NoError(t, err)

	return store, ctx
}

func registerUser(t *testing.T, store registrystore.LegacyStore, ctx context.Context, email string) *model.User {
	t.Helper()
	user, err := store.RegisterUser(ctx, registrystore.RegisterUserRequest{
		Email:        email,
		PasswordHash: "$2a$10$notarealhashbutopaquetothestore",
	})
	require.NoError(t, err)
	return user
}

func createLegacy(t *testing.T, store registrystore.LegacyStore, ctx context.Context, userID uuid.UUID, name string) *model.Legacy {
	t.Helper()
	legacy, err := store.CreateLegacy(ctx, userID, registrystore.CreateLegacyRequest{
		Name:         name,
		Relationship: model.RelationshipGrandparent,
		Bio:          "Told the best stories",
	})
	require.NoError(t, err)
	return legacy
}

func TestRegisterUser(t *testing.T) {
	store, ctx := setupTestStore(t)

	user, err := store.RegisterUser(ctx, registrystore.RegisterUserRequest{
		Email:        "Maria@Example.com",
		PasswordHash: "hash",
		Relationship: model.RelationshipChild,
	})
	require.NoError(t, err)
	assert.Equal(t, "maria@example.com", user.Email)
	assert.Equal(t, model.PrivacyPrivate, user.PrivacyLevel)
	assert.Equal(t, 0, user.CurrentStreak)

	got, err := store.GetUserByEmail(ctx, "maria@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	// Duplicate email is a conflict
	_, err = store.RegisterUser(ctx, registrystore.RegisterUserRequest{
		Email:        "maria@example.com",
		PasswordHash: "hash",
	})
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestRegisterUser_Validation(t *testing.T) {
	store, ctx := setupTestStore(t)

	var validation *registrystore.ValidationError

	_, err := store.RegisterUser(ctx, registrystore.RegisterUserRequest{Email: "not-an-email", PasswordHash: "hash"})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "email", validation.Field)

	_, err = store.RegisterUser(ctx, registrystore.RegisterUserRequest{Email: "a@b.com"})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "password", validation.Field)
}

func TestUpsertGoogleUser(t *testing.T) {
	store, ctx := setupTestStore(t)

	local := registerUser(t, store, ctx, "linked@example.com")

	// Same email links to the existing local account.
	user, err := store.UpsertGoogleUser(ctx, registrystore.GoogleProfile{
		GoogleID:  "google-sub-1",
		Email:     "Linked@Example.com",
		Name:      "Linked User",
		AvatarURL: "https://lh3.example/avatar.png",
	})
	require.NoError(t, err)
	assert.Equal(t, local.ID, user.ID)
	require.NotNil(t, user.GoogleID)
	assert.Equal(t, "google-sub-1", *user.GoogleID)
	assert.Equal(t, "Linked User", user.Name)

	// Second sign-in matches by Google subject.
	again, err := store.UpsertGoogleUser(ctx, registrystore.GoogleProfile{
		GoogleID: "google-sub-1",
		Email:    "linked@example.com",
		Name:     "Linked User",
	})
	require.NoError(t, err)
	assert.Equal(t, local.ID, again.ID)

	// Unknown identity creates a password-less account.
	fresh, err := store.UpsertGoogleUser(ctx, registrystore.GoogleProfile{
		GoogleID: "google-sub-2",
		Email:    "new@example.com",
		Name:     "New User",
	})
	require.NoError(t, err)
	assert.NotEqual(t, local.ID, fresh.ID)
	assert.Nil(t, fresh.PasswordHash)
}

func TestSessions(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "sess@example.com")

	session, err := store.CreateSession(ctx, user.ID, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.UserID)

	require.NoError(t, store.DeleteSession(ctx, session.ID))

	var notFound *registrystore.NotFoundError
	_, err = store.GetSession(ctx, session.ID)
	require.ErrorAs(t, err, &notFound)
	err = store.DeleteSession(ctx, session.ID)
	require.ErrorAs(t, err, &notFound)
}

func TestDeleteExpiredSessions(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "sweep@example.com")

	expired, err := store.CreateSession(ctx, user.ID, -time.Minute)
	require.NoError(t, err)
	live, err := store.CreateSession(ctx, user.ID, time.Hour)
	require.NoError(t, err)

	deleted, err := store.DeleteExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.GetSession(ctx, live.ID)
	require.NoError(t, err)
	var notFound *registrystore.NotFoundError
	_, err = store.GetSession(ctx, expired.ID)
	require.ErrorAs(t, err, &notFound)
}

func TestCreateLegacy_StartsStreak(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "streak@example.com")

	legacy := createLegacy(t, store, ctx, user.ID, "Grandma Rosa")
	assert.Equal(t, model.LegacyStatusActive, legacy.Status)
	assert.Equal(t, 0, legacy.TotalMemories)

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStreak)
	assert.Equal(t, 1, got.LongestStreak)
	require.NotNil(t, got.LastActiveDate)
}

func TestCreateLegacy_WithPhoto(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "photo@example.com")

	upload := &model.Upload{
		ID:          uuid.New(),
		UserID:      user.ID,
		Kind:        model.UploadKindPhoto,
		StorageKey:  "rosa-123.jpg",
		Filename:    "rosa.jpg",
		ContentType: "image/jpeg",
		Size:        1024,
		CreatedAt:   time.Now(),
	}
	legacy, err := store.CreateLegacy(ctx, user.ID, registrystore.CreateLegacyRequest{
		Name:         "Grandma Rosa",
		Relationship: model.RelationshipGrandparent,
		PhotoURL:     "/api/uploads/" + upload.ID.String(),
		PhotoKey:     upload.StorageKey,
		PhotoUpload:  upload,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, legacy.PhotoCount)
	assert.Equal(t, 1, legacy.TotalMemories)

	got, err := store.GetUpload(ctx, user.ID, upload.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LegacyID)
	assert.Equal(t, legacy.ID, *got.LegacyID)
}

func TestStreakIdempotentWithinDay(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "sameday@example.com")

	legacy := createLegacy(t, store, ctx, user.ID, "Grandpa Joe")
	_, err := store.CreateConversation(ctx, user.ID, registrystore.CreateConversationRequest{
		LegacyID: legacy.ID,
		Message:  "Hello again",
	})
	require.NoError(t, err)

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStreak)
	assert.Equal(t, 1, got.LongestStreak)
}

func TestCreateConversation(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "chat@example.com")
	legacy := createLegacy(t, store, ctx, user.ID, "Grandma Rosa")

	exchange, err := store.CreateConversation(ctx, user.ID, registrystore.CreateConversationRequest{
		LegacyID:      legacy.ID,
		Message:       "I miss your cooking",
		EmotionalTone: model.ToneNostalgic,
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageTypeUser, exchange.UserMessage.MessageType)
	assert.Equal(t, model.MessageTypeAI, exchange.AIMessage.MessageType)
	assert.NotEmpty(t, exchange.AIMessage.Message)
	assert.True(t, exchange.AIMessage.CreatedAt.After(exchange.UserMessage.CreatedAt))

	// Legacy tracks the most recent message.
	updated, err := store.GetLegacy(ctx, user.ID, legacy.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, updated.RecentMessage)
	require.NotNil(t, updated.LastActiveAt)

	// History comes back newest first.
	history, err := store.ListConversations(ctx, user.ID, registrystore.ConversationQuery{LegacyID: &legacy.ID})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.MessageTypeAI, history[0].MessageType)
}

func TestCreateConversation_RecentMessageRuneBoundary(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "runes@example.com")
	legacy := createLegacy(t, store, ctx, user.ID, "Grandma Rosa")

	// Every character is multi-byte, so a naive byte slice would cut
	// through the middle of a rune.
	message := strings.Repeat("日記を読んで", 20)
	_, err := store.CreateConversation(ctx, user.ID, registrystore.CreateConversationRequest{
		LegacyID: legacy.ID,
		Message:  message,
	})
	require.NoError(t, err)

	updated, err := store.GetLegacy(ctx, user.ID, legacy.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(updated.RecentMessage), 120)
	assert.True(t, utf8.ValidString(updated.RecentMessage))
	assert.True(t, strings.HasPrefix(message, updated.RecentMessage))
}

func TestCreateConversation_UnknownLegacy(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "nolegacy@example.com")

	var notFound *registrystore.NotFoundError
	_, err := store.CreateConversation(ctx, user.ID, registrystore.CreateConversationRequest{
		LegacyID: uuid.New(),
		Message:  "anyone there?",
	})
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "legacy", notFound.Resource)
}

func TestLegacyOwnership(t *testing.T) {
	store, ctx := setupTestStore(t)
	owner := registerUser(t, store, ctx, "owner@example.com")
	other := registerUser(t, store, ctx, "other@example.com")
	legacy := createLegacy(t, store, ctx, owner.ID, "Grandma Rosa")

	var notFound *registrystore.NotFoundError
	_, err := store.GetLegacy(ctx, other.ID, legacy.ID)
	require.ErrorAs(t, err, &notFound)
}

func TestRecordVoiceTraining(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "voice@example.com")
	legacy := createLegacy(t, store, ctx, user.ID, "Grandpa Joe")

	upload := &model.Upload{
		ID:          uuid.New(),
		UserID:      user.ID,
		Kind:        model.UploadKindAudio,
		StorageKey:  "joe-voice-1.wav",
		ContentType: "audio/wav",
		CreatedAt:   time.Now(),
	}
	updated, err := store.RecordVoiceTraining(ctx, user.ID, legacy.ID, registrystore.VoiceTrainingRequest{
		AudioUpload: upload,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.VoiceTraining)
	assert.Equal(t, 1, updated.AudioCount)
	assert.Equal(t, 1, updated.TotalMemories)
}

func TestListMemories(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "memories@example.com")
	legacy := createLegacy(t, store, ctx, user.ID, "Grandma Rosa")

	_, err := store.CreateConversation(ctx, user.ID, registrystore.CreateConversationRequest{
		LegacyID:      legacy.ID,
		Message:       "Remember the lake house?",
		EmotionalTone: model.ToneNostalgic,
	})
	require.NoError(t, err)

	_, err = store.CreateNote(ctx, user.ID, registrystore.CreateNoteRequest{
		LegacyID: legacy.ID,
		Title:    "Sunday dinners",
		Content:  "She always made too much pasta",
		Tags:     []string{"food", "family"},
		Emotion:  string(model.ToneJoyful),
	})
	require.NoError(t, err)

	// All kinds: 1 legacy + 2 conversation messages + 1 note.
	page, err := store.ListMemories(ctx, user.ID, registrystore.MemoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.False(t, page.HasMore)

	// Kind filter
	kind := registrystore.MemoryKindNote
	page, err = store.ListMemories(ctx, user.ID, registrystore.MemoryQuery{Kind: &kind})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Sunday dinners", page.Data[0].Title)

	// An emotion filter excludes legacy profiles.
	page, err = store.ListMemories(ctx, user.ID, registrystore.MemoryQuery{Emotion: string(model.ToneNostalgic)})
	require.NoError(t, err)
	for _, item := range page.Data {
		assert.NotEqual(t, registrystore.MemoryKindLegacy, item.Kind)
	}

	// Free-text search covers titles, content, and tags.
	page, err = store.ListMemories(ctx, user.ID, registrystore.MemoryQuery{Search: "pasta"})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, registrystore.MemoryKindNote, page.Data[0].Kind)
}

func TestListMemories_Pagination(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "pages@example.com")
	legacy := createLegacy(t, store, ctx, user.ID, "Grandma Rosa")

	for i := 0; i < 5; i++ {
		_, err := store.CreateNote(ctx, user.ID, registrystore.CreateNoteRequest{
			LegacyID: legacy.ID,
			Content:  "note content",
		})
		require.NoError(t, err)
	}

	kind := registrystore.MemoryKindNote
	page, err := store.ListMemories(ctx, user.ID, registrystore.MemoryQuery{Kind: &kind, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Data, 2)
	assert.True(t, page.HasMore)

	page, err = store.ListMemories(ctx, user.ID, registrystore.MemoryQuery{Kind: &kind, Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
	assert.False(t, page.HasMore)
}

func TestNoteLifecycle(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "notes@example.com")
	legacy := createLegacy(t, store, ctx, user.ID, "Grandma Rosa")

	note, err := store.CreateNote(ctx, user.ID, registrystore.CreateNoteRequest{
		LegacyID: legacy.ID,
		Title:    "Her garden",
		Content:  "Roses along the back fence",
	})
	require.NoError(t, err)
	assert.Equal(t, string(model.ToneNeutral), note.Emotion)

	updated, err := store.GetLegacy(ctx, user.ID, legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.TextCount)
	assert.Equal(t, 1, updated.TotalMemories)

	// Update title and emotion
	title := "Her rose garden"
	emotion := string(model.ToneJoyful)
	item, err := store.UpdateMemory(ctx, user.ID, note.ID, registrystore.UpdateMemoryRequest{
		Title:   &title,
		Emotion: &emotion,
	})
	require.NoError(t, err)
	assert.Equal(t, "Her rose garden", item.Title)
	assert.Equal(t, emotion, item.Emotion)
	assert.Equal(t, "Roses along the back fence", item.Content)

	// Delete decrements counters back down.
	require.NoError(t, store.DeleteMemory(ctx, user.ID, note.ID))
	updated, err = store.GetLegacy(ctx, user.ID, legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.TextCount)
	assert.Equal(t, 0, updated.TotalMemories)

	var notFound *registrystore.NotFoundError
	err = store.DeleteMemory(ctx, user.ID, note.ID)
	require.ErrorAs(t, err, &notFound)
}

func TestDeleteConversationMemory(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "delchat@example.com")
	legacy := createLegacy(t, store, ctx, user.ID, "Grandpa Joe")

	exchange, err := store.CreateConversation(ctx, user.ID, registrystore.CreateConversationRequest{
		LegacyID: legacy.ID,
		Message:  "Tell me about the war",
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteMemory(ctx, user.ID, exchange.UserMessage.ID))

	history, err := store.ListConversations(ctx, user.ID, registrystore.ConversationQuery{LegacyID: &legacy.ID})
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// The linked activity row goes with it.
	dashboard, err := store.GetDashboard(ctx, user.ID)
	require.NoError(t, err)
	for _, activity := range dashboard.RecentActivities {
		if activity.ConversationID != nil {
			assert.NotEqual(t, exchange.UserMessage.ID, *activity.ConversationID)
		}
	}
}

func TestGetDashboard(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "dash@example.com")
	legacy := createLegacy(t, store, ctx, user.ID, "Grandma Rosa")

	_, err := store.CreateConversation(ctx, user.ID, registrystore.CreateConversationRequest{
		LegacyID: legacy.ID,
		Message:  "Good morning",
	})
	require.NoError(t, err)
	_, err = store.CreateNote(ctx, user.ID, registrystore.CreateNoteRequest{
		LegacyID: legacy.ID,
		Content:  "A note",
	})
	require.NoError(t, err)

	data, err := store.GetDashboard(ctx, user.ID)
	require.NoError(t, err)

	// Display name falls back to the email local part.
	assert.Equal(t, "Dash", data.User.DisplayName)
	assert.Equal(t, 1, data.User.CurrentStreak)

	require.Len(t, data.Legacies, 1)
	assert.Equal(t, int64(1), data.Stats.ActiveLegacies)
	assert.Equal(t, int64(2), data.Stats.TotalConversations)
	assert.Equal(t, int64(1), data.Stats.TotalText)
	assert.Equal(t, int64(1), data.Stats.TotalMemories)
	assert.Equal(t, data.Stats.TotalText, data.Stats.MemoryDistribution.Text)

	require.NotEmpty(t, data.RecentConversations)
	assert.Equal(t, "Grandma Rosa", data.RecentConversations[0].LegacyName)
	assert.NotEmpty(t, data.RecentConversations[0].TimeAgo)

	assert.NotEmpty(t, data.RecentActivities)
}

func TestOrphanUploads(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "orphan@example.com")

	// An upload stored without ever being attached to a legacy.
	orphan := &model.Upload{
		ID:          uuid.New(),
		UserID:      user.ID,
		Kind:        model.UploadKindPhoto,
		StorageKey:  "stray-1.jpg",
		ContentType: "image/jpeg",
		CreatedAt:   time.Now().Add(-2 * time.Hour),
	}
	legacy := createLegacy(t, store, ctx, user.ID, "Grandma Rosa")
	_, err := store.RecordVoiceTraining(ctx, user.ID, legacy.ID, registrystore.VoiceTrainingRequest{
		AudioUpload: &model.Upload{
			ID:          uuid.New(),
			UserID:      user.ID,
			Kind:        model.UploadKindAudio,
			StorageKey:  "attached-1.wav",
			ContentType: "audio/wav",
			CreatedAt:   time.Now().Add(-2 * time.Hour),
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.RecordUpload(ctx, orphan))

	orphans, err := store.ListOrphanUploads(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, orphan.ID, orphans[0].ID)

	require.NoError(t, store.HardDeleteUpload(ctx, orphan.ID))
	orphans, err = store.ListOrphanUploads(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}
