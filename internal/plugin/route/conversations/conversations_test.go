package conversations_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/echoheir/echoheir-service/internal/config"
	"github.com/echoheir/echoheir-service/internal/model"
	"github.com/echoheir/echoheir-service/internal/plugin/route/conversations"
	"github.com/echoheir/echoheir-service/internal/plugin/store/postgres"
	registrymigrate "github.com/echoheir/echoheir-service/internal/registry/migrate"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/echoheir/echoheir-service/internal/security"
	"github.com/echoheir/echoheir-service/internal/testutil/testpg"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func setupConversationsRouter(t *testing.T) (*gin.Engine, registrystore.LegacyStore, uuid.UUID, uuid.UUID) {
	t.Helper()

	dbURL := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	cfg.Mode = config.ModeTesting
	ctx := config.WithContext(context.Background(), &cfg)

	_ = postgres.ForceImport
	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)

	user, err := store.RegisterUser(ctx, registrystore.RegisterUserRequest{
		Email:        "talker@example.com",
		PasswordHash: "hash",
	})
	require.NoError(t, err)

	legacy, err := store.CreateLegacy(ctx, user.ID, registrystore.CreateLegacyRequest{
		Name:         "Grandma Rosa",
		Relationship: model.RelationshipGrandparent,
		PersonalityTraits: map[string]interface{}{
			"humor": "dry",
		},
	})
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	sessions := security.NewSessionAuth(&cfg, store)
	conversations.MountRoutes(router, store, &cfg, sessions, nil)
	return router, store, user.ID, legacy.ID
}

func doConversationJSON(t *testing.T, router *gin.Engine, method, path string, userID uuid.UUID, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(data)
	} else {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID.String())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSendMessage(t *testing.T) {
	router, _, userID, legacyID := setupConversationsRouter(t)

	w := doConversationJSON(t, router, http.MethodPost, "/api/conversation", userID, gin.H{
		"legacyId":      legacyID.String(),
		"message":       "Tell me about your garden",
		"emotionalTone": "nostalgic",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var exchange registrystore.ConversationExchange
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exchange))
	require.Equal(t, "Tell me about your garden", exchange.UserMessage.Message)
	require.Equal(t, model.MessageTypeUser, exchange.UserMessage.MessageType)
	require.Equal(t, model.ToneNostalgic, exchange.UserMessage.EmotionalTone)
	require.Equal(t, model.MessageTypeAI, exchange.AIMessage.MessageType)
	require.NotEmpty(t, exchange.AIMessage.Message)
	require.True(t, exchange.AIMessage.CreatedAt.After(exchange.UserMessage.CreatedAt))
}

func TestSendMessage_InvalidLegacyID(t *testing.T) {
	router, _, userID, _ := setupConversationsRouter(t)

	w := doConversationJSON(t, router, http.MethodPost, "/api/conversation", userID, gin.H{
		"legacyId": "not-a-uuid",
		"message":  "hello",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "legacyId")
}

func TestSendMessage_UnknownLegacy(t *testing.T) {
	router, _, userID, _ := setupConversationsRouter(t)

	w := doConversationJSON(t, router, http.MethodPost, "/api/conversation", userID, gin.H{
		"legacyId": uuid.NewString(),
		"message":  "hello",
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendMessage_EmptyMessage(t *testing.T) {
	router, _, userID, legacyID := setupConversationsRouter(t)

	w := doConversationJSON(t, router, http.MethodPost, "/api/conversation", userID, gin.H{
		"legacyId": legacyID.String(),
		"message":  "   ",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListConversations(t *testing.T) {
	router, _, userID, legacyID := setupConversationsRouter(t)

	for i := 0; i < 3; i++ {
		w := doConversationJSON(t, router, http.MethodPost, "/api/conversation", userID, gin.H{
			"legacyId": legacyID.String(),
			"message":  fmt.Sprintf("message %d", i),
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doConversationJSON(t, router, http.MethodGet, "/api/conversation?legacyId="+legacyID.String(), userID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Data []model.Conversation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	// Each send produces a user row and an AI row, newest first.
	require.Len(t, page.Data, 6)
	require.True(t, !page.Data[0].CreatedAt.Before(page.Data[5].CreatedAt))

	w = doConversationJSON(t, router, http.MethodGet, "/api/conversation?limit=2&offset=1", userID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page.Data = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Data, 2)
}

func TestListConversations_InvalidLegacyID(t *testing.T) {
	router, _, userID, _ := setupConversationsRouter(t)

	w := doConversationJSON(t, router, http.MethodGet, "/api/conversation?legacyId=nope", userID, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
