package store

import (
	"context"
	"fmt"
	"time"

	"github.com/echoheir/echoheir-service/internal/model"
	"github.com/google/uuid"
)

// MemoryDistribution breaks a user's memories down by kind.
type MemoryDistribution struct {
	Photos int64 `json:"photos"`
	Audio  int64 `json:"audio"`
	Text   int64 `json:"text"`
}

// DashboardStats aggregates counters across all of a user's legacies.
type DashboardStats struct {
	TotalMemories      int64              `json:"totalMemories"`
	TotalPhotos        int64              `json:"totalPhotos"`
	TotalAudio         int64              `json:"totalAudio"`
	TotalText          int64              `json:"totalText"`
	ActiveLegacies     int64              `json:"activeLegacies"`
	TotalConversations int64              `json:"totalConversations"`
	MemoryDistribution MemoryDistribution `json:"memoryDistribution"`
}

// DashboardUser is the trimmed user shape returned on the dashboard.
type DashboardUser struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	DisplayName    string     `json:"displayName"`
	AvatarURL      string     `json:"avatarUrl,omitempty"`
	CurrentStreak  int        `json:"currentStreak"`
	LongestStreak  int        `json:"longestStreak"`
	LastActiveDate *time.Time `json:"lastActiveDate,omitempty"`
}

// LegacySummary is the list shape for legacies; personality traits are
// excluded from list responses.
type LegacySummary struct {
	ID            uuid.UUID          `json:"id"`
	Name          string             `json:"name"`
	Relationship  model.Relationship `json:"relationship"`
	Bio           string             `json:"bio,omitempty"`
	PhotoURL      string             `json:"photoUrl,omitempty"`
	TotalMemories int                `json:"totalMemories"`
	VoiceTraining int                `json:"voiceTraining"`
	PhotoCount    int                `json:"photoCount"`
	AudioCount    int                `json:"audioCount"`
	TextCount     int                `json:"textCount"`
	Status        model.LegacyStatus `json:"status"`
	LastActiveAt  *time.Time         `json:"lastActiveAt,omitempty"`
	RecentMessage string             `json:"recentMessage,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// RecentConversation annotates a conversation row with its legacy name and a
// humanized relative time for dashboard display.
type RecentConversation struct {
	ID            uuid.UUID           `json:"id"`
	LegacyID      uuid.UUID           `json:"legacyId"`
	LegacyName    string              `json:"legacyName"`
	Message       string              `json:"message"`
	MessageType   model.MessageType   `json:"messageType"`
	EmotionalTone model.EmotionalTone `json:"emotionalTone"`
	TimeAgo       string              `json:"timeAgo"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// DashboardData is the aggregate payload for GET /api/dashboard.
type DashboardData struct {
	User                DashboardUser        `json:"user"`
	Legacies            []LegacySummary      `json:"legacies"`
	RecentConversations []RecentConversation `json:"recentConversations"`
	RecentActivities    []model.Activity     `json:"recentActivities"`
	Stats               DashboardStats       `json:"stats"`
}

// RegisterUserRequest is the input for local account registration. The
// password is already bcrypt-hashed by the caller.
type RegisterUserRequest struct {
	Email        string
	PasswordHash string
	Bio          string
	Relationship model.Relationship
	PrivacyLevel model.PrivacyLevel
}

// GoogleProfile is the identity extracted from a verified Google ID token.
type GoogleProfile struct {
	GoogleID  string
	Email     string
	Name      string
	AvatarURL string
}

// CreateLegacyRequest is the input for creating a legacy.
type CreateLegacyRequest struct {
	Name              string
	Relationship      model.Relationship
	Bio               string
	PersonalityTraits map[string]interface{}
	PhotoURL          string
	PhotoKey          string
	PhotoUpload       *model.Upload
}

// VoiceTrainingRequest records one completed voice training upload.
type VoiceTrainingRequest struct {
	AudioUpload *model.Upload
}

// CreateConversationRequest is the input for sending a message to a legacy.
type CreateConversationRequest struct {
	LegacyID      uuid.UUID
	Message       string
	EmotionalTone model.EmotionalTone
}

// ConversationExchange is the pair of rows a send produces.
type ConversationExchange struct {
	UserMessage *model.Conversation `json:"userMessage"`
	AIMessage   *model.Conversation `json:"aiMessage"`
}

// ConversationQuery filters conversation history.
type ConversationQuery struct {
	LegacyID *uuid.UUID
	Limit    int
	Offset   int
}

// MemoryKind discriminates the sources a memory item can come from.
type MemoryKind string

const (
	MemoryKindLegacy       MemoryKind = "legacy"
	MemoryKindConversation MemoryKind = "conversation"
	MemoryKindNote         MemoryKind = "note"
)

// ParseMemoryKind validates an API kind filter value; "" means all kinds.
func ParseMemoryKind(raw string) (*MemoryKind, error) {
	switch MemoryKind(raw) {
	case "":
		return nil, nil
	case MemoryKindLegacy, MemoryKindConversation, MemoryKindNote:
		kind := MemoryKind(raw)
		return &kind, nil
	default:
		return nil, fmt.Errorf("invalid memory kind %q; expected legacy, conversation, or note", raw)
	}
}

// MemoryItem is the tagged union over legacies, conversation messages, and
// free-form notes that the memories API exposes.
type MemoryItem struct {
	ID           uuid.UUID           `json:"id"`
	Kind         MemoryKind          `json:"kind"`
	Title        string              `json:"title"`
	Content      string              `json:"content"`
	LegacyID     *uuid.UUID          `json:"legacyId,omitempty"`
	LegacyName   string              `json:"legacyName,omitempty"`
	Tags         []string            `json:"tags,omitempty"`
	Emotion      string              `json:"emotion,omitempty"`
	MessageType  *model.MessageType  `json:"messageType,omitempty"`
	Relationship *model.Relationship `json:"relationship,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// MemoryQuery filters and paginates the memory union.
type MemoryQuery struct {
	LegacyID *uuid.UUID
	Kind     *MemoryKind
	Emotion  string
	Search   string
	Offset   int
	Limit    int
}

// MemoryPage is one page of the merged memory list.
type MemoryPage struct {
	Data    []MemoryItem `json:"data"`
	Total   int          `json:"total"`
	Offset  int          `json:"offset"`
	Limit   int          `json:"limit"`
	HasMore bool         `json:"hasMore"`
}

// CreateNoteRequest is the input for creating a text memory.
type CreateNoteRequest struct {
	LegacyID uuid.UUID
	Title    string
	Content  string
	Tags     []string
	Emotion  string
}

// UpdateMemoryRequest defines the mutable fields of a memory item. Nil
// pointers leave the field unchanged.
type UpdateMemoryRequest struct {
	Title   *string
	Content *string
	Tags    []string
	Emotion *string
}

// LegacyStore defines the primary data access interface for the EchoHeir
// service. Engagement writes (legacy creation, conversation sends, notes,
// voice training) advance the owner's streak inside the same transaction.
type LegacyStore interface {
	// Users
	RegisterUser(ctx context.Context, req RegisterUserRequest) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error)
	UpsertGoogleUser(ctx context.Context, profile GoogleProfile) (*model.User, error)

	// Sessions
	CreateSession(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*model.Session, error)
	GetSession(ctx context.Context, token string) (*model.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)

	// Dashboard
	GetDashboard(ctx context.Context, userID uuid.UUID) (*DashboardData, error)

	// Legacies
	CreateLegacy(ctx context.Context, userID uuid.UUID, req CreateLegacyRequest) (*model.Legacy, error)
	ListLegacies(ctx context.Context, userID uuid.UUID) ([]LegacySummary, error)
	GetLegacy(ctx context.Context, userID uuid.UUID, legacyID uuid.UUID) (*model.Legacy, error)
	RecordVoiceTraining(ctx context.Context, userID uuid.UUID, legacyID uuid.UUID, req VoiceTrainingRequest) (*model.Legacy, error)

	// Conversations
	CreateConversation(ctx context.Context, userID uuid.UUID, req CreateConversationRequest) (*ConversationExchange, error)
	ListConversations(ctx context.Context, userID uuid.UUID, query ConversationQuery) ([]model.Conversation, error)

	// Memories
	ListMemories(ctx context.Context, userID uuid.UUID, query MemoryQuery) (*MemoryPage, error)
	CreateNote(ctx context.Context, userID uuid.UUID, req CreateNoteRequest) (*MemoryItem, error)
	UpdateMemory(ctx context.Context, userID uuid.UUID, memoryID uuid.UUID, req UpdateMemoryRequest) (*MemoryItem, error)
	DeleteMemory(ctx context.Context, userID uuid.UUID, memoryID uuid.UUID) error

	// Uploads
	RecordUpload(ctx context.Context, upload *model.Upload) error
	GetUpload(ctx context.Context, userID uuid.UUID, uploadID uuid.UUID) (*model.Upload, error)
	ListOrphanUploads(ctx context.Context, olderThan time.Time, limit int) ([]model.Upload, error)
	HardDeleteUpload(ctx context.Context, uploadID uuid.UUID) error
}

// Loader creates a LegacyStore from config.
type Loader func(ctx context.Context) (LegacyStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
