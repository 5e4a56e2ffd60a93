package model

import (
	"time"

	"github.com/google/uuid"
)

// Relationship describes how a person relates to the user.
type Relationship string

const (
	RelationshipParent      Relationship = "parent"
	RelationshipGrandparent Relationship = "grandparent"
	RelationshipSibling     Relationship = "sibling"
	RelationshipPartner     Relationship = "partner"
	RelationshipChild       Relationship = "child"
	RelationshipFriend      Relationship = "friend"
	RelationshipOther       Relationship = "other"
)

// ValidRelationship reports whether r is a known relationship value.
func ValidRelationship(r Relationship) bool {
	switch r {
	case RelationshipParent, RelationshipGrandparent, RelationshipSibling,
		RelationshipPartner, RelationshipChild, RelationshipFriend, RelationshipOther:
		return true
	}
	return false
}

// PrivacyLevel controls who may see a user's legacies.
type PrivacyLevel string

const (
	PrivacyPrivate PrivacyLevel = "private"
	PrivacyFamily  PrivacyLevel = "family"
	PrivacyPublic  PrivacyLevel = "public"
)

// LegacyStatus marks whether a legacy is actively maintained.
type LegacyStatus string

const (
	LegacyStatusActive   LegacyStatus = "active"
	LegacyStatusInactive LegacyStatus = "inactive"
)

// MessageType distinguishes user messages from simulated persona replies.
type MessageType string

const (
	MessageTypeUser MessageType = "user"
	MessageTypeAI   MessageType = "ai"
)

// EmotionalTone classifies the mood of a conversation message or memory.
type EmotionalTone string

const (
	ToneNeutral    EmotionalTone = "neutral"
	ToneJoyful     EmotionalTone = "joyful"
	ToneNostalgic  EmotionalTone = "nostalgic"
	ToneComforting EmotionalTone = "comforting"
	ToneReflective EmotionalTone = "reflective"
	ToneSad        EmotionalTone = "sad"
)

// ActivityType is the audit-log category of an Activity.
type ActivityType string

const (
	ActivityLegacyCreated         ActivityType = "legacy_created"
	ActivityConversationSent      ActivityType = "conversation_sent"
	ActivityVoiceTrainingComplete ActivityType = "voice_training_complete"
	ActivityMemoryCreated         ActivityType = "memory_created"
)

// User is a registered EchoHeir account. Streak fields live on the user row and
// are only mutated through the store's engagement helper under a row lock.
type User struct {
	ID           uuid.UUID    `json:"id"                     gorm:"primaryKey;type:uuid"`
	Email        string       `json:"email"                  gorm:"uniqueIndex;not null"`
	PasswordHash *string      `json:"-"                      gorm:"column:password_hash"` // nil for OAuth-only accounts
	GoogleID     *string      `json:"-"                      gorm:"uniqueIndex"`
	Name         string       `json:"name,omitempty"`
	AvatarURL    string       `json:"avatarUrl,omitempty"`
	Bio          string       `json:"bio,omitempty"`
	Relationship Relationship `json:"relationship,omitempty"`
	PrivacyLevel PrivacyLevel `json:"privacyLevel"           gorm:"not null;default:'private'"`

	CurrentStreak      int        `json:"currentStreak"      gorm:"not null;default:0"`
	LongestStreak      int        `json:"longestStreak"      gorm:"not null;default:0"`
	LastActiveDate     *time.Time `json:"lastActiveDate,omitempty"`
	StreakUpdatedToday bool       `json:"-"                  gorm:"not null;default:false"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Legacy is a preserved profile of a loved one. Counters are denormalized for
// dashboard display and updated with atomic SQL expressions, floored at zero,
// in the same transaction as the row write that moves them.
type Legacy struct {
	ID           uuid.UUID    `json:"id"           gorm:"primaryKey;type:uuid"`
	UserID       uuid.UUID    `json:"userId"       gorm:"not null;index;type:uuid"`
	Name         string       `json:"name"         gorm:"not null"`
	Relationship Relationship `json:"relationship" gorm:"not null"`
	Bio          string       `json:"bio,omitempty"`
	PhotoURL     string       `json:"photoUrl,omitempty"`
	PhotoKey     *string      `json:"-"` // storage key so the cleanup service can remove the blob

	TotalMemories int `json:"totalMemories" gorm:"not null;default:0"`
	VoiceTraining int `json:"voiceTraining" gorm:"not null;default:0"`
	PhotoCount    int `json:"photoCount"    gorm:"not null;default:0"`
	AudioCount    int `json:"audioCount"    gorm:"not null;default:0"`
	TextCount     int `json:"textCount"     gorm:"not null;default:0"`

	Status            LegacyStatus           `json:"status"                      gorm:"not null;default:'active'"`
	LastActiveAt      *time.Time             `json:"lastActiveAt,omitempty"`
	RecentMessage     string                 `json:"recentMessage,omitempty"`
	PersonalityTraits map[string]interface{} `json:"personalityTraits,omitempty" gorm:"serializer:json"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (Legacy) TableName() string { return "legacies" }

// Conversation is a single chat message exchanged with a legacy persona.
type Conversation struct {
	ID              uuid.UUID     `json:"id"                        gorm:"primaryKey;type:uuid"`
	UserID          uuid.UUID     `json:"userId"                    gorm:"not null;index;type:uuid"`
	LegacyID        uuid.UUID     `json:"legacyId"                  gorm:"not null;index;type:uuid"`
	Message         string        `json:"message"                   gorm:"not null"`
	MessageType     MessageType   `json:"messageType"               gorm:"not null"`
	EmotionalTone   EmotionalTone `json:"emotionalTone"             gorm:"not null;default:'neutral'"`
	MemoryReference *string       `json:"memoryReference,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"                 gorm:"not null;index"`
}

func (Conversation) TableName() string { return "conversations" }

// ActivityMetadata carries the free-form payload of a "memory_created" note.
type ActivityMetadata struct {
	Title   string        `json:"title,omitempty"`
	Content string        `json:"content,omitempty"`
	Tags    []string      `json:"tags,omitempty"`
	Emotion EmotionalTone `json:"emotion,omitempty"`
	Type    string        `json:"type,omitempty"`
}

// Activity is an audit-log record of a user action. memory_created activities
// double as free-text notes via the Metadata field.
type Activity struct {
	ID             uuid.UUID         `json:"id"                       gorm:"primaryKey;type:uuid"`
	UserID         uuid.UUID         `json:"userId"                   gorm:"not null;index;type:uuid"`
	Type           ActivityType      `json:"type"                     gorm:"not null"`
	Message        string            `json:"message"                  gorm:"not null"`
	LegacyID       *uuid.UUID        `json:"legacyId,omitempty"       gorm:"type:uuid;index"`
	ConversationID *uuid.UUID        `json:"conversationId,omitempty" gorm:"type:uuid;index"`
	Metadata       *ActivityMetadata `json:"metadata,omitempty"       gorm:"serializer:json"`
	CreatedAt      time.Time         `json:"createdAt"                gorm:"not null;index"`
}

func (Activity) TableName() string { return "activities" }

// Session is a server-side session row backing the auth cookie.
type Session struct {
	ID        string    `json:"-"         gorm:"primaryKey"` // opaque token
	UserID    uuid.UUID `json:"userId"    gorm:"not null;index;type:uuid"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"not null;index"`
}

func (Session) TableName() string { return "sessions" }

// UploadKind classifies a stored blob.
type UploadKind string

const (
	UploadKindPhoto UploadKind = "photo"
	UploadKindAudio UploadKind = "audio"
)

// Upload tracks a stored blob so orphans can be cleaned up after the owning
// record goes away.
type Upload struct {
	ID          uuid.UUID  `json:"id"                 gorm:"primaryKey;type:uuid"`
	UserID      uuid.UUID  `json:"userId"             gorm:"not null;index;type:uuid"`
	LegacyID    *uuid.UUID `json:"legacyId,omitempty" gorm:"type:uuid;index"`
	Kind        UploadKind `json:"kind"               gorm:"not null"`
	StorageKey  string     `json:"-"                  gorm:"not null"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"contentType"        gorm:"not null"`
	Size        int64      `json:"size"`
	SHA256      string     `json:"sha256,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"          gorm:"not null"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

func (Upload) TableName() string { return "uploads" }
