// Package gormstore holds the GORM implementation of the legacy store,
// shared by the postgres and sqlite plugins.
package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/echoheir/echoheir-service/internal/config"
	"github.com/echoheir/echoheir-service/internal/engagement"
	"github.com/echoheir/echoheir-service/internal/model"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/echoheir/echoheir-service/internal/security"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store implements registrystore.LegacyStore over a GORM database handle.
type Store struct {
	db  *gorm.DB
	cfg *config.Config
}

// New wraps a GORM handle in a Store.
func New(db *gorm.DB, cfg *config.Config) *Store {
	return &Store{db: db, cfg: cfg}
}

// Models returns every model the store persists, in migration order.
func Models() []any {
	return []any{
		&model.User{},
		&model.Session{},
		&model.Legacy{},
		&model.Conversation{},
		&model.Activity{},
		&model.Upload{},
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	// sqlite driver surfaces constraint failures as plain errors
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// lockForUpdate adds a row lock on dialects that support it. SQLite
// serializes writers on its own.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// touchStreak advances the owning user's streak as part of an engagement
// write. Runs inside the caller's transaction with the user row locked so
// concurrent requests cannot double-count a day.
func (s *Store) touchStreak(tx *gorm.DB, userID uuid.UUID, now time.Time) error {
	var user model.User
	if err := lockForUpdate(tx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &registrystore.NotFoundError{Resource: "user", ID: userID.String()}
		}
		return err
	}

	before := engagement.Streak{
		Current:        user.CurrentStreak,
		Longest:        user.LongestStreak,
		LastActiveDate: user.LastActiveDate,
		UpdatedToday:   user.StreakUpdatedToday,
	}
	after, changed := engagement.Touch(before, now, s.cfg.StreakLocation())
	if !changed {
		observeStreak("noop")
		return nil
	}

	switch {
	case before.LastActiveDate == nil:
		observeStreak("started")
	case after.Current == 1:
		observeStreak("reset")
	default:
		observeStreak("advanced")
	}

	return tx.Model(&model.User{}).Where("id = ?", userID).Updates(map[string]any{
		"current_streak":       after.Current,
		"longest_streak":       after.Longest,
		"last_active_date":     after.LastActiveDate,
		"streak_updated_today": after.UpdatedToday,
	}).Error
}

func observeStreak(outcome string) {
	if security.StreakAdvancesTotal != nil {
		security.StreakAdvancesTotal.WithLabelValues(outcome).Inc()
	}
}

// --- Users ---

func (s *Store) RegisterUser(ctx context.Context, req registrystore.RegisterUserRequest) (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &registrystore.ValidationError{Field: "email", Message: "a valid email is required"}
	}
	if req.PasswordHash == "" {
		return nil, &registrystore.ValidationError{Field: "password", Message: "password is required"}
	}
	if req.Relationship != "" && !model.ValidRelationship(req.Relationship) {
		return nil, &registrystore.ValidationError{Field: "relationship", Message: "unknown relationship"}
	}
	privacy := req.PrivacyLevel
	if privacy == "" {
		privacy = model.PrivacyPrivate
	}

	user := model.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: &req.PasswordHash,
		Bio:          req.Bio,
		Relationship: req.Relationship,
		PrivacyLevel: privacy,
		CreatedAt:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, &registrystore.ConflictError{Message: "email already registered"}
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: email}
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: userID.String()}
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpsertGoogleUser finds the account for a verified Google identity. Matches
// by Google subject first, then links by email, then registers a new
// password-less account.
func (s *Store) UpsertGoogleUser(ctx context.Context, profile registrystore.GoogleProfile) (*model.User, error) {
	if profile.GoogleID == "" || profile.Email == "" {
		return nil, &registrystore.ValidationError{Field: "googleId", Message: "google identity is incomplete"}
	}
	email := strings.ToLower(profile.Email)

	var user model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&user, "google_id = ?", profile.GoogleID).Error
		if err == nil {
			return tx.Model(&user).Updates(map[string]any{
				"name":       profile.Name,
				"avatar_url": profile.AvatarURL,
			}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		err = tx.First(&user, "email = ?", email).Error
		if err == nil {
			log.Info("Linking google identity to existing account", "email", email)
			return tx.Model(&user).Updates(map[string]any{
				"google_id":  profile.GoogleID,
				"name":       profile.Name,
				"avatar_url": profile.AvatarURL,
			}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		user = model.User{
			ID:           uuid.New(),
			Email:        email,
			GoogleID:     &profile.GoogleID,
			Name:         profile.Name,
			AvatarURL:    profile.AvatarURL,
			PrivacyLevel: model.PrivacyPrivate,
			CreatedAt:    time.Now(),
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, err
	}
	// Re-read so callers see the linked fields.
	return s.GetUser(ctx, user.ID)
}

// --- Sessions ---

func (s *Store) CreateSession(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*model.Session, error) {
	token, err := security.NewSessionToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	session := model.Session{
		ID:        token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) GetSession(ctx context.Context, token string) (*model.Session, error) {
	var session model.Session
	err := s.db.WithContext(ctx).First(&session, "id = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "session", ID: "redacted"}
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	res := s.db.WithContext(ctx).Delete(&model.Session{}, "id = ?", token)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "session", ID: "redacted"}
	}
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&model.Session{}, "expires_at < ?", time.Now())
	return res.RowsAffected, res.Error
}
