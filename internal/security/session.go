package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/echoheir/echoheir-service/internal/config"
	"github.com/echoheir/echoheir-service/internal/model"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// ContextKeyUserID is the gin context key for the authenticated user ID.
	ContextKeyUserID = "userID"
)

// GetUserID returns the authenticated user ID from the gin context.
func GetUserID(c *gin.Context) uuid.UUID {
	v, _ := c.Get(ContextKeyUserID)
	id, _ := v.(uuid.UUID)
	return id
}

// NewSessionToken generates an opaque 256-bit session token.
func NewSessionToken() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

// SessionAuth resolves session cookies to authenticated users. It is
// initialized once at startup and shared by all route plugins.
type SessionAuth struct {
	store       registrystore.LegacyStore
	cookieName  string
	ttl         time.Duration
	secure      bool
	testingMode bool
}

// NewSessionAuth creates a SessionAuth from the application config.
func NewSessionAuth(cfg *config.Config, store registrystore.LegacyStore) *SessionAuth {
	return &SessionAuth{
		store:       store,
		cookieName:  cfg.SessionCookieName,
		ttl:         cfg.SessionTTL,
		secure:      !cfg.IsDev(),
		testingMode: cfg.Mode == config.ModeTesting,
	}
}

// Issue creates a session row for the user and sets the session cookie on the
// response.
func (a *SessionAuth) Issue(c *gin.Context, userID uuid.UUID) (*model.Session, error) {
	session, err := a.store.CreateSession(c.Request.Context(), userID, a.ttl)
	if err != nil {
		return nil, err
	}
	a.setCookie(c, session.ID, int(a.ttl.Seconds()))
	return session, nil
}

// Clear deletes the current session row (if any) and expires the cookie.
func (a *SessionAuth) Clear(c *gin.Context) error {
	token, err := c.Cookie(a.cookieName)
	a.setCookie(c, "", -1)
	if err != nil || token == "" {
		return nil
	}
	if err := a.store.DeleteSession(c.Request.Context(), token); err != nil {
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

func (a *SessionAuth) setCookie(c *gin.Context, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     a.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// resolve looks up the session cookie and returns the owning user ID.
func (a *SessionAuth) resolve(c *gin.Context) (uuid.UUID, bool) {
	// Testing mode accepts an explicit identity header so handler tests can
	// run without a session fixture. Never honored outside testing mode.
	if a.testingMode {
		if hdr := strings.TrimSpace(c.GetHeader("X-User-ID")); hdr != "" {
			if id, err := uuid.Parse(hdr); err == nil {
				return id, true
			}
		}
	}

	token, err := c.Cookie(a.cookieName)
	if err != nil || token == "" {
		return uuid.Nil, false
	}
	session, err := a.store.GetSession(c.Request.Context(), token)
	if err != nil {
		var notFound *registrystore.NotFoundError
		if !errors.As(err, &notFound) {
			log.Error("Session lookup failed", "err", err)
		}
		return uuid.Nil, false
	}
	if time.Now().After(session.ExpiresAt) {
		return uuid.Nil, false
	}
	return session.UserID, true
}

// Middleware requires a valid session and stores the user ID in the gin
// context. Expired or missing sessions get a 401.
func (a *SessionAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := a.resolve(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// OptionalMiddleware resolves the session if present but never rejects the
// request. Used by status endpoints that report whether a caller is signed in.
func (a *SessionAuth) OptionalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, ok := a.resolve(c); ok {
			c.Set(ContextKeyUserID, userID)
		}
		c.Next()
	}
}
