package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/echoheir/echoheir-service/internal/config"
	"github.com/echoheir/echoheir-service/internal/model"
	registryroute "github.com/echoheir/echoheir-service/internal/registry/route"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/echoheir/echoheir-service/internal/security"
	"github.com/gin-gonic/gin"
)

const stateCookieName = "echoheir_oauth_state"

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 10,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts the auth routes. google may be nil when Google sign-in
// is not configured.
func MountRoutes(r *gin.Engine, store registrystore.LegacyStore, cfg *config.Config, sessions *security.SessionAuth, google *security.GoogleAuthenticator) {
	g := r.Group("/api/auth")

	g.POST("/register", func(c *gin.Context) {
		register(c, store, cfg, sessions)
	})
	g.POST("/login", func(c *gin.Context) {
		login(c, store, cfg, sessions)
	})
	g.POST("/logout", func(c *gin.Context) {
		logout(c, sessions)
	})
	g.GET("/me", sessions.Middleware(), func(c *gin.Context) {
		me(c, store, cfg)
	})
	g.GET("/status", sessions.OptionalMiddleware(), func(c *gin.Context) {
		_, authenticated := c.Get(security.ContextKeyUserID)
		c.JSON(http.StatusOK, gin.H{"authenticated": authenticated})
	})

	if google != nil {
		r.GET("/auth/google", func(c *gin.Context) {
			googleRedirect(c, cfg, google)
		})
		r.GET("/auth/google/callback", func(c *gin.Context) {
			googleCallback(c, store, cfg, sessions, google)
		})
	}
}

func register(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config, sessions *security.SessionAuth) {
	var req struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		Bio          string `json:"bio"`
		Relationship string `json:"relationship"`
		PrivacyLevel string `json:"privacyLevel"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "password is required", "field": "password"})
		return
	}
	hash, err := security.HashPassword(req.Password)
	if err != nil {
		handleError(c, cfg, err)
		return
	}

	user, err := store.RegisterUser(c.Request.Context(), registrystore.RegisterUserRequest{
		Email:        req.Email,
		PasswordHash: hash,
		Bio:          req.Bio,
		Relationship: model.Relationship(req.Relationship),
		PrivacyLevel: model.PrivacyLevel(req.PrivacyLevel),
	})
	if err != nil {
		handleError(c, cfg, err)
		return
	}
	if _, err := sessions.Issue(c, user.ID); err != nil {
		handleError(c, cfg, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func login(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config, sessions *security.SessionAuth) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := store.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		handleError(c, cfg, err)
		return
	}
	if user.PasswordHash == nil || !security.CheckPassword(*user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if _, err := sessions.Issue(c, user.ID); err != nil {
		handleError(c, cfg, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func logout(c *gin.Context, sessions *security.SessionAuth) {
	if err := sessions.Clear(c); err != nil {
		log.Error("Logout failed to clear session", "err", err)
	}
	c.Status(http.StatusNoContent)
}

func me(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config) {
	user, err := store.GetUser(c.Request.Context(), security.GetUserID(c))
	if err != nil {
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			// Session points at a deleted account.
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		handleError(c, cfg, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func googleRedirect(c *gin.Context, cfg *config.Config, google *security.GoogleAuthenticator) {
	state, err := security.NewSessionToken()
	if err != nil {
		handleError(c, cfg, err)
		return
	}
	state = state[:32]
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   !cfg.IsDev(),
		SameSite: http.SameSiteLaxMode,
	})
	c.Redirect(http.StatusFound, google.AuthCodeURL(state))
}

func googleCallback(c *gin.Context, store registrystore.LegacyStore, cfg *config.Config, sessions *security.SessionAuth, google *security.GoogleAuthenticator) {
	state, err := c.Cookie(stateCookieName)
	if err != nil || state == "" || c.Query("state") != state {
		c.JSON(http.StatusBadRequest, gin.H{"error": "oauth state mismatch"})
		return
	}
	// One-shot: clear the state cookie regardless of outcome.
	http.SetCookie(c.Writer, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing authorization code"})
		return
	}

	profile, err := google.Exchange(c.Request.Context(), code)
	if err != nil {
		log.Warn("Google sign-in failed", "err", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "google sign-in failed"})
		return
	}
	user, err := store.UpsertGoogleUser(c.Request.Context(), *profile)
	if err != nil {
		handleError(c, cfg, err)
		return
	}
	if _, err := sessions.Issue(c, user.ID); err != nil {
		handleError(c, cfg, err)
		return
	}
	c.Redirect(http.StatusFound, cfg.FrontendURL)
}

func handleError(c *gin.Context, cfg *config.Config, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		body := gin.H{"error": "internal server error"}
		if cfg.IsDev() {
			body["detail"] = err.Error()
		}
		c.JSON(http.StatusInternalServerError, body)
	}
}
