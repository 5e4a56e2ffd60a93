package dashboard_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/echoheir/echoheir-service/internal/config"
	"github.com/echoheir/echoheir-service/internal/model"
	"github.com/echoheir/echoheir-service/internal/plugin/route/dashboard"
	"github.com/echoheir/echoheir-service/internal/plugin/store/postgres"
	registrycache "github.com/echoheir/echoheir-service/internal/registry/cache"
	registrymigrate "github.com/echoheir/echoheir-service/internal/registry/migrate"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"github.com/echoheir/echoheir-service/internal/security"
	"github.com/echoheir/echoheir-service/internal/testutil/testpg"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// mapCache is a synchronous DashboardCache so cache behavior is observable
// without ristretto's write buffering.
type mapCache struct {
	mu   sync.Mutex
	data map[uuid.UUID]registrystore.DashboardData
	hits int
	sets int
}

func newMapCache() *mapCache {
	return &mapCache{data: map[uuid.UUID]registrystore.DashboardData{}}
}

func (c *mapCache) Available() bool { return true }

func (c *mapCache) Get(_ context.Context, userID uuid.UUID) (*registrystore.DashboardData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if data, ok := c.data[userID]; ok {
		c.hits++
		return &data, nil
	}
	return nil, nil
}

func (c *mapCache) Set(_ context.Context, userID uuid.UUID, data registrystore.DashboardData, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[userID] = data
	c.sets++
	return nil
}

func (c *mapCache) Remove(_ context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, userID)
	return nil
}

var _ registrycache.DashboardCache = (*mapCache)(nil)

func setupDashboardRouter(t *testing.T, cache registrycache.DashboardCache) (*gin.Engine, registrystore.LegacyStore, uuid.UUID) {
	t.Helper()

	security.InitMetrics(nil)
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
		Email:        "dash@example.com",
		PasswordHash: "hash",
	})
	require.NoError(t, err)

	_, err = store.CreateLegacy(ctx, user.ID, registrystore.CreateLegacyRequest{
		Name:         "Grandma Rosa",
		Relationship: model.RelationshipGrandparent,
	})
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	sessions := security.NewSessionAuth(&cfg, store)
	dashboard.MountRoutes(router, store, &cfg, sessions, cache)
	return router, store, user.ID
}

func getDashboard(t *testing.T, router *gin.Engine, userID uuid.UUID) registrystore.DashboardData {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	req.Header.Set("X-User-ID", userID.String())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var data registrystore.DashboardData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
	return data
}

func TestGetDashboard(t *testing.T) {
	router, _, userID := setupDashboardRouter(t, nil)

	data := getDashboard(t, router, userID)
	require.Equal(t, "Dash", data.User.DisplayName)
	require.Equal(t, 1, data.User.CurrentStreak)
	require.Equal(t, int64(1), data.Stats.ActiveLegacies)
	require.Len(t, data.Legacies, 1)
	require.NotEmpty(t, data.RecentActivities)
}

func TestGetDashboard_UnknownUser(t *testing.T) {
	router, _, _ := setupDashboardRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	req.Header.Set("X-User-ID", uuid.NewString())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDashboard_ServesFromCache(t *testing.T) {
	cache := newMapCache()
	router, _, userID := setupDashboardRouter(t, cache)

	first := getDashboard(t, router, userID)
	require.Equal(t, 1, cache.sets)
	require.Equal(t, 0, cache.hits)

	second := getDashboard(t, router, userID)
	require.Equal(t, 1, cache.hits)
	require.Equal(t, first.User.ID, second.User.ID)
	// The second read never reached the store for a fresh snapshot.
	require.Equal(t, 1, cache.sets)
}

func TestGetDashboard_AliasPath(t *testing.T) {
	router, _, userID := setupDashboardRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/me", nil)
	req.Header.Set("X-User-ID", userID.String())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
