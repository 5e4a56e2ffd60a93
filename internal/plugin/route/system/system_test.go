package system_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/echoheir/echoheir-service/internal/plugin/route/system"
	registryroute "github.com/echoheir/echoheir-service/internal/registry/route"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func setupSystemRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	for _, loader := range registryroute.ManagementRouteLoaders() {
		require.NoError(t, loader(router))
	}
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router := setupSystemRouter(t)

	for _, path := range []string{"/health", "/api/health"} {
		w := get(router, path)
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), "ok")
	}
}

func TestReady(t *testing.T) {
	router := setupSystemRouter(t)

	w := get(router, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	system.MarkReady()
	w = get(router, "/ready")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "ready")
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupSystemRouter(t)

	w := get(router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}
