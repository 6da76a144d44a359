package approuters

import (
	"Roomchat/internal/configuration"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testContainer(t *testing.T, origins []string) *configuration.Container {
	t.Helper()
	gin.SetMode(gin.TestMode)

	v, err := configuration.NewViper("")
	require.NoError(t, err)
	v.Set("store.driver", "memory")
	v.Set("server.allowed_origins", origins)

	config, err := configuration.LoadConfig(v)
	require.NoError(t, err)
	container, err := configuration.BuildContainer(config, zap.NewNop())
	require.NoError(t, err)
	return container
}

func TestNewRouter_Routes(t *testing.T) {
	container := testContainer(t, []string{"https://chat.example.com"})
	router := NewRouter(container)

	for _, target := range []string{"/", "/health", "/cf/api/monitor/stats"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, rec.Code, target)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cf/api/rooms/support/messages", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "directory mode still needs a user id")

	req := httptest.NewRequest(http.MethodGet, "/cf/api/rooms/support/messages", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "https://chat.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, shutdown(ctx, container, &http.Server{}, &http.Server{}))
}

func TestNewRouter_RejectsUnknownOrigins(t *testing.T) {
	container := testContainer(t, []string{})
	router := NewRouter(container)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, shutdown(ctx, container, &http.Server{}, &http.Server{}))
}
