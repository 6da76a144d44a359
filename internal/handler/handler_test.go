package handler

import (
	"Roomchat/internal/auth"
	"Roomchat/internal/hub"
	"Roomchat/internal/model"
	"Roomchat/internal/repo"
	"Roomchat/internal/service"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope[T any] struct {
	HttpStatusCode int
	ResponseBody   T
	IsSuccess      bool
	Message        string
}

type roomFixture struct {
	router    *gin.Engine
	store     *repo.MemoryMessageStore
	directory *repo.MemoryProjectDirectory
	tokens    *auth.JWTProvider
}

func newRoomFixture(t *testing.T) *roomFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repo.NewMemoryMessageStore()
	directory := repo.NewMemoryProjectDirectory()
	directory.Grant("7", "alice")
	tokens := auth.NewJWTProvider(auth.JWTConfig{Secret: "test-secret", Issuer: "roomchat"})

	h := NewRoomHandler(service.NewRoomService(store, directory, 5, 10), tokens, zap.NewNop())
	router := gin.New()
	router.GET("/cf/api/rooms/:roomId/messages", h.GetRoomMessages)

	return &roomFixture{router: router, store: store, directory: directory, tokens: tokens}
}

func (f *roomFixture) seed(t *testing.T, roomID string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := f.store.Append(context.Background(), model.NewMessage{
			RoomID: roomID, AuthorID: "alice", Kind: model.MessageKindText, Body: fmt.Sprintf("m%d", i),
		})
		require.NoError(t, err)
	}
}

func (f *roomFixture) get(t *testing.T, userID, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if userID != "" {
		token, err := f.tokens.IssueToken(userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodePage(t *testing.T, rec *httptest.ResponseRecorder) service.HistoryPage {
	t.Helper()
	var body envelope[service.HistoryPage]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.IsSuccess)
	return body.ResponseBody
}

func messageIDs(msgs []model.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestGetRoomMessages_PagesProjectRoom(t *testing.T) {
	f := newRoomFixture(t)
	f.seed(t, "project:7", 8)

	rec := f.get(t, "alice", "/cf/api/rooms/project:7/messages")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodePage(t, rec)
	assert.Equal(t, "project:7", page.RoomID)
	assert.Equal(t, []int64{4, 5, 6, 7, 8}, messageIDs(page.Messages))
	assert.True(t, page.HasMore)

	rec = f.get(t, "alice", "/cf/api/rooms/project:7/messages?before=4&limit=50")
	require.Equal(t, http.StatusOK, rec.Code)
	page = decodePage(t, rec)
	assert.Equal(t, []int64{1, 2, 3}, messageIDs(page.Messages))
	assert.False(t, page.HasMore)
}

func TestGetRoomMessages_SupportRoomIsOpen(t *testing.T) {
	f := newRoomFixture(t)

	rec := f.get(t, "bob", "/cf/api/rooms/support/messages")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodePage(t, rec)
	assert.NotNil(t, page.Messages)
	assert.Empty(t, page.Messages)
	assert.False(t, page.HasMore)
}

func TestGetRoomMessages_Errors(t *testing.T) {
	f := newRoomFixture(t)

	tests := []struct {
		name   string
		userID string
		target string
		status int
	}{
		{"missing token", "", "/cf/api/rooms/support/messages", http.StatusUnauthorized},
		{"not a project member", "bob", "/cf/api/rooms/project:7/messages", http.StatusForbidden},
		{"unknown room", "alice", "/cf/api/rooms/lobby/messages", http.StatusNotFound},
		{"bad before", "alice", "/cf/api/rooms/support/messages?before=x", http.StatusBadRequest},
		{"negative limit", "alice", "/cf/api/rooms/support/messages?limit=-1", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(t, tt.userID, tt.target)
			assert.Equal(t, tt.status, rec.Code)

			var body envelope[any]
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.IsSuccess)
			assert.Equal(t, tt.status, body.HttpStatusCode)
		})
	}

	f.directory.FailWith(errors.New("directory down"))
	rec := f.get(t, "alice", "/cf/api/rooms/project:7/messages")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMonitorHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := hub.NewHub(hub.Options{}, repo.NewMemoryMessageStore(), repo.NewMemoryProjectDirectory(),
		auth.NewDirectoryProvider(repo.NewMemoryUserRepository()), zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, h.Stop(ctx))
	})

	mh := NewMonitorHandler(hub.NewMonitorService(h))
	router := gin.New()
	router.GET("/cf/api/monitor/stats", mh.GetHubStats)
	router.GET("/health", mh.Health)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cf/api/monitor/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats envelope[model.MonitorResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.True(t, stats.IsSuccess)
	assert.Equal(t, "idle", stats.ResponseBody.Status)
	assert.Equal(t, 0, stats.ResponseBody.Rooms.TotalRooms)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","hub":"idle","connections":0}`, rec.Body.String())
}
