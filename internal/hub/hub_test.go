package hub

import (
	"Roomchat/internal/auth"
	"Roomchat/internal/event"
	"Roomchat/internal/model"
	"Roomchat/internal/repo"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const readTimeout = 3 * time.Second

type testEnv struct {
	hub       *Hub
	server    *httptest.Server
	store     *repo.MemoryMessageStore
	directory *repo.MemoryProjectDirectory
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	users := repo.NewMemoryUserRepository()
	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, users.SaveUser(context.Background(), model.User{UserID: id, IsActive: true}))
	}

	directory := repo.NewMemoryProjectDirectory()
	directory.Grant("7", "alice")

	store := repo.NewMemoryMessageStore()
	h := NewHub(opts, repo.NewCachedStore(store, 50, zap.NewNop()), directory, auth.NewDirectoryProvider(users), zap.NewNop())
	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, h.Stop(ctx))
		server.Close()
	})

	return &testEnv{hub: h, server: server, store: store, directory: directory}
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T) *testConn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testConn{t: t, conn: conn}
}

// login dials and completes the handshake as userID.
func (e *testEnv) login(t *testing.T, userID string) *testConn {
	t.Helper()

	tc := e.dial(t)
	tc.send(event.EventAuthenticate, event.AuthenticatePayload{UserID: userID})
	var p event.AuthenticatedPayload
	tc.expect(event.EventAuthenticated, &p)
	require.Equal(t, userID, p.UserID)
	return tc
}

func (tc *testConn) send(name string, payload any) {
	tc.t.Helper()

	ev, err := event.New(name, payload)
	require.NoError(tc.t, err)
	require.NoError(tc.t, tc.conn.WriteJSON(ev))
}

// expect reads until an event called name arrives and decodes its payload.
func (tc *testConn) expect(name string, dst any) {
	tc.t.Helper()

	require.NoError(tc.t, tc.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		var ev event.WsEvent
		err := tc.conn.ReadJSON(&ev)
		require.NoError(tc.t, err, "waiting for %s", name)
		if ev.Event != name {
			continue
		}
		if dst != nil {
			require.NoError(tc.t, ev.Decode(dst))
		}
		return
	}
}

// expectClose reads until the server closes the connection and returns the
// close code.
func (tc *testConn) expectClose() int {
	tc.t.Helper()

	require.NoError(tc.t, tc.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		_, _, err := tc.conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(tc.t, errors.As(err, &ce), "expected a close frame, got %v", err)
		return ce.Code
	}
}

func (tc *testConn) join(projectID string) event.RoomJoinedPayload {
	tc.t.Helper()

	if projectID == "" {
		tc.send(event.EventJoinSupportRoom, nil)
	} else {
		tc.send(event.EventJoinProjectRoom, event.JoinProjectRoomPayload{ProjectID: projectID})
	}
	var joined event.RoomJoinedPayload
	tc.expect(event.EventRoomJoined, &joined)
	return joined
}

func (tc *testConn) expectError(code string) model.ErrorPayload {
	tc.t.Helper()

	var p model.ErrorPayload
	tc.expect(event.EventError, &p)
	require.Equal(tc.t, code, p.Code, "error message: %s", p.Message)
	return p
}

func TestHub_SameUserTwoConnectionsReceiveMessage(t *testing.T) {
	env := newTestEnv(t, Options{})

	first := env.login(t, "alice")
	second := env.login(t, "alice")

	joined := first.join("7")
	assert.Equal(t, "project:7", joined.Room.ID)
	assert.Equal(t, model.RoomKindProject, joined.Room.Kind)
	assert.Empty(t, joined.Messages)
	second.join("7")

	first.send(event.EventSendMessage, event.SendMessagePayload{RoomID: "project:7", Message: "Hallo"})

	var got1, got2 event.MessagePayload
	first.expect(event.EventNewMessage, &got1)
	second.expect(event.EventNewMessage, &got2)

	assert.Equal(t, int64(1), got1.Message.ID)
	assert.Equal(t, got1.Message.ID, got2.Message.ID)
	assert.Equal(t, "Hallo", got1.Message.Body)
	assert.Equal(t, "Hallo", got2.Message.Body)
	assert.Equal(t, "alice", got1.Message.AuthorID)
	assert.Equal(t, model.MessageKindText, got1.Message.Kind)

	// a fresh join returns the message as history
	third := env.login(t, "alice")
	rejoined := third.join("7")
	require.Len(t, rejoined.Messages, 1)
	assert.Equal(t, "Hallo", rejoined.Messages[0].Body)
}

func TestHub_ForbiddenProjectLeavesMembershipUntouched(t *testing.T) {
	env := newTestEnv(t, Options{})

	alice := env.login(t, "alice")
	alice.join("7")

	bob := env.login(t, "bob")
	bob.send(event.EventJoinProjectRoom, event.JoinProjectRoomPayload{ProjectID: "7"})
	p := bob.expectError(event.CodeForbidden)
	assert.Equal(t, event.EventJoinProjectRoom, p.Event)

	members := env.hub.Rooms().MembersOf("project:7")
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].UserID())

	// the connection stays open
	bob.send(event.EventPing, nil)
	bob.expect(event.EventPong, nil)
}

func TestHub_AuthTimeoutRemovesConnection(t *testing.T) {
	env := newTestEnv(t, Options{AuthTimeout: 200 * time.Millisecond})

	idle := env.dial(t)
	assert.Eventually(t, func() bool {
		conns, _, _ := env.hub.Sessions().Count()
		return conns == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, websocket.ClosePolicyViolation, idle.expectClose())
	assert.Eventually(t, func() bool {
		conns, _, _ := env.hub.Sessions().Count()
		return conns == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, env.hub.Rooms().Snapshot())
}

func TestHub_AuthenticationIsSingleAttempt(t *testing.T) {
	env := newTestEnv(t, Options{})

	tc := env.dial(t)
	tc.send(event.EventAuthenticate, event.AuthenticatePayload{UserID: "mallory"})

	var p event.AuthenticationErrorPayload
	tc.expect(event.EventAuthenticationError, &p)
	assert.Equal(t, auth.ErrUnknownUser.Error(), p.Reason)
	assert.Equal(t, websocket.ClosePolicyViolation, tc.expectClose())
}

func TestHub_RequiresAuthenticationAndMembership(t *testing.T) {
	env := newTestEnv(t, Options{})

	anon := env.dial(t)
	anon.send(event.EventJoinSupportRoom, nil)
	anon.expectError(event.CodeNotAuthenticated)

	alice := env.login(t, "alice")
	alice.send(event.EventAuthenticate, event.AuthenticatePayload{UserID: "alice"})
	alice.expectError(event.CodeAlreadyAuthenticated)

	alice.send(event.EventSendMessage, event.SendMessagePayload{RoomID: model.SupportRoomID, Message: "hi"})
	alice.expectError(event.CodeNotInRoom)

	alice.send("shout", nil)
	alice.expectError(event.CodeUnknownEvent)

	alice.join("")
	alice.send(event.EventSendMessage, event.SendMessagePayload{RoomID: model.SupportRoomID, MessageType: model.MessageKindFile})
	alice.expectError(event.CodeInvalidPayload)
}

func TestHub_TypingExpiresForOtherMembers(t *testing.T) {
	env := newTestEnv(t, Options{TypingTTL: 300 * time.Millisecond, TypingSweep: 50 * time.Millisecond})

	alice := env.login(t, "alice")
	bob := env.login(t, "bob")
	alice.join("")
	bob.join("")

	alice.send(event.EventTypingStart, event.RoomPayload{RoomID: model.SupportRoomID})

	var started event.UserTypingPayload
	bob.expect(event.EventUserTyping, &started)
	assert.Equal(t, "alice", started.UserID)
	assert.True(t, started.IsTyping)
	assert.Equal(t, []string{"alice"}, started.TypingUsers)

	// no typing_stop: the sweep reports the expiry
	var stopped event.UserTypingPayload
	bob.expect(event.EventUserTyping, &stopped)
	assert.Equal(t, "alice", stopped.UserID)
	assert.False(t, stopped.IsTyping)
	assert.Empty(t, stopped.TypingUsers)
	assert.False(t, env.hub.Typing().IsTyping(model.SupportRoomID, "alice"))

	// the typing user never hears about itself
	alice.send(event.EventPing, nil)
	alice.expect(event.EventPong, nil)
}

func TestHub_StoreFailureIsReportedAndRecoverable(t *testing.T) {
	env := newTestEnv(t, Options{})

	alice := env.login(t, "alice")
	alice.join("")

	env.store.FailWith(func(op string) error {
		if op == "append" {
			return errors.New("store offline")
		}
		return nil
	})
	alice.send(event.EventSendMessage, event.SendMessagePayload{RoomID: model.SupportRoomID, Message: "lost"})
	p := alice.expectError(event.CodeStoreUnavailable)
	assert.Equal(t, model.SupportRoomID, p.RoomID)
	assert.Len(t, env.hub.Rooms().MembersOf(model.SupportRoomID), 1, "membership is unaffected")

	env.store.FailWith(nil)
	alice.send(event.EventSendMessage, event.SendMessagePayload{RoomID: model.SupportRoomID, Message: "kept"})
	var got event.MessagePayload
	alice.expect(event.EventNewMessage, &got)
	assert.Equal(t, int64(1), got.Message.ID)
}

func TestHub_ConcurrentSendersAreDeliveredInOrder(t *testing.T) {
	env := newTestEnv(t, Options{})

	observer := env.login(t, "carol")
	observer.join("")

	const senders, perSender = 3, 10
	conns := make([]*testConn, senders)
	for i := range conns {
		conns[i] = env.login(t, []string{"alice", "bob", "carol"}[i])
		conns[i].join("")
	}

	var wg sync.WaitGroup
	for _, tc := range conns {
		wg.Add(1)
		go func(tc *testConn) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				ev, _ := event.New(event.EventSendMessage, event.SendMessagePayload{RoomID: model.SupportRoomID, Message: "m"})
				if err := tc.conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}(tc)
	}
	wg.Wait()

	for want := int64(1); want <= senders*perSender; want++ {
		var got event.MessagePayload
		observer.expect(event.EventNewMessage, &got)
		require.Equal(t, want, got.Message.ID)
	}
}

func TestHub_EditReactAndHistory(t *testing.T) {
	env := newTestEnv(t, Options{})

	alice := env.login(t, "alice")
	bob := env.login(t, "bob")
	alice.join("")
	bob.join("")

	for _, body := range []string{"one", "two", "three"} {
		alice.send(event.EventSendMessage, event.SendMessagePayload{RoomID: model.SupportRoomID, Message: body})
		alice.expect(event.EventNewMessage, nil)
	}

	bob.send(event.EventEditMessage, event.EditMessagePayload{RoomID: model.SupportRoomID, MessageID: 2, Message: "mine now"})
	bob.expectError(event.CodeNotAuthor)

	alice.send(event.EventEditMessage, event.EditMessagePayload{RoomID: model.SupportRoomID, MessageID: 2, Message: "two!"})
	var edited event.MessagePayload
	bob.expect(event.EventMessageEdited, &edited)
	assert.Equal(t, int64(2), edited.Message.ID)
	assert.Equal(t, "two!", edited.Message.Body)
	assert.True(t, edited.Message.Edited)

	// toggle without roomId while in a single room
	bob.send(event.EventReactToMessage, event.ReactPayload{MessageID: 2, Emoji: "👍"})
	var added event.ReactionUpdatedPayload
	alice.expect(event.EventMessageReactionUpdated, &added)
	assert.Equal(t, model.ReactionAdded, added.Action)
	assert.Equal(t, "bob", added.UserID)
	assert.Equal(t, model.SupportRoomID, added.RoomID)

	bob.send(event.EventReactToMessage, event.ReactPayload{MessageID: 2, Emoji: "👍"})
	var removed event.ReactionUpdatedPayload
	alice.expect(event.EventMessageReactionUpdated, &removed)
	assert.Equal(t, model.ReactionRemoved, removed.Action)

	bob.send(event.EventReactToMessage, event.ReactPayload{MessageID: 99, Emoji: "👍"})
	bob.expectError(event.CodeMessageNotFound)

	missing := int64(42)
	bob.send(event.EventSendMessage, event.SendMessagePayload{RoomID: model.SupportRoomID, Message: "re", ReplyTo: &missing})
	bob.expectError(event.CodeMessageNotFound)

	bob.send(event.EventLoadHistory, event.LoadHistoryPayload{RoomID: model.SupportRoomID, Limit: 2})
	var page event.RoomHistoryPayload
	bob.expect(event.EventRoomHistory, &page)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, int64(2), page.Messages[0].ID)
	assert.Equal(t, "two!", page.Messages[0].Body)
	assert.True(t, page.HasMore)

	bob.send(event.EventLoadHistory, event.LoadHistoryPayload{RoomID: model.SupportRoomID, BeforeMessageID: 2, Limit: 2})
	var older event.RoomHistoryPayload
	bob.expect(event.EventRoomHistory, &older)
	require.Len(t, older.Messages, 1)
	assert.Equal(t, int64(1), older.Messages[0].ID)
	assert.False(t, older.HasMore)
}

func TestHub_LeaveAndDisconnectCleanUp(t *testing.T) {
	env := newTestEnv(t, Options{})

	alice := env.login(t, "alice")
	bob := env.login(t, "bob")
	alice.join("")
	alice.join("7")
	bob.join("")

	bob.send(event.EventTypingStart, event.RoomPayload{RoomID: model.SupportRoomID})
	alice.expect(event.EventUserTyping, nil)

	alice.send(event.EventLeaveRoom, event.RoomPayload{RoomID: "project:7"})
	var left event.RoomPayload
	alice.expect(event.EventRoomLeft, &left)
	assert.Equal(t, "project:7", left.RoomID)
	_, ok := env.hub.Rooms().Get("project:7")
	assert.False(t, ok, "empty rooms are evicted")

	// leaving is idempotent
	alice.send(event.EventLeaveRoom, event.RoomPayload{RoomID: "project:7"})
	alice.expect(event.EventRoomLeft, nil)

	// bob's last connection goes away: his typing flag is cleared for alice
	require.NoError(t, bob.conn.Close())
	var stopped event.UserTypingPayload
	alice.expect(event.EventUserTyping, &stopped)
	assert.Equal(t, "bob", stopped.UserID)
	assert.False(t, stopped.IsTyping)

	assert.Eventually(t, func() bool {
		return len(env.hub.Rooms().MembersOf(model.SupportRoomID)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	alice.send(event.EventLogout, nil)
	alice.expectClose()
	assert.Eventually(t, func() bool {
		conns, _, _ := env.hub.Sessions().Count()
		return conns == 0 && len(env.hub.Rooms().Snapshot()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_MonitorStats(t *testing.T) {
	env := newTestEnv(t, Options{})

	alice := env.login(t, "alice")
	alice.join("")
	env.dial(t)

	assert.Eventually(t, func() bool {
		conns, _, _ := env.hub.Sessions().Count()
		return conns == 2
	}, time.Second, 10*time.Millisecond)

	stats := NewMonitorService(env.hub).GetStats()
	assert.Equal(t, "healthy", stats.Status)
	assert.Equal(t, 2, stats.Connections.TotalConnected)
	assert.Equal(t, 1, stats.Connections.TotalAuthenticated)
	assert.Equal(t, 1, stats.Connections.TotalUnauthenticated)
	assert.Equal(t, 1, stats.Rooms.TotalRooms)
	assert.Equal(t, 1, stats.StateCount[StateInRoom])
	assert.Equal(t, 1, stats.StateCount[StateUnauthenticated])
}

func TestHub_CheckOrigin(t *testing.T) {
	h := &Hub{opts: Options{AllowedOrigins: []string{"http://localhost:4200"}}}

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, h.checkOrigin(req), "no origin header")

	req.Header.Set("Origin", "http://localhost:4200")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(req))
}
