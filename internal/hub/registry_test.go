package hub

import (
	"Roomchat/internal/model"
	"Roomchat/internal/repo"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(id, userID string) *Client {
	return &Client{ID: id, userID: userID}
}

func TestRoomRegistry_SupportRoomIsShared(t *testing.T) {
	r := NewRoomRegistry(repo.NewMemoryProjectDirectory(), "Support", "Ask us anything")

	a, err := r.ResolveOrCreate(context.Background(), model.RoomKindSupport, "", "alice")
	require.NoError(t, err)
	b, err := r.ResolveOrCreate(context.Background(), model.RoomKindSupport, "", "bob")
	require.NoError(t, err)

	assert.Equal(t, model.SupportRoomID, a.ID)
	assert.Equal(t, a, b, "the first resolver creates the room")
	assert.Equal(t, "alice", b.CreatedBy)
	assert.Equal(t, "Support", a.Name)
}

func TestRoomRegistry_ProjectAccess(t *testing.T) {
	directory := repo.NewMemoryProjectDirectory()
	directory.Grant("7", "alice")
	r := NewRoomRegistry(directory, "Support", "")
	ctx := context.Background()

	room, err := r.ResolveOrCreate(ctx, model.RoomKindProject, "7", "alice")
	require.NoError(t, err)
	assert.Equal(t, "project:7", room.ID)
	assert.Equal(t, "7", room.ProjectID)

	_, err = r.ResolveOrCreate(ctx, model.RoomKindProject, "7", "bob")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = r.ResolveOrCreate(ctx, model.RoomKindProject, "", "alice")
	assert.ErrorIs(t, err, ErrInvalidProject)

	_, err = r.ResolveOrCreate(ctx, model.RoomKindDirect, "", "alice")
	assert.ErrorIs(t, err, ErrUnsupportedRoomKind)

	directory.FailWith(errors.New("directory down"))
	_, err = r.ResolveOrCreate(ctx, model.RoomKindProject, "7", "alice")
	assert.ErrorIs(t, err, ErrDirectoryUnavailable)
}

func TestRoomRegistry_ConcurrentFirstJoinCreatesOneRoom(t *testing.T) {
	directory := repo.NewMemoryProjectDirectory()
	r := NewRoomRegistry(directory, "Support", "")

	const users = 32
	for i := 0; i < users; i++ {
		directory.Grant("9", fmt.Sprintf("user-%d", i))
	}

	var wg sync.WaitGroup
	created := make([]model.Room, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", i)
			room, err := r.ResolveOrCreate(context.Background(), model.RoomKindProject, "9", userID)
			if assert.NoError(t, err) {
				created[i] = room
				r.AddMember(room, testClient(fmt.Sprintf("c-%d", i), userID))
			}
		}(i)
	}
	wg.Wait()

	for _, room := range created[1:] {
		assert.Equal(t, created[0].CreatedBy, room.CreatedBy)
		assert.Equal(t, created[0].CreatedAt, room.CreatedAt)
	}
	assert.Len(t, r.MembersOf("project:9"), users)
	assert.Len(t, r.Snapshot(), 1)
}

func TestRoomRegistry_MembershipIsIdempotentAndEvicts(t *testing.T) {
	r := NewRoomRegistry(repo.NewMemoryProjectDirectory(), "Support", "")
	room, err := r.ResolveOrCreate(context.Background(), model.RoomKindSupport, "", "alice")
	require.NoError(t, err)

	a1 := testClient("a1", "alice")
	a2 := testClient("a2", "alice")

	assert.True(t, r.AddMember(room, a1))
	assert.False(t, r.AddMember(room, a1))
	assert.True(t, r.AddMember(room, a2))
	assert.Equal(t, []*Client{a1, a2}, r.MembersOf(room.ID))
	assert.True(t, r.HasUser(room.ID, "alice"))
	assert.False(t, r.HasUser(room.ID, "bob"))

	removed, evicted := r.RemoveMember(room.ID, a1)
	assert.True(t, removed)
	assert.False(t, evicted)

	removed, evicted = r.RemoveMember(room.ID, a1)
	assert.False(t, removed)
	assert.False(t, evicted)

	removed, evicted = r.RemoveMember(room.ID, a2)
	assert.True(t, removed)
	assert.True(t, evicted)

	_, ok := r.Get(room.ID)
	assert.False(t, ok)
	assert.Empty(t, r.MembersOf(room.ID))

	// a late AddMember brings the room back with its metadata
	assert.True(t, r.AddMember(room, a1))
	got, ok := r.Get(room.ID)
	require.True(t, ok)
	assert.Equal(t, room, got)
}

func TestRoomRegistry_EvictIfEmpty(t *testing.T) {
	r := NewRoomRegistry(repo.NewMemoryProjectDirectory(), "Support", "")
	room, err := r.ResolveOrCreate(context.Background(), model.RoomKindSupport, "", "alice")
	require.NoError(t, err)

	r.AddMember(room, testClient("a1", "alice"))
	assert.False(t, r.EvictIfEmpty(room.ID))

	r.RemoveMember(room.ID, r.MembersOf(room.ID)[0])
	assert.False(t, r.EvictIfEmpty(room.ID), "already evicted by the last removal")

	_, err = r.ResolveOrCreate(context.Background(), model.RoomKindSupport, "", "alice")
	require.NoError(t, err)
	assert.True(t, r.EvictIfEmpty(room.ID))
}

func TestSessionRegistry(t *testing.T) {
	s := NewSessionRegistry()
	a1 := testClient("a1", "")
	a2 := testClient("a2", "")
	b1 := testClient("b1", "")

	s.Add(a1)
	s.Add(a2)
	s.Add(b1)

	conns, authed, users := s.Count()
	assert.Equal(t, 3, conns)
	assert.Equal(t, 0, authed)
	assert.Equal(t, 0, users)

	a1.userID, a2.userID = "alice", "alice"
	require.True(t, s.Bind(a1, "alice"))
	require.True(t, s.Bind(a2, "alice"))
	assert.Len(t, s.ConnectionsOf("alice"), 2)

	conns, authed, users = s.Count()
	assert.Equal(t, 3, conns)
	assert.Equal(t, 2, authed)
	assert.Equal(t, 1, users)

	assert.True(t, s.Remove(a1))
	assert.False(t, s.Remove(a1))
	assert.Len(t, s.ConnectionsOf("alice"), 1)

	_, ok := s.Get("a1")
	assert.False(t, ok)
	assert.False(t, s.Bind(a1, "alice"), "removed connections cannot be bound")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTypingTracker_ExpiresWithoutStop(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := NewTypingTracker(3 * time.Second)
	tr.now = clock.Now

	assert.True(t, tr.Set("room", "alice", true))
	assert.False(t, tr.Set("room", "alice", true), "a refresh is not a change")
	assert.True(t, tr.Set("room", "bob", true))
	assert.Equal(t, []string{"alice", "bob"}, tr.Typing("room"))

	clock.Advance(2 * time.Second)
	assert.False(t, tr.Set("room", "bob", true))

	clock.Advance(1500 * time.Millisecond)
	// alice expired at 3s; bob was refreshed at 2s
	assert.False(t, tr.IsTyping("room", "alice"), "expired entries read as not typing before the sweep")
	assert.True(t, tr.IsTyping("room", "bob"))
	assert.Equal(t, []string{"bob"}, tr.Typing("room"))

	expired := tr.Sweep()
	assert.Equal(t, []TypingKey{{RoomID: "room", UserID: "alice"}}, expired)
	assert.Equal(t, 1, tr.Len())
	assert.Empty(t, tr.Sweep())
}

func TestTypingTracker_StopClearsImmediately(t *testing.T) {
	tr := NewTypingTracker(3 * time.Second)

	assert.False(t, tr.Set("room", "alice", false), "stop without start changes nothing")
	assert.True(t, tr.Set("room", "alice", true))
	assert.True(t, tr.Set("room", "alice", false))
	assert.False(t, tr.IsTyping("room", "alice"))
	assert.Equal(t, 0, tr.Len())

	tr.Set("room", "alice", true)
	tr.Set("other", "alice", true)
	tr.ClearRoom("room")
	assert.False(t, tr.IsTyping("room", "alice"))
	assert.True(t, tr.IsTyping("other", "alice"))
}
