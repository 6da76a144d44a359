package hub

import (
	"sort"
	"sync"
	"time"
)

// TypingKey names one user in one room.
type TypingKey struct {
	RoomID string
	UserID string
}

// TypingTracker keeps short-lived "is typing" flags. An entry is alive until
// its deadline; expired entries read as not typing even before Sweep removes
// them.
type TypingTracker struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	rooms map[string]map[string]time.Time
}

func NewTypingTracker(ttl time.Duration) *TypingTracker {
	return &TypingTracker{
		ttl:   ttl,
		now:   time.Now,
		rooms: make(map[string]map[string]time.Time),
	}
}

// Set records a start (refreshing the deadline) or a stop. It reports whether
// the visible state of the user changed.
func (t *TypingTracker) Set(roomID, userID string, typing bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	users := t.rooms[roomID]
	deadline, had := users[userID]
	wasTyping := had && now.Before(deadline)

	if !typing {
		if had {
			t.deleteLocked(roomID, userID)
		}
		return wasTyping
	}

	if users == nil {
		users = make(map[string]time.Time)
		t.rooms[roomID] = users
	}
	users[userID] = now.Add(t.ttl)
	return !wasTyping
}

func (t *TypingTracker) IsTyping(roomID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline, ok := t.rooms[roomID][userID]
	return ok && t.now().Before(deadline)
}

// Typing returns the users currently typing in a room, sorted.
func (t *TypingTracker) Typing(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make([]string, 0, len(t.rooms[roomID]))
	for userID, deadline := range t.rooms[roomID] {
		if now.Before(deadline) {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out
}

// Sweep removes expired entries and returns them.
func (t *TypingTracker) Sweep() []TypingKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var expired []TypingKey
	for roomID, users := range t.rooms {
		for userID, deadline := range users {
			if !now.Before(deadline) {
				expired = append(expired, TypingKey{RoomID: roomID, UserID: userID})
			}
		}
	}
	for _, k := range expired {
		t.deleteLocked(k.RoomID, k.UserID)
	}
	return expired
}

// ClearRoom forgets every entry of a room.
func (t *TypingTracker) ClearRoom(roomID string) {
	t.mu.Lock()
	delete(t.rooms, roomID)
	t.mu.Unlock()
}

// Len counts entries that have not been swept yet.
func (t *TypingTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, users := range t.rooms {
		n += len(users)
	}
	return n
}

func (t *TypingTracker) deleteLocked(roomID, userID string) {
	users := t.rooms[roomID]
	delete(users, userID)
	if len(users) == 0 {
		delete(t.rooms, roomID)
	}
}
