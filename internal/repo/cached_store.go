package repo

import (
	"Roomchat/internal/lock"
	"Roomchat/internal/model"
	"context"
	"sync"

	"go.uber.org/zap"
)

const DefaultCacheSize = 200

// CachedStore wraps a MessageStore with a per-room write lock and an
// in-process copy of each room's most recent messages.
//
// Writes for one room go through the backend one at a time, so the cached
// tail always mirrors the backend's. Reads that the tail can answer never
// touch the backend.
type CachedStore struct {
	backend MessageStore
	locks   *lock.Keyed
	size    int
	logger  *zap.Logger

	mu    sync.Mutex
	rooms map[string]*roomTail
}

// roomTail holds a contiguous, ascending run ending at the newest message of
// the room. complete is set when the run starts at the room's first message.
type roomTail struct {
	msgs     []model.Message
	complete bool
}

func NewCachedStore(backend MessageStore, size int, logger *zap.Logger) *CachedStore {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &CachedStore{
		backend: backend,
		locks:   lock.NewKeyed(),
		size:    size,
		logger:  logger,
		rooms:   make(map[string]*roomTail),
	}
}

func (c *CachedStore) Append(ctx context.Context, in model.NewMessage) (model.Message, error) {
	unlock := c.locks.Lock(in.RoomID)
	defer unlock()

	msg, err := c.backend.Append(ctx, in)
	if err != nil {
		return model.Message{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tail, ok := c.rooms[in.RoomID]
	if !ok {
		return msg, nil
	}

	next := int64(1)
	if n := len(tail.msgs); n > 0 {
		next = tail.msgs[n-1].ID + 1
	}
	if msg.ID != next {
		// the backend moved under us; start over on the next read
		c.logger.Warn("history cache out of step, dropping room",
			zap.String("room_id", in.RoomID),
			zap.Int64("seq", msg.ID),
			zap.Int64("expected", next),
		)
		delete(c.rooms, in.RoomID)
		return msg, nil
	}

	tail.msgs = append(tail.msgs, cloneMessage(msg))
	c.trim(tail)
	return msg, nil
}

func (c *CachedStore) History(ctx context.Context, roomID string, before int64, limit int) ([]model.Message, error) {
	if err := validateRoomID(roomID); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	if msgs, ok := c.fromCache(roomID, before, limit); ok {
		return msgs, nil
	}

	if before > 0 {
		return c.backend.History(ctx, roomID, before, limit)
	}

	// Loading the newest page also refills the cache. Holding the room lock
	// keeps an append from landing between the read and the fill.
	unlock := c.locks.Lock(roomID)
	defer unlock()

	msgs, err := c.backend.History(ctx, roomID, 0, max(limit, c.size))
	if err != nil {
		return nil, err
	}

	tail := &roomTail{
		msgs:     make([]model.Message, 0, len(msgs)),
		complete: len(msgs) < max(limit, c.size),
	}
	for _, msg := range msgs {
		tail.msgs = append(tail.msgs, cloneMessage(msg))
	}
	c.trim(tail)

	c.mu.Lock()
	c.rooms[roomID] = tail
	c.mu.Unlock()

	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (c *CachedStore) Get(ctx context.Context, roomID string, id int64) (*model.Message, error) {
	c.mu.Lock()
	if tail, ok := c.rooms[roomID]; ok {
		if i := tail.index(id); i >= 0 {
			msg := cloneMessage(tail.msgs[i])
			c.mu.Unlock()
			return &msg, nil
		}
	}
	c.mu.Unlock()

	return c.backend.Get(ctx, roomID, id)
}

func (c *CachedStore) Edit(ctx context.Context, roomID string, id int64, authorID, body string) (model.Message, error) {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	msg, err := c.backend.Edit(ctx, roomID, id, authorID, body)
	if err != nil {
		return model.Message{}, err
	}

	c.update(roomID, id, func(cached *model.Message) {
		cached.Body = msg.Body
		cached.Edited = msg.Edited
		cached.EditedAt = msg.EditedAt
	})
	return msg, nil
}

func (c *CachedStore) AddReaction(ctx context.Context, roomID string, id int64, userID, emoji string) (bool, error) {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	changed, err := c.backend.AddReaction(ctx, roomID, id, userID, emoji)
	if err != nil || !changed {
		return changed, err
	}

	c.update(roomID, id, func(cached *model.Message) {
		if !cached.HasReaction(userID, emoji) {
			cached.Reactions = append(cached.Reactions, model.Reaction{UserID: userID, Emoji: emoji})
		}
	})
	return true, nil
}

func (c *CachedStore) RemoveReaction(ctx context.Context, roomID string, id int64, userID, emoji string) (bool, error) {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	changed, err := c.backend.RemoveReaction(ctx, roomID, id, userID, emoji)
	if err != nil || !changed {
		return changed, err
	}

	c.update(roomID, id, func(cached *model.Message) {
		kept := cached.Reactions[:0]
		for _, r := range cached.Reactions {
			if r.UserID != userID || r.Emoji != emoji {
				kept = append(kept, r)
			}
		}
		cached.Reactions = kept
	})
	return true, nil
}

// Forget drops the cached tail of a room, typically once nobody is in it.
func (c *CachedStore) Forget(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// CachedRooms reports how many rooms currently have a cached tail.
func (c *CachedStore) CachedRooms() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func (c *CachedStore) fromCache(roomID string, before int64, limit int) ([]model.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tail, ok := c.rooms[roomID]
	if !ok {
		return nil, false
	}

	end := len(tail.msgs)
	if before > 0 {
		end = 0
		for end < len(tail.msgs) && tail.msgs[end].ID < before {
			end++
		}
	}

	if end < limit && !tail.complete {
		return nil, false
	}

	start := max(end-limit, 0)
	out := make([]model.Message, 0, end-start)
	for _, msg := range tail.msgs[start:end] {
		out = append(out, cloneMessage(msg))
	}
	return out, true
}

func (c *CachedStore) update(roomID string, id int64, apply func(*model.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tail, ok := c.rooms[roomID]
	if !ok {
		return
	}
	if i := tail.index(id); i >= 0 {
		apply(&tail.msgs[i])
	}
}

// trim must be called with c.mu held or before tail is shared
func (c *CachedStore) trim(tail *roomTail) {
	if over := len(tail.msgs) - c.size; over > 0 {
		tail.msgs = append([]model.Message(nil), tail.msgs[over:]...)
		tail.complete = false
	}
}

func (t *roomTail) index(id int64) int {
	if len(t.msgs) == 0 {
		return -1
	}
	i := int(id - t.msgs[0].ID)
	if i < 0 || i >= len(t.msgs) {
		return -1
	}
	return i
}
