package repo

import (
	"Roomchat/internal/model"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryMessageStore keeps history in process memory. It does not survive a
// restart and is meant for development and tests.
type MemoryMessageStore struct {
	mu    sync.RWMutex
	rooms map[string][]model.Message
	now   func() time.Time

	// fault, when set, is consulted before every operation
	fault func(op string) error
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		rooms: make(map[string][]model.Message),
		now:   time.Now,
	}
}

// FailWith installs a hook consulted before every operation. A non-nil
// error from the hook aborts the operation.
func (s *MemoryMessageStore) FailWith(hook func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = hook
}

func (s *MemoryMessageStore) check(op string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op)
}

func (s *MemoryMessageStore) Append(ctx context.Context, in model.NewMessage) (model.Message, error) {
	if err := validateNewMessage(in); err != nil {
		return model.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("append"); err != nil {
		return model.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	msgs := s.rooms[in.RoomID]
	msg := newMessage(in, int64(len(msgs))+1, s.now())
	s.rooms[in.RoomID] = append(msgs, msg)
	return cloneMessage(msg), nil
}

func (s *MemoryMessageStore) History(ctx context.Context, roomID string, before int64, limit int) ([]model.Message, error) {
	if err := validateRoomID(roomID); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("history"); err != nil {
		return nil, err
	}

	msgs := s.rooms[roomID]
	end := len(msgs)
	if before > 0 {
		// ids are 1-based and dense, so the index of id n is n-1
		end = sort.Search(len(msgs), func(i int) bool { return msgs[i].ID >= before })
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	out := make([]model.Message, 0, end-start)
	for _, msg := range msgs[start:end] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func (s *MemoryMessageStore) Get(ctx context.Context, roomID string, id int64) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("get"); err != nil {
		return nil, err
	}

	msg, ok := s.find(roomID, id)
	if !ok {
		return nil, ErrMessageNotFound
	}
	out := cloneMessage(*msg)
	return &out, nil
}

func (s *MemoryMessageStore) Edit(ctx context.Context, roomID string, id int64, authorID, body string) (model.Message, error) {
	if body == "" {
		return model.Message{}, fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("edit"); err != nil {
		return model.Message{}, err
	}

	msg, ok := s.find(roomID, id)
	if !ok {
		return model.Message{}, ErrMessageNotFound
	}
	if msg.AuthorID != authorID {
		return model.Message{}, ErrNotAuthor
	}

	editedAt := s.now().UTC().Truncate(time.Millisecond)
	msg.Body = body
	msg.Edited = true
	msg.EditedAt = &editedAt
	return cloneMessage(*msg), nil
}

func (s *MemoryMessageStore) AddReaction(ctx context.Context, roomID string, id int64, userID, emoji string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("add_reaction"); err != nil {
		return false, err
	}

	msg, ok := s.find(roomID, id)
	if !ok {
		return false, ErrMessageNotFound
	}
	if msg.HasReaction(userID, emoji) {
		return false, nil
	}
	msg.Reactions = append(msg.Reactions, model.Reaction{UserID: userID, Emoji: emoji})
	return true, nil
}

func (s *MemoryMessageStore) RemoveReaction(ctx context.Context, roomID string, id int64, userID, emoji string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("remove_reaction"); err != nil {
		return false, err
	}

	msg, ok := s.find(roomID, id)
	if !ok {
		return false, ErrMessageNotFound
	}
	for i, r := range msg.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			msg.Reactions = append(msg.Reactions[:i], msg.Reactions[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// find must be called with s.mu held
func (s *MemoryMessageStore) find(roomID string, id int64) (*model.Message, bool) {
	msgs := s.rooms[roomID]
	if id < 1 || id > int64(len(msgs)) {
		return nil, false
	}
	return &msgs[id-1], true
}

func cloneMessage(msg model.Message) model.Message {
	out := msg
	out.Reactions = append([]model.Reaction{}, msg.Reactions...)
	if msg.EditedAt != nil {
		t := *msg.EditedAt
		out.EditedAt = &t
	}
	if msg.File != nil {
		f := *msg.File
		out.File = &f
	}
	if msg.ReplyTo != nil {
		r := *msg.ReplyTo
		out.ReplyTo = &r
	}
	return out
}
