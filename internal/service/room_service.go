package service

import (
	"Roomchat/internal/model"
	"Roomchat/internal/repo"
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownRoom          = errors.New("unknown room")
	ErrForbidden            = errors.New("not allowed to read this room")
	ErrDirectoryUnavailable = errors.New("project directory unavailable")
)

// ProjectAccess is the directory check applied before reading a project room.
type ProjectAccess interface {
	CanAccessProject(ctx context.Context, userID, projectID string) (bool, error)
}

// HistoryPage is one page of a room's history, oldest first.
type HistoryPage struct {
	RoomID   string          `json:"roomId"`
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"hasMore"`
}

type RoomService interface {
	RoomMessages(ctx context.Context, userID, roomID string, before int64, limit int) (HistoryPage, error)
}

type roomService struct {
	store        repo.MessageStore
	directory    ProjectAccess
	defaultLimit int
	maxLimit     int
}

func NewRoomService(store repo.MessageStore, directory ProjectAccess, defaultLimit, maxLimit int) RoomService {
	if defaultLimit <= 0 {
		defaultLimit = repo.DefaultHistoryLimit
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &roomService{
		store:        store,
		directory:    directory,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// RoomMessages reads history outside of a live membership, so access is
// decided from the room id alone: the support room is open to every user and
// project rooms ask the directory again.
func (s *roomService) RoomMessages(ctx context.Context, userID, roomID string, before int64, limit int) (HistoryPage, error) {
	if err := s.authorize(ctx, userID, roomID); err != nil {
		return HistoryPage{}, err
	}

	if limit <= 0 {
		limit = s.defaultLimit
	}
	limit = min(limit, s.maxLimit)

	msgs, err := s.store.History(ctx, roomID, before, limit+1)
	if err != nil {
		return HistoryPage{}, err
	}

	page := HistoryPage{RoomID: roomID, Messages: msgs, HasMore: len(msgs) > limit}
	if page.HasMore {
		page.Messages = msgs[len(msgs)-limit:]
	}
	if page.Messages == nil {
		page.Messages = []model.Message{}
	}
	return page, nil
}

func (s *roomService) authorize(ctx context.Context, userID, roomID string) error {
	if roomID == model.SupportRoomID {
		return nil
	}

	projectID, ok := strings.CutPrefix(roomID, model.ProjectRoomID(""))
	if !ok || projectID == "" {
		return ErrUnknownRoom
	}

	allowed, err := s.directory.CanAccessProject(ctx, userID, projectID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}
