package hub

import (
	"Roomchat/internal/model"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

var (
	ErrForbidden            = errors.New("not allowed to access this project")
	ErrUnsupportedRoomKind  = errors.New("room kind is not supported")
	ErrInvalidProject       = errors.New("project id is required")
	ErrDirectoryUnavailable = errors.New("project directory unavailable")
)

// ProjectAuthorizer decides project room access. It is consulted on every
// join and never while a registry lock is held.
type ProjectAuthorizer interface {
	CanAccessProject(ctx context.Context, userID, projectID string) (bool, error)
}

type roomEntry struct {
	info    model.Room
	members []*Client
}

type roomBucket struct {
	sync.RWMutex
	rooms map[string]*roomEntry
}

// RoomRegistry is the in-memory index of active rooms and their member
// connections. Rooms are sharded by id; every operation on one room runs
// under its shard lock, which makes creation and membership linearizable
// per room.
type RoomRegistry struct {
	shards    [shardCount]*roomBucket
	directory ProjectAuthorizer

	supportName        string
	supportDescription string
	now                func() time.Time
}

func NewRoomRegistry(directory ProjectAuthorizer, supportName, supportDescription string) *RoomRegistry {
	r := &RoomRegistry{
		directory:          directory,
		supportName:        supportName,
		supportDescription: supportDescription,
		now:                time.Now,
	}
	for i := 0; i < shardCount; i++ {
		r.shards[i] = &roomBucket{rooms: make(map[string]*roomEntry)}
	}
	return r
}

func getShard(roomID string) uint32 {
	if roomID == "" {
		return 0
	}

	h := sha1.Sum([]byte(roomID))
	return binary.BigEndian.Uint32(h[:4]) % shardCount
}

func (r *RoomRegistry) bucket(roomID string) *roomBucket {
	return r.shards[getShard(roomID)]
}

// ResolveOrCreate returns the room a user asks for, creating its registry
// entry on first use. Project rooms require the directory's approval.
func (r *RoomRegistry) ResolveOrCreate(ctx context.Context, kind, projectID, userID string) (model.Room, error) {
	var proto model.Room

	switch kind {
	case model.RoomKindSupport:
		proto = model.Room{
			ID:          model.SupportRoomID,
			Kind:        model.RoomKindSupport,
			Name:        r.supportName,
			Description: r.supportDescription,
		}
	case model.RoomKindProject:
		if projectID == "" {
			return model.Room{}, ErrInvalidProject
		}

		ok, err := r.directory.CanAccessProject(ctx, userID, projectID)
		if err != nil {
			return model.Room{}, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
		}
		if !ok {
			return model.Room{}, ErrForbidden
		}

		proto = model.Room{
			ID:        model.ProjectRoomID(projectID),
			Kind:      model.RoomKindProject,
			ProjectID: projectID,
			Name:      fmt.Sprintf("Project %s", projectID),
		}
	default:
		return model.Room{}, fmt.Errorf("%w: %q", ErrUnsupportedRoomKind, kind)
	}

	proto.CreatedBy = userID
	proto.CreatedAt = r.now().UTC()

	b := r.bucket(proto.ID)
	b.Lock()
	defer b.Unlock()

	if entry, ok := b.rooms[proto.ID]; ok {
		return entry.info, nil
	}
	b.rooms[proto.ID] = &roomEntry{info: proto}
	return proto, nil
}

// AddMember puts c in the room, recreating the entry from info if the room
// was evicted in the meantime. It reports whether c was newly added.
func (r *RoomRegistry) AddMember(info model.Room, c *Client) bool {
	b := r.bucket(info.ID)
	b.Lock()
	defer b.Unlock()

	entry, ok := b.rooms[info.ID]
	if !ok {
		entry = &roomEntry{info: info}
		b.rooms[info.ID] = entry
	}
	for _, m := range entry.members {
		if m == c {
			return false
		}
	}
	entry.members = append(entry.members, c)
	return true
}

// RemoveMember takes c out of the room. An emptied room is evicted; its
// history is unaffected.
func (r *RoomRegistry) RemoveMember(roomID string, c *Client) (removed, evicted bool) {
	b := r.bucket(roomID)
	b.Lock()
	defer b.Unlock()

	entry, ok := b.rooms[roomID]
	if !ok {
		return false, false
	}
	for i, m := range entry.members {
		if m == c {
			entry.members = append(entry.members[:i], entry.members[i+1:]...)
			removed = true
			break
		}
	}
	if len(entry.members) == 0 {
		delete(b.rooms, roomID)
		evicted = true
	}
	return removed, evicted
}

// MembersOf returns the live member connections at the time of the call.
func (r *RoomRegistry) MembersOf(roomID string) []*Client {
	b := r.bucket(roomID)
	b.RLock()
	defer b.RUnlock()

	entry, ok := b.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]*Client(nil), entry.members...)
}

// IsMember reports whether c is currently in the room.
func (r *RoomRegistry) IsMember(roomID string, c *Client) bool {
	b := r.bucket(roomID)
	b.RLock()
	defer b.RUnlock()

	entry, ok := b.rooms[roomID]
	if !ok {
		return false
	}
	for _, m := range entry.members {
		if m == c {
			return true
		}
	}
	return false
}

// HasUser reports whether any member connection belongs to userID.
func (r *RoomRegistry) HasUser(roomID, userID string) bool {
	for _, m := range r.MembersOf(roomID) {
		if m.UserID() == userID {
			return true
		}
	}
	return false
}

// Get returns the metadata of an active room.
func (r *RoomRegistry) Get(roomID string) (model.Room, bool) {
	b := r.bucket(roomID)
	b.RLock()
	defer b.RUnlock()

	entry, ok := b.rooms[roomID]
	if !ok {
		return model.Room{}, false
	}
	return entry.info, true
}

// EvictIfEmpty drops a room that has no members left.
func (r *RoomRegistry) EvictIfEmpty(roomID string) bool {
	b := r.bucket(roomID)
	b.Lock()
	defer b.Unlock()

	entry, ok := b.rooms[roomID]
	if !ok || len(entry.members) > 0 {
		return false
	}
	delete(b.rooms, roomID)
	return true
}

// Snapshot describes every active room, ordered by id.
func (r *RoomRegistry) Snapshot() []model.RoomInfo {
	out := make([]model.RoomInfo, 0)

	for _, b := range r.shards {
		b.RLock()
		for _, entry := range b.rooms {
			ids := make([]string, 0, len(entry.members))
			for _, m := range entry.members {
				ids = append(ids, m.ID)
			}
			out = append(out, model.RoomInfo{
				RoomID:        entry.info.ID,
				Kind:          entry.info.Kind,
				ProjectID:     entry.info.ProjectID,
				TotalMembers:  len(entry.members),
				ConnectionIDs: ids,
			})
		}
		b.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}
