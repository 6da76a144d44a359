package model

import (
	"time"
)

// Message kinds
const (
	MessageKindText   = "text"
	MessageKindFile   = "file"
	MessageKindImage  = "image"
	MessageKindSystem = "system"
)

// Reaction actions reported to clients
const (
	ReactionAdded   = "added"
	ReactionRemoved = "removed"
)

// Message represents a persisted chat message. ID is the per-room sequence
// number assigned by the store and is the only ordering that counts.
type Message struct {
	ID        int64      `json:"id" bson:"seq"`
	RoomID    string     `json:"roomId" bson:"room_id"`
	AuthorID  string     `json:"authorId" bson:"author_id"`
	Kind      string     `json:"kind" bson:"kind"`
	Body      string     `json:"body" bson:"body"`
	File      *FileInfo  `json:"file,omitempty" bson:"file,omitempty"`
	ReplyTo   *int64     `json:"replyTo,omitempty" bson:"reply_to,omitempty"`
	Reactions []Reaction `json:"reactions" bson:"reactions"`
	Edited    bool       `json:"edited" bson:"edited"`
	EditedAt  *time.Time `json:"editedAt,omitempty" bson:"edited_at,omitempty"`
	CreatedAt time.Time  `json:"createdAt" bson:"created_at"`
}

// FileInfo describes the attachment of a file or image message.
type FileInfo struct {
	Name     string `json:"name" bson:"name"`
	Path     string `json:"path" bson:"path"`
	Size     int64  `json:"size" bson:"size"`
	MimeType string `json:"mimeType" bson:"mime_type"`
}

// Reaction represents a reaction on a message
type Reaction struct {
	UserID string `json:"userId" bson:"user_id"`
	Emoji  string `json:"emoji" bson:"emoji"`
}

// NewMessage is the input of an append. The store fills in ID and CreatedAt.
type NewMessage struct {
	RoomID   string
	AuthorID string
	Kind     string
	Body     string
	File     *FileInfo
	ReplyTo  *int64
}

// IsAttachment reports whether the kind carries file metadata.
func IsAttachment(kind string) bool {
	return kind == MessageKindFile || kind == MessageKindImage
}

// ValidKind reports whether kind is one of the known message kinds.
func ValidKind(kind string) bool {
	switch kind {
	case MessageKindText, MessageKindFile, MessageKindImage, MessageKindSystem:
		return true
	default:
		return false
	}
}

// HasReaction reports whether userID already reacted with emoji.
func (m *Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// ErrorPayload represents an error response sent to client via WebSocket
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}
