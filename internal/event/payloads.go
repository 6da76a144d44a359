package event

import "Roomchat/internal/model"

// -----------------------------------------------------------------
// WebSocket Event Payloads - Client to Server
// -----------------------------------------------------------------

// AuthenticatePayload is the identity claim of the handshake.
type AuthenticatePayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

type JoinProjectRoomPayload struct {
	ProjectID string `json:"projectId"`
}

type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// SendMessagePayload mirrors the composer of the client. File fields are
// only read for file and image messages.
type SendMessagePayload struct {
	RoomID      string `json:"roomId"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
	FileName    string `json:"fileName,omitempty"`
	FilePath    string `json:"filePath,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	ReplyTo     *int64 `json:"replyTo,omitempty"`
}

type EditMessagePayload struct {
	RoomID    string `json:"roomId"`
	MessageID int64  `json:"messageId"`
	Message   string `json:"message"`
}

type LoadHistoryPayload struct {
	RoomID          string `json:"roomId"`
	BeforeMessageID int64  `json:"beforeMessageId,omitempty"`
	Limit           int    `json:"limit,omitempty"`
}

// ReactPayload toggles a reaction unless Action is "add" or "remove".
// RoomID may be omitted while the connection is in exactly one room.
type ReactPayload struct {
	MessageID int64  `json:"messageId"`
	Emoji     string `json:"emoji"`
	RoomID    string `json:"roomId,omitempty"`
	Action    string `json:"action,omitempty"`
}

// Reaction request actions
const (
	ReactActionAdd    = "add"
	ReactActionRemove = "remove"
)

// -----------------------------------------------------------------
// WebSocket Event Payloads - Server to Client
// -----------------------------------------------------------------

type AuthenticatedPayload struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

type AuthenticationErrorPayload struct {
	Reason string `json:"reason"`
}

type RoomJoinedPayload struct {
	Room     model.Room      `json:"room"`
	Messages []model.Message `json:"messages"`
}

type RoomHistoryPayload struct {
	RoomID   string          `json:"roomId"`
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"hasMore"`
}

type MessagePayload struct {
	Message model.Message `json:"message"`
}

// UserTypingPayload reports the change of one user and the resulting
// aggregate of everyone typing in the room.
type UserTypingPayload struct {
	UserID      string   `json:"userId"`
	RoomID      string   `json:"roomId"`
	IsTyping    bool     `json:"isTyping"`
	TypingUsers []string `json:"typingUsers"`
}

type ReactionUpdatedPayload struct {
	RoomID    string `json:"roomId"`
	MessageID int64  `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
	Action    string `json:"action"`
}
