package event

import "encoding/json"

// Client to server events
const (
	EventAuthenticate    = "authenticate"
	EventJoinProjectRoom = "join_project_room"
	EventJoinSupportRoom = "join_support_room"
	EventLeaveRoom       = "leave_room"
	EventSendMessage     = "send_message"
	EventEditMessage     = "edit_message"
	EventLoadHistory     = "load_history"
	EventTypingStart     = "typing_start"
	EventTypingStop      = "typing_stop"
	EventReactToMessage  = "react_to_message"
	EventLogout          = "logout"
	EventPing            = "ping"
)

// Server to client events
const (
	EventAuthenticated          = "authenticated"
	EventAuthenticationError    = "authentication_error"
	EventRoomJoined             = "room_joined"
	EventRoomLeft               = "room_left"
	EventRoomHistory            = "room_history"
	EventNewMessage             = "new_message"
	EventMessageEdited          = "message_edited"
	EventUserTyping             = "user_typing"
	EventMessageReactionUpdated = "message_reaction_updated"
	EventError                  = "error"
	EventPong                   = "pong"
)

// WsEvent is the envelope of every frame exchanged over the socket.
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New marshals payload into an envelope. A nil payload yields an empty object.
func New(name string, payload any) (WsEvent, error) {
	if payload == nil {
		return WsEvent{Event: name, Payload: json.RawMessage("{}")}, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return WsEvent{}, err
	}
	return WsEvent{Event: name, Payload: raw}, nil
}

// Decode unmarshals the payload into dst. An absent payload leaves dst untouched.
func (ev WsEvent) Decode(dst any) error {
	if len(ev.Payload) == 0 || string(ev.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(ev.Payload, dst)
}
