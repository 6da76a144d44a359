package hub

import (
	"Roomchat/internal/auth"
	"Roomchat/internal/event"
	"Roomchat/internal/model"
	"Roomchat/internal/repo"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// storeCallTimeout bounds every store and directory call made for one event
	storeCallTimeout = 10 * time.Second
)

var (
	ErrNotInRoom       = errors.New("not a member of this room")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrAmbiguousRoomID = errors.New("roomId is required while in several rooms")
)

// handleEvent is the lifecycle controller. It runs on the connection's own
// processing goroutine, so events of one connection are handled in order.
func (h *Hub) handleEvent(c *Client, ev event.WsEvent) {
	switch ev.Event {
	case event.EventPing:
		c.send(event.EventPong, nil)
		return
	case event.EventAuthenticate:
		h.handleAuthenticate(c, ev)
		return
	}

	if c.UserID() == "" {
		c.sendError(event.CodeNotAuthenticated, "authenticate first", ev.Event, "")
		return
	}

	switch ev.Event {
	case event.EventJoinProjectRoom:
		var p event.JoinProjectRoomPayload
		if h.decode(c, ev, &p) {
			h.handleJoin(c, ev.Event, model.RoomKindProject, strings.TrimSpace(p.ProjectID))
		}
	case event.EventJoinSupportRoom:
		h.handleJoin(c, ev.Event, model.RoomKindSupport, "")
	case event.EventLeaveRoom:
		h.handleLeave(c, ev)
	case event.EventSendMessage:
		h.handleSend(c, ev)
	case event.EventEditMessage:
		h.handleEdit(c, ev)
	case event.EventLoadHistory:
		h.handleLoadHistory(c, ev)
	case event.EventTypingStart, event.EventTypingStop:
		h.handleTyping(c, ev)
	case event.EventReactToMessage:
		h.handleReact(c, ev)
	case event.EventLogout:
		c.logger.Info("client logged out", zap.String("user_id", c.UserID()))
		c.closeWith(websocket.CloseNormalClosure, "logout")
		h.scheduleRemoval(c)
	default:
		c.sendError(event.CodeUnknownEvent, fmt.Sprintf("unknown event %q", ev.Event), ev.Event, "")
	}
}

func (h *Hub) decode(c *Client, ev event.WsEvent, dst any) bool {
	if err := ev.Decode(dst); err != nil {
		c.sendError(event.CodeInvalidPayload, "payload does not match the event", ev.Event, "")
		return false
	}
	return true
}

// -----------------------------------------------------------------------------
// Handshake
// -----------------------------------------------------------------------------

// handleAuthenticate allows a single attempt. Any failure is reported once
// and the connection is closed.
func (h *Hub) handleAuthenticate(c *Client, ev event.WsEvent) {
	if c.UserID() != "" {
		c.sendError(event.CodeAlreadyAuthenticated, "connection is already authenticated", ev.Event, "")
		return
	}

	var p event.AuthenticatePayload
	if err := ev.Decode(&p); err != nil {
		h.rejectAuthentication(c, "malformed authentication payload")
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, storeCallTimeout)
	defer cancel()

	userID, err := h.identity.Verify(ctx, auth.Claim{UserID: strings.TrimSpace(p.UserID), Token: p.Token})
	if err != nil {
		c.logger.Info("authentication failed", zap.String("claimed_user_id", p.UserID), zap.Error(err))
		reason := "identity could not be verified"
		if auth.IsRejection(err) {
			reason = err.Error()
		}
		h.rejectAuthentication(c, reason)
		return
	}

	// the deadline may have fired while the provider was working
	if !c.bindUser(userID) || !h.sessions.Bind(c, userID) {
		return
	}

	c.logger.Info("client authenticated", zap.String("user_id", userID))
	c.send(event.EventAuthenticated, event.AuthenticatedPayload{UserID: userID, ConnectionID: c.ID})
}

func (h *Hub) rejectAuthentication(c *Client, reason string) {
	c.send(event.EventAuthenticationError, event.AuthenticationErrorPayload{Reason: reason})
	c.closeWith(websocket.ClosePolicyViolation, "authentication failed")
	h.scheduleRemoval(c)
}

// -----------------------------------------------------------------------------
// Membership
// -----------------------------------------------------------------------------

// handleJoin is idempotent: joining a room again returns a fresh snapshot.
func (h *Hub) handleJoin(c *Client, eventName, kind, projectID string) {
	ctx, cancel := context.WithTimeout(c.ctx, storeCallTimeout)
	defer cancel()

	userID := c.UserID()
	room, err := h.rooms.ResolveOrCreate(ctx, kind, projectID, userID)
	if err != nil {
		c.logger.Info("join rejected",
			zap.String("user_id", userID),
			zap.String("kind", kind),
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		h.replyError(c, err, eventName, "")
		return
	}

	wasMember := c.inRoom(room.ID)
	if !c.joinRoom(room.ID) {
		h.rooms.EvictIfEmpty(room.ID)
		return
	}
	h.rooms.AddMember(room, c)
	if c.isClosing() {
		// lost a race with the disconnect cleanup
		h.leave(c, room.ID)
		return
	}

	msgs, err := h.store.History(ctx, room.ID, 0, h.opts.HistoryLimit)
	if err != nil {
		if !wasMember {
			h.leave(c, room.ID)
		}
		c.logger.Warn("history unavailable on join", zap.String("room_id", room.ID), zap.Error(err))
		h.replyError(c, err, eventName, room.ID)
		return
	}

	c.logger.Info("client joined room", zap.String("user_id", userID), zap.String("room_id", room.ID))
	c.send(event.EventRoomJoined, event.RoomJoinedPayload{Room: room, Messages: msgs})
}

func (h *Hub) handleLeave(c *Client, ev event.WsEvent) {
	var p event.RoomPayload
	if !h.decode(c, ev, &p) {
		return
	}
	if p.RoomID == "" {
		c.sendError(event.CodeInvalidPayload, "roomId is required", ev.Event, "")
		return
	}

	if c.inRoom(p.RoomID) {
		h.leave(c, p.RoomID)
		c.logger.Info("client left room", zap.String("user_id", c.UserID()), zap.String("room_id", p.RoomID))
	}
	c.send(event.EventRoomLeft, event.RoomPayload{RoomID: p.RoomID})
}

// -----------------------------------------------------------------------------
// Messages
// -----------------------------------------------------------------------------

func (h *Hub) handleSend(c *Client, ev event.WsEvent) {
	var p event.SendMessagePayload
	if !h.decode(c, ev, &p) {
		return
	}
	if !h.requireMember(c, p.RoomID, ev.Event) {
		return
	}

	in, err := h.newMessage(c.UserID(), p)
	if err != nil {
		h.replyError(c, err, ev.Event, p.RoomID)
		return
	}

	// The append outlives the connection: once accepted it is stored and
	// delivered to the remaining members even if the sender drops.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), storeCallTimeout)
	defer cancel()

	if in.ReplyTo != nil {
		if _, err := h.store.Get(ctx, p.RoomID, *in.ReplyTo); err != nil {
			h.replyError(c, err, ev.Event, p.RoomID)
			return
		}
	}

	unlock := h.roomLocks.Lock(p.RoomID)
	msg, err := h.store.Append(ctx, in)
	if err != nil {
		unlock()
		c.logger.Warn("append failed", zap.String("room_id", p.RoomID), zap.Error(err))
		h.replyError(c, err, ev.Event, p.RoomID)
		return
	}
	h.publish(p.RoomID, event.EventNewMessage, event.MessagePayload{Message: msg})
	unlock()

	if h.typing.Set(p.RoomID, msg.AuthorID, false) {
		h.broadcastTyping(p.RoomID, msg.AuthorID, false)
	}
}

func (h *Hub) newMessage(userID string, p event.SendMessagePayload) (model.NewMessage, error) {
	kind := p.MessageType
	if kind == "" {
		kind = model.MessageKindText
	}

	switch {
	case kind == model.MessageKindSystem || !model.ValidKind(kind):
		return model.NewMessage{}, fmt.Errorf("%w: unsupported messageType %q", ErrInvalidPayload, kind)
	case model.IsAttachment(kind) && strings.TrimSpace(p.FileName) == "":
		return model.NewMessage{}, fmt.Errorf("%w: %s messages need a fileName", ErrInvalidPayload, kind)
	case !model.IsAttachment(kind) && strings.TrimSpace(p.Message) == "":
		return model.NewMessage{}, fmt.Errorf("%w: message is empty", ErrInvalidPayload)
	case utf8.RuneCountInString(p.Message) > h.opts.MaxMessageLength:
		return model.NewMessage{}, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidPayload, h.opts.MaxMessageLength)
	}

	in := model.NewMessage{
		RoomID:   p.RoomID,
		AuthorID: userID,
		Kind:     kind,
		Body:     p.Message,
		ReplyTo:  p.ReplyTo,
	}
	if model.IsAttachment(kind) {
		in.File = &model.FileInfo{
			Name:     p.FileName,
			Path:     p.FilePath,
			Size:     p.FileSize,
			MimeType: p.MimeType,
		}
	}
	return in, nil
}

func (h *Hub) handleEdit(c *Client, ev event.WsEvent) {
	var p event.EditMessagePayload
	if !h.decode(c, ev, &p) {
		return
	}
	if !h.requireMember(c, p.RoomID, ev.Event) {
		return
	}
	if strings.TrimSpace(p.Message) == "" || utf8.RuneCountInString(p.Message) > h.opts.MaxMessageLength {
		c.sendError(event.CodeInvalidPayload, "message is empty or too long", ev.Event, p.RoomID)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), storeCallTimeout)
	defer cancel()

	unlock := h.roomLocks.Lock(p.RoomID)
	defer unlock()

	msg, err := h.store.Edit(ctx, p.RoomID, p.MessageID, c.UserID(), p.Message)
	if err != nil {
		h.replyError(c, err, ev.Event, p.RoomID)
		return
	}
	h.publish(p.RoomID, event.EventMessageEdited, event.MessagePayload{Message: msg})
}

func (h *Hub) handleLoadHistory(c *Client, ev event.WsEvent) {
	var p event.LoadHistoryPayload
	if !h.decode(c, ev, &p) {
		return
	}
	if !h.requireMember(c, p.RoomID, ev.Event) {
		return
	}

	limit := p.Limit
	if limit <= 0 {
		limit = h.opts.HistoryLimit
	}
	limit = min(limit, h.opts.MaxHistoryLimit)

	ctx, cancel := context.WithTimeout(c.ctx, storeCallTimeout)
	defer cancel()

	// one extra row tells whether an older page exists
	msgs, err := h.store.History(ctx, p.RoomID, p.BeforeMessageID, limit+1)
	if err != nil {
		h.replyError(c, err, ev.Event, p.RoomID)
		return
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[len(msgs)-limit:]
	}
	c.send(event.EventRoomHistory, event.RoomHistoryPayload{RoomID: p.RoomID, Messages: msgs, HasMore: hasMore})
}

// -----------------------------------------------------------------------------
// Typing and reactions
// -----------------------------------------------------------------------------

func (h *Hub) handleTyping(c *Client, ev event.WsEvent) {
	var p event.RoomPayload
	if !h.decode(c, ev, &p) {
		return
	}
	if !h.requireMember(c, p.RoomID, ev.Event) {
		return
	}

	typing := ev.Event == event.EventTypingStart
	if h.typing.Set(p.RoomID, c.UserID(), typing) {
		h.broadcastTyping(p.RoomID, c.UserID(), typing)
	}
}

// broadcastTyping tells everyone but userID about the change and the
// resulting list of typing users.
func (h *Hub) broadcastTyping(roomID, userID string, typing bool) {
	ev, err := event.New(event.EventUserTyping, event.UserTypingPayload{
		UserID:      userID,
		RoomID:      roomID,
		IsTyping:    typing,
		TypingUsers: h.typing.Typing(roomID),
	})
	if err != nil {
		h.logger.Error("failed to encode typing event", zap.Error(err))
		return
	}
	h.dispatcher.PublishExcept(roomID, ev, userID)
}

// handleReact toggles a reaction unless the request names an action. An
// unchanged reaction is not broadcast.
func (h *Hub) handleReact(c *Client, ev event.WsEvent) {
	var p event.ReactPayload
	if !h.decode(c, ev, &p) {
		return
	}
	if p.MessageID <= 0 || strings.TrimSpace(p.Emoji) == "" {
		c.sendError(event.CodeInvalidPayload, "messageId and emoji are required", ev.Event, p.RoomID)
		return
	}

	roomID := p.RoomID
	if roomID == "" {
		rooms := c.Rooms()
		switch len(rooms) {
		case 0:
			h.replyError(c, ErrNotInRoom, ev.Event, "")
			return
		case 1:
			roomID = rooms[0]
		default:
			h.replyError(c, ErrAmbiguousRoomID, ev.Event, "")
			return
		}
	}
	if !h.requireMember(c, roomID, ev.Event) {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), storeCallTimeout)
	defer cancel()

	unlock := h.roomLocks.Lock(roomID)
	defer unlock()

	userID := c.UserID()
	var (
		changed bool
		action  string
		err     error
	)
	switch p.Action {
	case event.ReactActionRemove:
		action = model.ReactionRemoved
		changed, err = h.store.RemoveReaction(ctx, roomID, p.MessageID, userID, p.Emoji)
	case event.ReactActionAdd:
		action = model.ReactionAdded
		changed, err = h.store.AddReaction(ctx, roomID, p.MessageID, userID, p.Emoji)
	case "":
		action = model.ReactionAdded
		changed, err = h.store.AddReaction(ctx, roomID, p.MessageID, userID, p.Emoji)
		if err == nil && !changed {
			action = model.ReactionRemoved
			changed, err = h.store.RemoveReaction(ctx, roomID, p.MessageID, userID, p.Emoji)
		}
	default:
		c.sendError(event.CodeInvalidPayload, fmt.Sprintf("unknown action %q", p.Action), ev.Event, roomID)
		return
	}
	if err != nil {
		h.replyError(c, err, ev.Event, roomID)
		return
	}
	if !changed {
		return
	}

	h.publish(roomID, event.EventMessageReactionUpdated, event.ReactionUpdatedPayload{
		RoomID:    roomID,
		MessageID: p.MessageID,
		Emoji:     p.Emoji,
		UserID:    userID,
		Action:    action,
	})
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func (h *Hub) requireMember(c *Client, roomID, eventName string) bool {
	if roomID == "" {
		c.sendError(event.CodeInvalidPayload, "roomId is required", eventName, "")
		return false
	}
	if !c.inRoom(roomID) || !h.rooms.IsMember(roomID, c) {
		h.replyError(c, ErrNotInRoom, eventName, roomID)
		return false
	}
	return true
}

func (h *Hub) publish(roomID, name string, payload any) {
	ev, err := event.New(name, payload)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("event", name), zap.Error(err))
		return
	}
	h.dispatcher.Publish(roomID, ev)
}

func (h *Hub) replyError(c *Client, err error, eventName, roomID string) {
	code, message := errorCode(err)
	c.sendError(code, message, eventName, roomID)
}

// errorCode maps an error to its wire code and a client-facing message.
func errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, ErrForbidden):
		return event.CodeForbidden, err.Error()
	case errors.Is(err, ErrNotInRoom):
		return event.CodeNotInRoom, err.Error()
	case errors.Is(err, ErrUnsupportedRoomKind):
		return event.CodeUnsupportedRoomKind, err.Error()
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrInvalidProject), errors.Is(err, ErrAmbiguousRoomID):
		return event.CodeInvalidPayload, err.Error()
	case errors.Is(err, repo.ErrInvalidMessage), errors.Is(err, repo.ErrInvalidRoomID):
		return event.CodeInvalidPayload, err.Error()
	case errors.Is(err, repo.ErrMessageNotFound):
		return event.CodeMessageNotFound, err.Error()
	case errors.Is(err, repo.ErrNotAuthor):
		return event.CodeNotAuthor, err.Error()
	case errors.Is(err, ErrDirectoryUnavailable):
		return event.CodeStoreUnavailable, "project directory is unavailable, try again"
	default:
		return event.CodeStoreUnavailable, "message store is unavailable, try again"
	}
}

func errorPayload(code, message, eventName, roomID string) model.ErrorPayload {
	return model.ErrorPayload{
		Code:    code,
		Message: message,
		Event:   eventName,
		RoomID:  roomID,
	}
}
