package hub

import (
	"Roomchat/internal/event"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connection lifecycle states
const (
	StateUnauthenticated = "connected_unauthenticated"
	StateAuthenticated   = "authenticated"
	StateInRoom          = "in_room"
	StateClosed          = "closed"
)

var (
	// tuning parameters
	writeWait      = 10 * time.Second    // time allowed to write a message to the peer
	pongWait       = 20 * time.Second    // time allowed to read the next pong message from the peer
	pingInterval   = (pongWait * 9) / 10 // send pings to peer with this period
	maxMessageSize = 64 * 1024           // max inbound message size (64KB)
	inboundBufSize = 64                  // events read but not yet processed
)

// Client is one live transport link. It is owned by the session registry and
// referenced from every room it joined.
type Client struct {
	ID          string
	ConnectedAt time.Time

	conn    *websocket.Conn
	hub     *Hub
	egress  chan event.WsEvent
	inbound chan event.WsEvent
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	userID     string
	rooms      []string
	closing    bool
	closeCode  int
	closeText  string
	authTimer  *time.Timer
	detachOnce sync.Once
}

func newClient(conn *websocket.Conn, h *Hub) *Client {
	ctx, cancel := context.WithCancel(h.ctx)
	id := uuid.New().String()

	return &Client{
		ID:          id,
		ConnectedAt: time.Now(),
		conn:        conn,
		hub:         h,
		egress:      make(chan event.WsEvent, h.opts.SendBuffer),
		inbound:     make(chan event.WsEvent, inboundBufSize),
		logger:      h.logger.With(zap.String("connection_id", id)),
		ctx:         ctx,
		cancel:      cancel,
		closeCode:   websocket.CloseNormalClosure,
	}
}

func (c *Client) start() {
	c.hub.wg.Add(3)
	go c.readMessages()
	go c.processMessages()
	go c.writeMessages()
}

// readMessages decodes frames and queues them for processMessages, so a
// slow handler applies backpressure to the socket instead of reordering.
func (c *Client) readMessages() {
	defer func() {
		c.hub.wg.Done()
		c.closeWith(websocket.CloseNormalClosure, "")
		c.hub.scheduleRemoval(c)
	}()

	c.conn.SetReadLimit(int64(maxMessageSize))
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(c.pongHandler)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		// any frame proves the peer is alive
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var ev event.WsEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Event == "" {
			c.sendError(event.CodeInvalidPayload, "frame is not a valid event", "", "")
			continue
		}

		select {
		case c.inbound <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) logReadError(err error) {
	if c.ctx.Err() != nil {
		return
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		c.logger.Info("client disconnected")
		return
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		c.logger.Info("client timed out - closing connection")
		return
	}

	if websocket.IsUnexpectedCloseError(err) {
		c.logger.Warn("unexpected close", zap.Error(err))
		return
	}

	c.logger.Warn("error reading from client", zap.Error(err))
}

// processMessages handles the events of this connection one at a time.
func (c *Client) processMessages() {
	defer c.hub.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.inbound:
			c.hub.handleEvent(c, ev)
		}
	}
}

func (c *Client) writeMessages() {
	ticker := time.NewTicker(pingInterval)

	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			code, text := c.closeReason()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text),
				time.Now().Add(writeWait),
			)
			return
		case ev := <-c.egress:
			if err := c.write(ev); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// flush writes whatever was queued before the connection started closing,
// such as the error that caused the close.
func (c *Client) flush() {
	for {
		select {
		case ev := <-c.egress:
			if err := c.write(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(ev event.WsEvent) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}

func (c *Client) pongHandler(string) error {
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

// trySend queues ev without blocking. It reports false when the connection
// is closing or its buffer is full.
func (c *Client) trySend(ev event.WsEvent) bool {
	if c.ctx.Err() != nil {
		return false
	}

	select {
	case c.egress <- ev:
		return true
	default:
		return false
	}
}

// send queues ev for this connection and drops the connection when it
// cannot keep up.
func (c *Client) send(name string, payload any) {
	ev, err := event.New(name, payload)
	if err != nil {
		c.logger.Error("failed to encode event", zap.String("event", name), zap.Error(err))
		return
	}

	if !c.trySend(ev) && c.ctx.Err() == nil {
		c.logger.Warn("egress full, disconnecting client")
		c.closeWith(websocket.ClosePolicyViolation, "too slow")
		c.hub.scheduleRemoval(c)
	}
}

func (c *Client) sendError(code, message, eventName, roomID string) {
	c.send(event.EventError, errorPayload(code, message, eventName, roomID))
}

// closeWith starts closing the connection. The first reason wins.
func (c *Client) closeWith(code int, text string) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.markClosingLocked(code, text)
	c.mu.Unlock()

	c.cancel()
}

// closeIfUnauthenticated closes the connection unless a user was bound first.
func (c *Client) closeIfUnauthenticated(code int, text string) bool {
	c.mu.Lock()
	if c.userID != "" || c.closing {
		c.mu.Unlock()
		return false
	}
	c.markClosingLocked(code, text)
	c.mu.Unlock()

	c.cancel()
	return true
}

func (c *Client) markClosingLocked(code int, text string) {
	c.closing = true
	c.closeCode = code
	c.closeText = text
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
}

func (c *Client) closeReason() (int, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closeCode, c.closeText
}

func (c *Client) isClosing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closing
}

// bindUser records the authenticated identity. It fails once the connection
// is closing or already bound.
func (c *Client) bindUser(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing || c.userID != "" {
		return false
	}
	c.userID = userID
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	return true
}

// UserID returns the bound user, or "" before authentication.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// State reports where the connection is in its lifecycle.
func (c *Client) State() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.closing:
		return StateClosed
	case c.userID == "":
		return StateUnauthenticated
	case len(c.rooms) > 0:
		return StateInRoom
	default:
		return StateAuthenticated
	}
}

// Rooms returns the joined room ids in join order.
func (c *Client) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.rooms...)
}

func (c *Client) inRoom(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.rooms {
		if id == roomID {
			return true
		}
	}
	return false
}

// joinRoom adds roomID to the joined set. It fails once the connection is
// closing so a late join cannot outlive the disconnect cleanup.
func (c *Client) joinRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return false
	}
	for _, id := range c.rooms {
		if id == roomID {
			return true
		}
	}
	c.rooms = append(c.rooms, roomID)
	return true
}

func (c *Client) leaveRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, id := range c.rooms {
		if id == roomID {
			c.rooms = append(c.rooms[:i], c.rooms[i+1:]...)
			return
		}
	}
}
