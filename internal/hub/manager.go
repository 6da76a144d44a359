package hub

import (
	"Roomchat/internal/auth"
	"Roomchat/internal/lock"
	"Roomchat/internal/repo"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options tunes the hub. Zero values fall back to the defaults below.
type Options struct {
	AuthTimeout            time.Duration
	HistoryLimit           int
	MaxHistoryLimit        int
	TypingTTL              time.Duration
	TypingSweep            time.Duration
	MaxMessageLength       int
	SupportRoomName        string
	SupportRoomDescription string
	AllowedOrigins         []string
	SendBuffer             int
}

func (o Options) withDefaults() Options {
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 10 * time.Second
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = repo.DefaultHistoryLimit
	}
	if o.MaxHistoryLimit < o.HistoryLimit {
		o.MaxHistoryLimit = max(100, o.HistoryLimit)
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = 3 * time.Second
	}
	if o.TypingSweep <= 0 {
		o.TypingSweep = 500 * time.Millisecond
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = 4000
	}
	if o.SupportRoomName == "" {
		o.SupportRoomName = "Support"
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256 // per-connection outbound buffer size
	}
	return o
}

// historyCache is implemented by stores that keep per-room state worth
// dropping once a room is evicted.
type historyCache interface {
	Forget(roomID string)
}

type Hub struct {
	opts       Options
	sessions   *SessionRegistry
	rooms      *RoomRegistry
	typing     *TypingTracker
	dispatcher *Dispatcher
	store      repo.MessageStore
	identity   auth.IdentityProvider
	roomLocks  *lock.Keyed
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	unregister chan *Client
	wg         sync.WaitGroup
	loopDone   chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once
}

func NewHub(opts Options, store repo.MessageStore, directory ProjectAuthorizer, identity auth.IdentityProvider, logger *zap.Logger) *Hub {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		opts:       opts,
		sessions:   NewSessionRegistry(),
		rooms:      NewRoomRegistry(directory, opts.SupportRoomName, opts.SupportRoomDescription),
		typing:     NewTypingTracker(opts.TypingTTL),
		store:      store,
		identity:   identity,
		roomLocks:  lock.NewKeyed(),
		logger:     logger,
		unregister: make(chan *Client, 1024),
		loopDone:   make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	h.dispatcher = NewDispatcher(h.rooms, h.scheduleRemoval, logger)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	// run manager loop
	go h.run()

	return h
}

func (h *Hub) run() {
	defer close(h.loopDone)

	sweep := time.NewTicker(h.opts.TypingSweep)
	defer sweep.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.unregister:
			h.removeClient(c)
		case <-sweep.C:
			for _, k := range h.typing.Sweep() {
				h.broadcastTyping(k.RoomID, k.UserID, false)
			}
		}
	}
}

// scheduleRemoval hands c to the manager loop without blocking the caller.
func (h *Hub) scheduleRemoval(c *Client) {
	select {
	case h.unregister <- c:
	default:
		go func() {
			select {
			case h.unregister <- c:
			case <-h.ctx.Done():
			}
		}()
	}
}

// removeClient runs the disconnect cleanup once per connection: session,
// every joined room, and the typing flags the user leaves behind.
func (h *Hub) removeClient(c *Client) {
	c.detachOnce.Do(func() {
		c.closeWith(websocket.CloseNormalClosure, "")
		h.sessions.Remove(c)

		userID := c.UserID()
		for _, roomID := range c.Rooms() {
			h.leave(c, roomID)
		}

		c.logger.Info("client removed",
			zap.String("user_id", userID),
			zap.Duration("connected_for", time.Since(c.ConnectedAt)),
		)
	})
}

// leave takes c out of a room. When the user has no connection left in the
// room its typing flag is cleared for everybody else.
func (h *Hub) leave(c *Client, roomID string) {
	_, evicted := h.rooms.RemoveMember(roomID, c)
	c.leaveRoom(roomID)

	if evicted {
		h.typing.ClearRoom(roomID)
		if cache, ok := h.store.(historyCache); ok {
			cache.Forget(roomID)
		}
		h.logger.Debug("room evicted", zap.String("room_id", roomID))
		return
	}

	userID := c.UserID()
	if userID != "" && !h.rooms.HasUser(roomID, userID) && h.typing.Set(roomID, userID, false) {
		h.broadcastTyping(roomID, userID, false)
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// non-browser clients send no origin
	if origin == "" {
		return true
	}

	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and starts the connection unauthenticated.
// The client must authenticate within the configured deadline.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(conn, h)
	h.sessions.Add(c)

	c.mu.Lock()
	c.authTimer = time.AfterFunc(h.opts.AuthTimeout, func() { h.authExpired(c) })
	c.mu.Unlock()

	c.start()
	c.logger.Info("client connected", zap.String("remote_addr", r.RemoteAddr))
}

func (h *Hub) authExpired(c *Client) {
	if c.closeIfUnauthenticated(websocket.ClosePolicyViolation, "authentication timeout") {
		c.logger.Info("authentication deadline passed, closing connection")
		h.scheduleRemoval(c)
	}
}

// Stop closes every connection and waits for their goroutines, or for ctx.
func (h *Hub) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() {
		for _, c := range h.sessions.All() {
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
		}
		h.cancel()
	})

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		<-h.loopDone
		close(done)
	}()

	select {
	case <-done:
		for _, c := range h.sessions.All() {
			h.sessions.Remove(c)
		}
		h.logger.Info("hub stopped")
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("hub stop timed out"), ctx.Err())
	}
}

// Sessions exposes the session registry for monitoring.
func (h *Hub) Sessions() *SessionRegistry { return h.sessions }

// Rooms exposes the room registry for monitoring.
func (h *Hub) Rooms() *RoomRegistry { return h.rooms }

// Typing exposes the typing tracker for monitoring.
func (h *Hub) Typing() *TypingTracker { return h.typing }
