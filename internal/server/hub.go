package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/chatterbox/internal/access"
	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/directory"
	"github.com/Tyrowin/chatterbox/internal/presence"
	"github.com/Tyrowin/chatterbox/internal/store"
)

// MessageStore is the persistence the hub needs for message traffic.
type MessageStore interface {
	RecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
	CreateMessage(ctx context.Context, msg *chat.Message, authorize store.AuthorizeFunc) error
}

// HubConfig holds the collaborators of a Hub.
type HubConfig struct {
	Directory     directory.Directory
	Messages      MessageStore
	Presence      *presence.Index
	Logger        *slog.Logger
	BackfillLimit int
	// Now stamps outgoing events and new messages. Defaults to time.Now.
	Now func() time.Time
}

// Hub is the room session manager. It owns the live clients and the
// presence index and performs every presence mutation and every send on
// its own goroutine, so those steps never interleave. Per-connection
// workers do the I/O (room lookups, persistence) and submit the
// follow-up steps to the hub in order, which keeps each connection's
// events FIFO while a slow query only stalls its own connection.
type Hub struct {
	dir      directory.Directory
	messages MessageStore
	presence *presence.Index
	logger   *slog.Logger
	backfill int
	now      func() time.Time

	// clients is owned by the Run goroutine.
	clients map[string]*Client
	ops     chan func()

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub. Run must be started before clients register.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Presence == nil {
		cfg.Presence = presence.New()
	}
	if cfg.BackfillLimit <= 0 {
		cfg.BackfillLimit = 50
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		dir:      cfg.Directory,
		messages: cfg.Messages,
		presence: cfg.Presence,
		logger:   cfg.Logger,
		backfill: cfg.BackfillLimit,
		now:      cfg.Now,
		clients:  make(map[string]*Client),
		ops:      make(chan func()),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Presence returns the hub's presence index.
func (h *Hub) Presence() *presence.Index {
	return h.presence
}

// Run executes submitted operations one at a time until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return
		case op := <-h.ops:
			op()
		}
	}
}

// exec runs fn on the hub goroutine and waits for it. It returns false
// without running fn once the hub is shutting down.
func (h *Hub) exec(fn func()) bool {
	done := make(chan struct{})
	select {
	case h.ops <- func() { defer close(done); fn() }:
	case <-h.ctx.Done():
		return false
	}
	<-done
	return true
}

// Register adds a client and starts its goroutines. It returns false when
// the hub is shutting down.
func (h *Hub) Register(c *Client) bool {
	if c == nil {
		return false
	}
	return h.exec(func() {
		h.clients[c.id] = c
		h.presence.RecordConnect(c.id, c.identity)
		c.logger.Info("client registered", "addr", c.addr, "clients", len(h.clients))

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			c.work()
		}()
		if c.conn != nil {
			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				c.writePump()
			}()
			go func() {
				defer h.wg.Done()
				c.readPump()
			}()
		}
	})
}

// dispatch routes one inbound event. It runs on the client's worker.
func (h *Hub) dispatch(c *Client, ev inbound) {
	if ev.reject != "" {
		h.sendError(c, ev.reject)
		return
	}

	switch ev.event {
	case EventJoin, EventLeave:
		var roomID string
		if err := json.Unmarshal(ev.data, &roomID); err != nil || roomID == "" {
			h.sendError(c, errMsgInvalidPayload)
			return
		}
		if ev.event == EventJoin {
			h.join(c, roomID)
		} else {
			h.leave(c, roomID)
		}
	case EventMessage:
		var req MessageRequest
		if err := json.Unmarshal(ev.data, &req); err != nil || req.RoomID == "" {
			h.sendError(c, errMsgInvalidPayload)
			return
		}
		h.message(c, req)
	case EventTyping:
		var req TypingRequest
		if err := json.Unmarshal(ev.data, &req); err != nil || req.RoomID == "" {
			h.sendError(c, errMsgInvalidPayload)
			return
		}
		h.typing(c, req)
	default:
		h.sendError(c, errMsgUnknownEvent)
	}
}

// sendRoomList delivers chat:list to a freshly connected client.
func (h *Hub) sendRoomList(c *Client) {
	rooms, err := h.dir.ListAccessibleRooms(h.ctx, c.identity)
	if err != nil {
		c.logger.Error("failed to list accessible rooms", "error", err)
		rooms = []chat.Room{}
	}
	h.exec(func() { h.deliver(c, EventList, rooms) })
}

// authorizeRoom loads a fresh room snapshot and checks c may use it.
func (h *Hub) authorizeRoom(c *Client, roomID string) (*chat.Room, error) {
	room, err := h.dir.GetRoom(h.ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := access.Check(c.identity, room); err != nil {
		return nil, err
	}
	return room, nil
}

// roomErrorText maps a lookup or authorization failure to client text,
// logging anything that is not a plain refusal.
func roomErrorText(c *Client, err error, roomID, fallback string) string {
	if errors.Is(err, chat.ErrRoomNotFound) || errors.Is(err, chat.ErrAccessDenied) {
		return errMsgNoAccess
	}
	c.logger.Error("room operation failed", "room_id", roomID, "error", err)
	return fallback
}

func (h *Hub) join(c *Client, roomID string) {
	if _, err := h.authorizeRoom(c, roomID); err != nil {
		h.sendError(c, roomErrorText(c, err, roomID, errMsgJoinFailed))
		return
	}

	var joined bool
	if !h.exec(func() { joined = h.presence.RecordJoin(c.id, roomID) }) {
		return
	}

	msgs, err := h.messages.RecentMessages(h.ctx, roomID, h.backfill)
	if err != nil {
		c.logger.Error("failed to load backfill", "room_id", roomID, "error", err)
		h.exec(func() {
			if joined {
				h.presence.RecordLeave(c.id, roomID)
			}
			h.deliverError(c, errMsgJoinFailed)
		})
		return
	}

	// Access may have been revoked while the backfill loaded.
	if _, err := h.authorizeRoom(c, roomID); err != nil {
		text := roomErrorText(c, err, roomID, errMsgJoinFailed)
		h.exec(func() {
			if h.presence.RecordLeave(c.id, roomID) && !joined {
				h.announceLeft(c, roomID)
			}
			h.deliverError(c, text)
		})
		return
	}

	h.exec(func() {
		h.deliver(c, EventMessages, msgs)
		if !joined {
			return
		}
		h.broadcastRoom(roomID, EventUserJoined, h.presenceEvent(c, roomID), c)
		h.broadcastRoom(roomID, EventActiveUsers, activeUsersOf(roomID, h.presence.ListActiveMembers(roomID)), nil)
	})
}

func (h *Hub) leave(c *Client, roomID string) {
	h.exec(func() {
		if !h.presence.RecordLeave(c.id, roomID) {
			return
		}
		h.announceLeft(c, roomID)
	})
}

func (h *Hub) message(c *Client, req MessageRequest) {
	if err := chat.ValidateMessage(req.Content); err != nil {
		h.sendError(c, err.Error())
		return
	}
	if _, err := h.authorizeRoom(c, req.RoomID); err != nil {
		h.sendError(c, roomErrorText(c, err, req.RoomID, errMsgSendFailed))
		return
	}

	msg := &chat.Message{
		RoomID:    req.RoomID,
		UserID:    c.identity.UserID,
		Content:   req.Content,
		CreatedAt: h.now().UTC(),
	}
	err := h.messages.CreateMessage(h.ctx, msg, func(room *chat.Room) error {
		return access.Check(c.identity, room)
	})
	if err != nil {
		h.sendError(c, roomErrorText(c, err, req.RoomID, errMsgSendFailed))
		return
	}

	h.exec(func() {
		h.broadcastRoom(req.RoomID, EventMessage, msg, nil)
		if !h.presence.Joined(c.id, req.RoomID) {
			h.deliver(c, EventMessage, msg)
		}
	})
}

func (h *Hub) typing(c *Client, req TypingRequest) {
	if _, err := h.authorizeRoom(c, req.RoomID); err != nil {
		c.logger.Debug("dropping typing event", "room_id", req.RoomID, "error", err)
		return
	}

	evt := TypingEvent{
		RoomID:   req.RoomID,
		UserID:   c.identity.UserID,
		Email:    c.identity.Email,
		IsTyping: req.IsTyping,
	}
	h.exec(func() { h.broadcastRoom(req.RoomID, EventTyping, evt, c) })
}

// disconnect is the implicit leave from every room, followed by removal of
// the client. It runs after the client's inbox has drained.
func (h *Hub) disconnect(c *Client) {
	h.exec(func() {
		if _, ok := h.clients[c.id]; !ok {
			return
		}
		rooms := h.presence.RecordDisconnect(c.id)
		delete(h.clients, c.id)
		h.closeClient(c)
		for _, roomID := range rooms {
			h.announceLeft(c, roomID)
		}
		c.logger.Info("client unregistered", "addr", c.addr, "clients", len(h.clients))
	})
}

// EndSession closes every connection authenticated within sessionID and
// reports how many there were. Each one then leaves its rooms through the
// normal disconnect path.
func (h *Hub) EndSession(sessionID string) int {
	if sessionID == "" {
		return 0
	}
	var n int
	h.exec(func() {
		for _, c := range h.clients {
			if c.identity.SessionID != sessionID || c.closed {
				continue
			}
			h.closeClient(c)
			n++
		}
	})
	return n
}

// announceLeft must run on the hub goroutine.
func (h *Hub) announceLeft(c *Client, roomID string) {
	h.broadcastRoom(roomID, EventUserLeft, h.presenceEvent(c, roomID), nil)
	h.broadcastRoom(roomID, EventActiveUsers, activeUsersOf(roomID, h.presence.ListActiveMembers(roomID)), nil)
}

func (h *Hub) presenceEvent(c *Client, roomID string) PresenceEvent {
	return PresenceEvent{
		RoomID:    roomID,
		UserID:    c.identity.UserID,
		Email:     c.identity.Email,
		Timestamp: h.now().UTC(),
	}
}

func (h *Hub) sendError(c *Client, text string) {
	h.exec(func() { h.deliverError(c, text) })
}

// The helpers below must run on the hub goroutine.

func (h *Hub) deliverError(c *Client, text string) {
	h.deliver(c, EventError, text)
}

func (h *Hub) deliver(c *Client, event string, data any) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}
	h.sendRaw(c, payload)
}

// broadcastRoom sends one event to every connection joined to roomID
// except the one given.
func (h *Hub) broadcastRoom(roomID, event string, data any, except *Client) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}

	for _, connID := range h.presence.Connections(roomID) {
		c, ok := h.clients[connID]
		if !ok || c == except {
			continue
		}
		h.sendRaw(c, payload)
	}
}

// sendRaw queues payload for c. A client whose buffer is full is cut off;
// its worker performs the disconnect once its reader notices.
func (h *Hub) sendRaw(c *Client, payload []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("client removed due to full send buffer", "addr", c.addr)
		h.closeClient(c)
	}
}

func (h *Hub) closeClient(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// shutdownClients closes every connection. It runs on the hub goroutine as
// Run exits.
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	for _, c := range h.clients {
		h.closeClient(c)
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
				c.logger.Warn("error closing client connection", "addr", c.addr, "error", err)
			}
		}
	}

	h.logger.Info("closed client connections", "count", len(h.clients))
}

// Shutdown stops the hub and waits for all client goroutines to finish, or
// for timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
