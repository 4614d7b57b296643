package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatterbox/internal/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBufferSize  = 256
	inboxBufferSize = 64
)

// inbound is one decoded frame waiting in a client's inbox. A non-empty
// reject carries the error text for a frame the reader refused.
type inbound struct {
	event  string
	data   json.RawMessage
	reject string
}

// ClientLimits bounds what a single connection may send.
type ClientLimits struct {
	MaxMessageSize int64
	RateLimit      RateLimitConfig
}

// Client is one authenticated WebSocket connection. Three goroutines serve
// it: readPump decodes frames into the inbox, work drains the inbox in
// order, and writePump flushes the send buffer to the socket.
type Client struct {
	id       string
	identity chat.Identity
	conn     *websocket.Conn
	hub      *Hub
	addr     string
	logger   *slog.Logger

	// send and closed are owned by the hub goroutine.
	send   chan []byte
	closed bool

	inbox          chan inbound
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a Client for an authenticated connection. conn may be
// nil, in which case no pumps are started and the inbox is fed directly.
func NewClient(conn *websocket.Conn, hub *Hub, identity chat.Identity, addr string, limits ClientLimits) *Client {
	id := uuid.NewString()
	if limits.MaxMessageSize <= 0 {
		limits.MaxMessageSize = defaultConfig().MaxMessageSize
	}
	if limits.RateLimit.Burst <= 0 || limits.RateLimit.RefillInterval <= 0 {
		limits.RateLimit = defaultConfig().RateLimit
	}
	if conn != nil {
		conn.SetReadLimit(limits.MaxMessageSize)
	}

	return &Client{
		id:             id,
		identity:       identity,
		conn:           conn,
		hub:            hub,
		addr:           addr,
		logger:         hub.logger.With("conn_id", id, "user_id", identity.UserID),
		send:           make(chan []byte, sendBufferSize),
		inbox:          make(chan inbound, inboxBufferSize),
		maxMessageSize: limits.MaxMessageSize,
		rateLimiter:    newRateLimiter(limits.RateLimit.Burst, limits.RateLimit.RefillInterval),
		rateLimit:      limits.RateLimit,
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Identity returns the identity resolved at handshake time.
func (c *Client) Identity() chat.Identity {
	return c.identity
}

// work processes the inbox in arrival order and disconnects the client
// from the hub once the reader is gone and the inbox is drained.
func (c *Client) work() {
	defer c.hub.disconnect(c)

	c.hub.sendRoomList(c)
	for {
		select {
		case ev, ok := <-c.inbox:
			if !ok {
				return
			}
			c.hub.dispatch(c, ev)
		case <-c.hub.ctx.Done():
			return
		}
	}
}

// enqueue hands a frame to the worker. It returns false once the hub is
// shutting down.
func (c *Client) enqueue(ev inbound) bool {
	select {
	case c.inbox <- ev:
		return true
	case <-c.hub.ctx.Done():
		return false
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// logReadError records why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected websocket error", "error", err)
	default:
		c.logger.Warn("websocket read error", "error", err)
	}
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn("rate limit exceeded; discarding event",
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// decodeFrame turns a raw frame into an inbox entry.
func decodeFrame(raw []byte) inbound {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		return inbound{reject: errMsgInvalidPayload}
	}
	return inbound{event: env.Event, data: env.Data}
}

func (c *Client) readPump() {
	defer close(c.inbox)

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		ev := inbound{reject: errMsgRateLimited}
		if c.checkRateLimit() {
			ev = decodeFrame(raw)
		}
		if !c.enqueue(ev) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("error closing connection in writePump", "error", err)
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing message", "error", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("error writing close message", "error", err)
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("error writing ping message", "error", err)
		return false
	}
	return true
}
