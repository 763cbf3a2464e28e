package chat

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Client represents one live WebSocket session. It owns the connection's
// read/write pumps and its claimed nickname; registry and room state live in
// the hub's indexes.
type Client struct {
	id     uuid.UUID
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	addr   string
	closed bool

	nickMu   sync.RWMutex
	nickname string

	limiter *rateLimiter
	logger  *slog.Logger
}

// NewClient creates a Client for an upgraded WebSocket connection. The send
// channel is buffered; a client that cannot drain it is dropped by the hub.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	id := uuid.New()
	if conn != nil {
		conn.SetReadLimit(hub.cfg.MaxMessageSize)
	}
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, hub.cfg.SendQueueSize),
		hub:     hub,
		addr:    addr,
		limiter: newRateLimiter(hub.cfg.RateLimit.Burst, hub.cfg.RateLimit.RefillInterval),
		logger:  hub.logger.With(slog.String("connID", id.String()), slog.String("addr", addr)),
	}
}

// ID returns the opaque connection identifier.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// Nickname returns the claimed nickname, or "" while the connection is
// anonymous.
func (c *Client) Nickname() string {
	c.nickMu.RLock()
	defer c.nickMu.RUnlock()
	return c.nickname
}

func (c *Client) setNickname(nickname string) {
	c.nickMu.Lock()
	c.nickname = nickname
	c.nickMu.Unlock()
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("failed to set read deadline", slog.Any("error", err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs the error with the right severity and always signals
// the read loop to stop.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("message exceeded size limit",
			slog.Int64("limit", c.hub.cfg.MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Debug("client disconnected", slog.Any("reason", err))
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Debug("connection closed", slog.Any("reason", err))
	default:
		c.logger.Warn("websocket read error", slog.Any("error", err))
	}
}

func (c *Client) readPump() {
	defer func() {
		// During hub shutdown nobody drains unregister; the select keeps the
		// pump from blocking forever on it.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection in readPump", slog.Any("error", err))
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.limiter.allow() {
			c.logger.Warn("rate limit exceeded; discarding message")
			c.hub.sendError(c, "you are sending messages too quickly")
			continue
		}
		c.hub.dispatch(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection in writePump", slog.Any("error", err))
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Warn("write failed", slog.Any("error", err))
				}
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.hub.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// isExpectedCloseError checks if an error is expected during connection
// closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
