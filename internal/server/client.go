package server

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Client is one live websocket channel bound to an authenticated user.
type Client struct {
	id             string
	userID         string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	rooms          map[string]struct{} // guarded by hub.mutex
	maxMessageSize int64
	limiter        *rate.Limiter
	rateLimit      RateLimit
	dispatch       func(c *Client, raw []byte)
	logger         *zap.Logger
}

// NewClient creates a channel for userID on conn. dispatch receives every
// inbound frame that passes the rate limiter.
func NewClient(conn *websocket.Conn, hub *Hub, userID, addr string, opts Options, dispatch func(*Client, []byte)) *Client {
	opts = sanitizeOptions(opts)
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	id := uuid.NewString()
	return &Client{
		id:             id,
		userID:         userID,
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		hub:            hub,
		addr:           addr,
		rooms:          make(map[string]struct{}),
		maxMessageSize: opts.MaxMessageSize,
		limiter:        newRateLimiter(opts.RateLimit),
		rateLimit:      opts.RateLimit,
		dispatch:       dispatch,
		logger:         hub.logger.With(zap.String("channel", id), zap.String("user", userID)),
	}
}

// ID returns the channel id.
func (c *Client) ID() string { return c.id }

// UserID returns the user the channel is bound to.
func (c *Client) UserID() string { return c.userID }

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("set_read_deadline_failed", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("set_read_deadline_failed", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs the read failure at a level matching its cause. Every
// read error ends the read loop.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("message_too_large", zap.Int64("limit", c.maxMessageSize))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.logger.Debug("client_disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("connection_closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected_close", zap.Error(err))
	default:
		c.logger.Warn("read_failed", zap.Error(err))
	}
}

// checkRateLimit reports whether the next inbound event may be processed.
func (c *Client) checkRateLimit() bool {
	if c.limiter.Allow() {
		return true
	}
	c.logger.Info("rate_limited",
		zap.Int("burst", c.rateLimit.Burst),
		zap.Duration("interval", c.rateLimit.RefillInterval))
	c.hub.metrics.RateLimited()
	return false
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("close_failed", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.checkRateLimit() {
			continue
		}
		if c.dispatch != nil {
			c.dispatch(c, raw)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("close_failed", zap.Error(err))
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.write(message, ok) {
				return
			}
		case <-ticker.C:
			if !c.ping() {
				return
			}
		}
	}
}

// write sends one frame per event; a closed send channel becomes a close frame.
func (c *Client) write(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("set_write_deadline_failed", zap.Error(err))
		return false
	}
	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug("write_close_failed", zap.Error(err))
		}
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Warn("write_failed", zap.Error(err))
		return false
	}
	return true
}

func (c *Client) ping() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("set_write_deadline_failed", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug("ping_failed", zap.Error(err))
		return false
	}
	return true
}

// Send queues an event for this channel only.
func (c *Client) Send(event string, payload any) bool {
	message, err := encodeEvent(event, payload)
	if err != nil {
		c.logger.Error("encode_event_failed", zap.String("event", event), zap.Error(err))
		return false
	}
	return c.hub.safeSend(c, message)
}
