package realtime

import (
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// Client represents one WebSocket connection. It owns no user identity until
// the auth envelope is processed; until then only the connection id and the
// transport handle exist.
type Client struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
	addr   string
	logger *zap.Logger

	router      *router
	rateLimiter *rateLimiter

	// closed is guarded by the hub mutex alongside the client set.
	closed bool

	// alive is cleared when a ping is sent and set again by the pong reply.
	// The write pump terminates the connection when a ping is due while the
	// flag is still clear.
	alive         atomic.Bool
	authenticated atomic.Bool
	userID        atomic.Int64
}

// NewClient wraps a freshly upgraded connection. The client carries no user
// identity yet; the hub launches its pumps on registration.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	opts := hub.opts
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}

	c := &Client{
		id:          uuid.NewString(),
		conn:        conn,
		hub:         hub,
		send:        make(chan []byte, opts.SendBuffer),
		addr:        addr,
		rateLimiter: newRateLimiter(opts.RateLimit.Burst, opts.RateLimit.RefillInterval),
	}
	c.logger = hub.logger.With(zap.String("conn", shortID(c.id)), zap.String("addr", addr))
	c.router = newRouter(c, hub)
	c.alive.Store(true)
	return c
}

// ID returns the connection id assigned at accept time.
func (c *Client) ID() string { return c.id }

// Alive reports whether the connection answered the most recent heartbeat.
func (c *Client) Alive() bool { return c.alive.Load() }

// UserID returns the authenticated user id, or zero before authentication.
func (c *Client) UserID() int64 { return c.userID.Load() }

// Authenticated reports whether the auth handshake completed.
func (c *Client) Authenticated() bool { return c.authenticated.Load() }

func (c *Client) bindUser(userID int64) {
	c.userID.Store(userID)
	c.authenticated.Store(true)
}

// markAlive records a heartbeat reply, by pong control frame or by an
// application-level pong envelope.
func (c *Client) markAlive() {
	c.alive.Store(true)
	if c.conn != nil {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.pongWait()))
	}
}

// sendEnvelope serializes env and queues it for this connection. It reports
// false when the client is gone or its queue is full.
func (c *Client) sendEnvelope(env *Envelope) bool {
	raw, err := env.Encode()
	if err != nil {
		c.logger.Error("encode envelope", zap.String("type", string(env.Type)), zap.Error(err))
		return false
	}
	return c.hub.safeSend(c, raw)
}

func (c *Client) setupReadConnection() {
	wait := c.hub.opts.pongWait()
	if err := c.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		c.logger.Warn("set initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})
}

// handleReadError reports whether the read loop should stop, logging at a
// level matched to how expected the error is.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("inbound envelope exceeded size limit", zap.Int64("limit", c.hub.opts.MaxMessageSize))
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Debug("client disconnected", zap.Error(err))
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Debug("connection closed", zap.Error(err))
		return true
	}

	c.logger.Warn("websocket read error", zap.Error(err))
	return true
}

func (c *Client) readPump() {
	defer func() {
		// During hub shutdown nobody drains the unregister channel; cleanup
		// is handled wholesale by the hub instead.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug("close connection in read pump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				return
			}
			continue
		}

		if !c.rateLimiter.allow() {
			c.logger.Warn("rate limit exceeded, dropping envelope",
				zap.Int("burst", c.hub.opts.RateLimit.Burst))
			continue
		}

		c.router.handle(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug("close connection in write pump", zap.Error(err))
		}
	}()

	for {
		select {
		case raw, ok := <-c.send:
			if !c.writeOutbound(raw, ok) {
				return
			}
		case <-ticker.C:
			if !c.heartbeat() {
				return
			}
		}
	}
}

// writeOutbound delivers one queued envelope, or the close frame when the
// send channel has been closed by the hub.
func (c *Client) writeOutbound(raw []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("set write deadline", zap.Error(err))
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug("write close message", zap.Error(err))
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("write envelope", zap.Error(err))
		}
		return false
	}
	return true
}

// heartbeat advances the liveness state machine: terminate if the previous
// ping went unanswered, otherwise clear the flag and ping again.
func (c *Client) heartbeat() bool {
	if !c.alive.Load() {
		c.logger.Info("heartbeat timeout, terminating stale connection")
		return false
	}
	c.alive.Store(false)

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("set write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("write ping", zap.Error(err))
		}
		return false
	}
	return true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
