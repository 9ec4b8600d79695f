package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/supportchat/internal/logger"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 4096
	defaultSendBufSize    = 256
)

// Tuning holds the per-connection transport knobs, fed from config.
// Zero values fall back to the defaults above.
type Tuning struct {
	SendBufferSize int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
}

func (t Tuning) withDefaults() Tuning {
	if t.SendBufferSize <= 0 {
		t.SendBufferSize = defaultSendBufSize
	}
	if t.WriteTimeout <= 0 {
		t.WriteTimeout = defaultWriteWait
	}
	if t.PongTimeout <= 0 {
		t.PongTimeout = defaultPongWait
	}
	if t.MaxMessageSize <= 0 {
		t.MaxMessageSize = defaultMaxMessageSize
	}
	return t
}

// Pings must arrive well inside the pong window.
func (t Tuning) pingPeriod() time.Duration { return t.PongTimeout * 9 / 10 }

// Client represents a single WebSocket connection from upgrade onward.
// Frames are encoded once at the hub and fan out as raw bytes, so send
// carries []byte. Lifecycle: Accept -> Authorize -> Join -> Start(ctx, cancel)
// -> [readPump, writePump] -> Close -> Wait; sess is nil until Join.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	sess  *Session
	state atomic.Int32

	// done is used as a non-blocking guard in sendToClient.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, hub.tuning.SendBufferSize),
		done: make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// Session returns the immutable handshake result.
func (c *Client) Session() *Session { return c.sess }

// State reports the connection's lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// Start launches readPump and writePump with controlled lifecycle.
// ctx controls pump lifetime; cancel is stored for Close().
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		c.state.Store(int32(StateClosed))
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		c.conn.Close()
	})
}

// readPump reads frames from the WebSocket connection.
// Exits on read error (triggered by conn.Close from Close() or writePump exit).
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	tuning := c.hub.tuning
	c.conn.SetReadLimit(tuning.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(tuning.PongTimeout)); err != nil {
		logger.Errorf("ws set read deadline user=%s: %v", c.sess.UserID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(tuning.PongTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error user=%s: %v", c.sess.UserID, err)
			}
			return
		}

		var ev IncomingEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Errorf("ws unmarshal error user=%s: %v", c.sess.UserID, err)
			c.hub.sendError(c, "invalid payload")
			continue
		}

		c.hub.HandleChatMessage(ctx, c, ev)
	}
}

// writePump writes frames to the WebSocket connection.
// Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	tuning := c.hub.tuning
	ticker := time.NewTicker(tuning.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Errorf("ws close message user=%s: %v", c.sess.UserID, err)
			}
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(tuning.WriteTimeout)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.sess.UserID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(tuning.WriteTimeout)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.sess.UserID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
