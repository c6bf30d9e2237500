package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errSendBufferFull = errors.New("send buffer full")

type connectionOptions struct {
	heartbeatInterval time.Duration
	pongTimeout       time.Duration
	sendBufferSize    int
	writeTimeout      time.Duration
	maxMessageSize    int64
}

type outboundMessage struct {
	messageType int
	payload     []byte
}

// Connection wraps one upgraded WebSocket. All writes funnel through a
// buffered channel drained by a single writer goroutine; a full buffer closes
// the connection rather than blocking the broadcasting caller.
type Connection struct {
	id     string
	conn   *websocket.Conn
	logger zerolog.Logger

	send      chan outboundMessage
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	opts    connectionOptions
	onClose func()
}

func newConnection(conn *websocket.Conn, id string, logger zerolog.Logger, opts connectionOptions, onClose func()) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:      id,
		conn:    conn,
		logger:  logger,
		send:    make(chan outboundMessage, opts.sendBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		opts:    opts,
		onClose: onClose,
	}
}

// ID returns the transport-level connection identifier.
func (c *Connection) ID() string { return c.id }

// Context exposes the lifecycle context for hooks.
func (c *Connection) Context() context.Context { return c.ctx }

// Send enqueues a text frame for the writer goroutine. Sessions that cannot
// keep up are disconnected so one slow reader never stalls a room.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}

	msg := outboundMessage{messageType: websocket.TextMessage, payload: payload}
	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn().Str("connection", c.id).Msg("send buffer full; closing connection")
		c.CloseWithCode(websocket.CloseTryAgainLater, "backpressure")
		return errSendBufferFull
	}
}

// CloseWithCode enqueues a close frame with the given status code, then tears
// the connection down once it is flushed.
func (c *Connection) CloseWithCode(code int, reason string) {
	msg := outboundMessage{
		messageType: websocket.CloseMessage,
		payload:     websocket.FormatCloseMessage(code, reason),
	}
	select {
	case c.send <- msg:
	default:
		c.Close()
	}
}

// Run starts the read/write pumps until the connection is closed.
func (c *Connection) Run(hooks Hooks) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	c.readLoop(hooks)
	c.Close()
	wg.Wait()

	if hooks.OnDisconnect != nil {
		hooks.OnDisconnect(c)
	}
}

// Close tears the connection down exactly once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *Connection) readLoop(hooks Hooks) {
	c.conn.SetReadLimit(c.opts.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.pongTimeout))
	})

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("read loop exited")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if hooks.OnMessage != nil {
			hooks.OnMessage(c.ctx, c, payload)
		}
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
			if msg.messageType == websocket.CloseMessage {
				_ = c.conn.WriteMessage(websocket.CloseMessage, msg.payload)
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(msg.messageType, msg.payload); err != nil {
				c.logger.Debug().Err(err).Msg("write loop error")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Hooks connect the transport layer to the collaboration service.
type Hooks struct {
	OnMessage    func(ctx context.Context, conn *Connection, payload []byte)
	OnDisconnect func(conn *Connection)
}
