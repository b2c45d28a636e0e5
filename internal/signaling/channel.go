package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/duocall/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // enough for SDP with many m-lines
	outboxSize     = 64
)

var ErrAlreadyOpen = errors.New("signaling channel already open")

// Channel is a duplex message channel to exactly one remote peer, bound to
// one room. It delivers messages in the order they were received and writes
// them in the order Send was called. It never reconnects: once the
// underlying WebSocket goes away the channel is closed for good.
type Channel struct {
	roomID string
	codec  Codec
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	open      bool
	onMessage func(Message)
	onOpen    func()
	onClose   func(error)

	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	writerEnd chan struct{}
}

// ChannelOption customizes a Channel.
type ChannelOption func(*Channel)

// WithCodec selects the outbound framing. Inbound frames are decoded by
// frame type regardless.
func WithCodec(codec Codec) ChannelOption {
	return func(c *Channel) { c.codec = codec }
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) ChannelOption {
	return func(c *Channel) { c.dialer = d }
}

// NewChannel creates a closed-until-opened channel for roomID.
func NewChannel(roomID string, opts ...ChannelOption) *Channel {
	c := &Channel{
		roomID:    roomID,
		codec:     JSONCodec{},
		dialer:    websocket.DefaultDialer,
		outbox:    make(chan []byte, outboxSize),
		done:      make(chan struct{}),
		writerEnd: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RoomID returns the room the channel is bound to.
func (c *Channel) RoomID() string { return c.roomID }

// OnMessage registers the single inbound handler. Registering again detaches
// the previous handler; nil detaches without replacement.
func (c *Channel) OnMessage(fn func(Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnOpen registers the handler fired once the WebSocket is connected.
func (c *Channel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

// OnClose registers the handler fired once when the channel closes. err is
// nil for a local Close.
func (c *Channel) OnClose(fn func(error)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Open dials url, starts the pumps and fires the open handler.
func (c *Channel) Open(ctx context.Context, url string) error {
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	return c.attach(conn)
}

// attach binds an established connection to the channel.
func (c *Channel) attach(conn *websocket.Conn) error {
	c.mu.Lock()
	if c.isDone() {
		c.mu.Unlock()
		conn.Close()
		return ErrChannelClosed
	}
	if c.open {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyOpen
	}
	c.conn = conn
	c.open = true
	onOpen := c.onOpen
	c.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writePump(conn)
	go c.readPump(conn)

	util.LogDebug("[%s] signaling channel open (%s)", c.roomID, c.codec.Name())
	if onOpen != nil {
		onOpen()
	}
	return nil
}

// Send enqueues msg for transmission. It fails with ErrChannelClosed when the
// channel is not open; it never retries.
func (c *Channel) Send(msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	open := c.open
	c.mu.Unlock()
	if !open || c.isDone() {
		return ErrChannelClosed
	}

	data, err := c.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}

	select {
	case c.outbox <- data:
		return nil
	case <-c.done:
		return ErrChannelClosed
	}
}

// Close releases the WebSocket. Frames already queued are flushed before the
// close frame. Idempotent.
func (c *Channel) Close() error {
	c.shutdown(nil)

	c.mu.Lock()
	open := c.open
	c.mu.Unlock()
	if open {
		<-c.writerEnd
	}
	return nil
}

// Done is closed once the channel is closed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Channel) shutdown(cause error) {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		onClose := c.onClose
		c.mu.Unlock()

		if cause != nil {
			util.LogWarning("[%s] signaling channel lost: %v", c.roomID, cause)
		} else {
			util.LogDebug("[%s] signaling channel closed", c.roomID)
		}
		if onClose != nil {
			onClose(cause)
		}
	})
}

// readPump decodes inbound frames and hands each to the current handler, one
// at a time, in arrival order.
func (c *Channel) readPump(conn *websocket.Conn) {
	for {
		frameType, data, err := conn.ReadMessage()
		if err != nil {
			if c.isDone() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown(fmt.Errorf("%w: remote closed", ErrChannelClosed))
			} else {
				c.shutdown(fmt.Errorf("%w: %v", ErrChannelClosed, err))
			}
			return
		}

		msg, err := decodeFrame(frameType, data)
		if err != nil {
			util.LogWarning("[%s] dropping inbound frame: %v", c.roomID, err)
			continue
		}
		util.Stats.AddRecv(len(data))

		c.mu.Lock()
		handler := c.onMessage
		c.mu.Unlock()

		if handler == nil {
			util.LogDebug("[%s] no handler for %s, dropped", c.roomID, msg.Type)
			continue
		}
		handler(msg)
	}
}

// writePump is the single writer on the connection. It drains the outbox,
// keeps the connection alive with pings and writes the close frame on
// shutdown.
func (c *Channel) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)

	var cause error
	defer func() {
		ticker.Stop()
		conn.Close()
		close(c.writerEnd)
		if cause != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrChannelClosed, cause))
		}
	}()

	for {
		select {
		case data := <-c.outbox:
			if cause = c.write(conn, data); cause != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if cause = conn.WriteMessage(websocket.PingMessage, nil); cause != nil {
				return
			}

		case <-c.done:
			c.drain(conn)
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain flushes frames queued before shutdown.
func (c *Channel) drain(conn *websocket.Conn) {
	for {
		select {
		case data := <-c.outbox:
			if err := c.write(conn, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Channel) write(conn *websocket.Conn, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(c.codec.FrameType(), data); err != nil {
		return err
	}
	util.Stats.AddSent(len(data))
	return nil
}
