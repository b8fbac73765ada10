package websocket

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

// Socket is the part of *websocket.Conn a Client drives.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Socket = (*websocket.Conn)(nil)

type Options struct {
	SendBuffer     int
	PongWait       time.Duration
	PingPeriod     time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:     256,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 8192,
	}
}

type Kind int

const (
	KindChat Kind = iota
	KindNotification
)

func (k Kind) String() string {
	if k == KindNotification {
		return "notification"
	}
	return "chat"
}

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Client is one duplex connection. Outbound frames go through a bounded
// buffer drained by WritePump; inbound frames are read by ReadPump.
type Client struct {
	id       string
	socket   Socket
	identity models.Identity
	kind     Kind
	room     string
	roomID   int64
	opts     Options

	state atomic.Int32

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(socket Socket, identity models.Identity, kind Kind, room string, roomID int64, opts Options) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	return &Client{
		id:       uuid.NewString(),
		socket:   socket,
		identity: identity,
		kind:     kind,
		room:     room,
		roomID:   roomID,
		opts:     opts,
		send:     make(chan []byte, opts.SendBuffer),
	}
}

// NewChatClient creates a room-scoped connection.
func NewChatClient(socket Socket, identity models.Identity, room string, roomID int64, opts Options) *Client {
	return newClient(socket, identity, KindChat, room, roomID, opts)
}

// NewNotificationClient creates a connection scoped to identity only.
func NewNotificationClient(socket Socket, identity models.Identity, opts Options) *Client {
	return newClient(socket, identity, KindNotification, "", 0, opts)
}

func (c *Client) ID() string                { return c.id }
func (c *Client) Identity() models.Identity { return c.identity }
func (c *Client) UserID() int64             { return c.identity.UserID }
func (c *Client) Username() string          { return c.identity.Username }
func (c *Client) Kind() Kind                { return c.kind }
func (c *Client) Room() string              { return c.room }
func (c *Client) RoomID() int64             { return c.roomID }
func (c *Client) State() State              { return State(c.state.Load()) }

func (c *Client) String() string {
	if c.kind == KindChat {
		return fmt.Sprintf("%s[%s user=%d room=%s]", c.kind, c.id, c.identity.UserID, c.room)
	}
	return fmt.Sprintf("%s[%s user=%d]", c.kind, c.id, c.identity.UserID)
}

// MarkOpen moves Connecting to Open. It reports false if the client
// already left Connecting.
func (c *Client) MarkOpen() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// MarkClosed moves the client to Closed. Only the first caller gets true,
// which makes it the owner of cleanup.
func (c *Client) MarkClosed() bool {
	for {
		cur := c.state.Load()
		if State(cur) == StateClosed {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(StateClosed)) {
			return true
		}
	}
}

// Reject closes a client that never opened: Connecting goes straight to
// Closed and the peer gets a close frame. It does nothing once the client
// has opened.
func (c *Client) Reject() {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosed)) {
		return
	}
	c.Close()
	c.setWriteDeadline()
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
	c.socket.Close()
}

// Send queues data without blocking. A full buffer closes the client and
// returns ErrSlowConsumer.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.closeLocked()
		return ErrSlowConsumer
	}
}

func (c *Client) SendEvent(ev models.Outbound) error {
	data, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return c.Send(data)
}

// Close stops outbound delivery. WritePump flushes what is queued, sends a
// close frame and closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump blocks reading frames and passes each to handle until the
// transport fails or the peer closes. A normal close returns nil.
func (c *Client) ReadPump(handle func(payload []byte)) error {
	defer func() {
		c.Close()
		c.socket.Close()
	}()

	if c.opts.MaxMessageSize > 0 {
		c.socket.SetReadLimit(c.opts.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.socket.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		handle(message)
	}
}

func (c *Client) extendReadDeadline() {
	if c.opts.PongWait > 0 {
		c.socket.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	}
}

// WritePump drains the send buffer to the socket and pings the peer.
func (c *Client) WritePump() {
	period := c.opts.PingPeriod
	if period <= 0 {
		period = DefaultOptions().PingPeriod
	}
	ticker := time.NewTicker(period)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.setWriteDeadline()
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Warn("Write error on %s: %v", c, err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.setWriteDeadline()
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Client) setWriteDeadline() {
	if c.opts.WriteWait > 0 {
		c.socket.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	}
}
