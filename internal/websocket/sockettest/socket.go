// Package sockettest provides an in-memory websocket.Socket for tests.
package sockettest

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("sockettest: use of closed socket")

// Socket feeds ReadMessage from Push and records text frames written to it.
type Socket struct {
	inbound chan []byte
	fail    chan error
	written chan []byte

	mu         sync.Mutex
	closed     bool
	closeCh    chan struct{}
	writeErr   error
	closeFrame bool
	readLimit  int64
	pong       func(string) error
}

func New() *Socket {
	return &Socket{
		inbound: make(chan []byte, 64),
		fail:    make(chan error, 1),
		written: make(chan []byte, 1024),
		closeCh: make(chan struct{}),
	}
}

// Push queues one inbound text frame.
func (s *Socket) Push(frame []byte) {
	s.inbound <- frame
}

// PeerClose makes the next read return a normal close from the peer.
func (s *Socket) PeerClose() {
	s.fail <- &websocket.CloseError{Code: websocket.CloseNormalClosure}
}

// Fail makes the next read return err, as a broken transport would.
func (s *Socket) Fail(err error) {
	s.fail <- err
}

// FailWrites makes every later write return err.
func (s *Socket) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// ReadMessage returns queued frames before any pending failure.
func (s *Socket) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-s.inbound:
		return websocket.TextMessage, msg, nil
	default:
	}
	select {
	case msg := <-s.inbound:
		return websocket.TextMessage, msg, nil
	case err := <-s.fail:
		return 0, nil, err
	case <-s.closeCh:
		return 0, nil, ErrClosed
	}
}

func (s *Socket) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	switch messageType {
	case websocket.TextMessage, websocket.BinaryMessage:
		s.written <- append([]byte(nil), data...)
	case websocket.CloseMessage:
		s.closeFrame = true
	}
	return nil
}

func (s *Socket) SetReadLimit(limit int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readLimit = limit
}

func (s *Socket) SetReadDeadline(time.Time) error  { return nil }
func (s *Socket) SetWriteDeadline(time.Time) error { return nil }

func (s *Socket) SetPongHandler(h func(string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pong = h
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closeCh)
	}
	return nil
}

func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SentCloseFrame reports whether a close control frame was written.
func (s *Socket) SentCloseFrame() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeFrame
}

func (s *Socket) ReadLimit() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLimit
}

// Next waits up to timeout for the next written frame.
func (s *Socket) Next(timeout time.Duration) ([]byte, bool) {
	select {
	case msg := <-s.written:
		return msg, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Drain returns every frame written so far without waiting.
func (s *Socket) Drain() [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-s.written:
			out = append(out, msg)
		default:
			return out
		}
	}
}
