package websocket

import (
	"errors"
	"sync"
	"testing"
	"time"

	"chat-relay/internal/models"
	"chat-relay/internal/websocket/sockettest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPumpedClient(t *testing.T) (*Client, *sockettest.Socket) {
	t.Helper()
	sock := sockettest.New()
	opts := DefaultOptions()
	opts.SendBuffer = 8
	opts.MaxMessageSize = 1024
	c := NewChatClient(sock, models.Identity{UserID: 9, Username: "nine", Authenticated: true}, "general", 3, opts)
	return c, sock
}

func TestClient_Accessors(t *testing.T) {
	c, _ := newPumpedClient(t)
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, int64(9), c.UserID())
	assert.Equal(t, "nine", c.Username())
	assert.Equal(t, "general", c.Room())
	assert.Equal(t, int64(3), c.RoomID())
	assert.Equal(t, KindChat, c.Kind())
	assert.Contains(t, c.String(), "room=general")

	n := NewNotificationClient(sockettest.New(), models.Identity{UserID: 9}, DefaultOptions())
	assert.Equal(t, KindNotification, n.Kind())
	assert.Empty(t, n.Room())
	assert.NotEqual(t, c.ID(), n.ID())
}

func TestClient_StateTransitions(t *testing.T) {
	c, _ := newPumpedClient(t)
	assert.Equal(t, StateConnecting, c.State())

	assert.True(t, c.MarkOpen())
	assert.False(t, c.MarkOpen())
	assert.Equal(t, StateOpen, c.State())

	assert.True(t, c.MarkClosed())
	assert.False(t, c.MarkClosed())
	assert.Equal(t, StateClosed, c.State())
	assert.False(t, c.MarkOpen())
}

func TestClient_MarkClosedHasOneWinner(t *testing.T) {
	c, _ := newPumpedClient(t)
	c.MarkOpen()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.MarkClosed() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestClient_ReadPumpDeliversFramesUntilPeerCloses(t *testing.T) {
	c, sock := newPumpedClient(t)

	sock.Push([]byte(`{"message":"a"}`))
	sock.Push([]byte(`{"message":"b"}`))

	frames := make(chan string, 2)
	done := make(chan error, 1)
	go func() {
		done <- c.ReadPump(func(p []byte) { frames <- string(p) })
	}()

	got := []string{<-frames, <-frames}
	sock.PeerClose()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ReadPump did not return")
	}
	assert.Equal(t, []string{`{"message":"a"}`, `{"message":"b"}`}, got)
	assert.True(t, sock.Closed())
	assert.Equal(t, int64(1024), sock.ReadLimit())
	assert.ErrorIs(t, c.Send([]byte("late")), ErrClientClosed)
}

func TestClient_ReadPumpReturnsTransportError(t *testing.T) {
	c, sock := newPumpedClient(t)
	boom := errors.New("connection reset")
	sock.Fail(boom)

	err := c.ReadPump(func([]byte) {})
	assert.ErrorIs(t, err, boom)
	assert.True(t, sock.Closed())
}

func TestClient_WritePumpFlushesThenSendsCloseFrame(t *testing.T) {
	c, sock := newPumpedClient(t)

	require.NoError(t, c.Send([]byte("one")))
	require.NoError(t, c.SendEvent(models.NewError("two")))
	c.Close()

	done := make(chan struct{})
	go func() {
		c.WritePump()
		close(done)
	}()
	<-done

	frames := sock.Drain()
	require.Len(t, frames, 2)
	assert.Equal(t, "one", string(frames[0]))
	assert.JSONEq(t, `{"type":"error","error":"two"}`, string(frames[1]))
	assert.True(t, sock.SentCloseFrame())
	assert.True(t, sock.Closed())
}

func TestClient_WriteFailureClosesClient(t *testing.T) {
	c, sock := newPumpedClient(t)
	sock.FailWrites(errors.New("broken pipe"))

	done := make(chan struct{})
	go func() {
		c.WritePump()
		close(done)
	}()

	require.NoError(t, c.Send([]byte("lost")))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WritePump did not stop after a write failure")
	}
	assert.True(t, sock.Closed())
	assert.ErrorIs(t, c.Send([]byte("after")), ErrClientClosed)
}

func TestClient_SendOverflowIsSlowConsumer(t *testing.T) {
	opts := DefaultOptions()
	opts.SendBuffer = 2
	c := NewNotificationClient(sockettest.New(), models.Identity{UserID: 1}, opts)

	require.NoError(t, c.Send([]byte("1")))
	require.NoError(t, c.Send([]byte("2")))
	assert.ErrorIs(t, c.Send([]byte("3")), ErrSlowConsumer)
	assert.ErrorIs(t, c.Send([]byte("4")), ErrClientClosed)

	c.Close()
}

func TestClient_RejectOnlyBeforeOpen(t *testing.T) {
	c, sock := newPumpedClient(t)
	c.Reject()
	assert.Equal(t, StateClosed, c.State())
	assert.True(t, sock.SentCloseFrame())
	assert.True(t, sock.Closed())
	assert.ErrorIs(t, c.Send([]byte("late")), ErrClientClosed)

	open, openSock := newPumpedClient(t)
	require.True(t, open.MarkOpen())
	open.Reject()
	assert.Equal(t, StateOpen, open.State())
	assert.False(t, openSock.Closed())
	assert.NoError(t, open.Send([]byte("still open")))
}
