// Package relay ties connection lifecycles to the room registry, the
// presence tracker, the notification router and the message store.
//
// A connection moves Connecting -> Open -> Closed. Serve owns that walk for
// one connection: however the connection ends (peer close, transport error,
// write failure, slow consumer, relay shutdown) it leaves through the same
// cleanup, exactly once.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-relay/internal/database"
	"chat-relay/internal/models"
	"chat-relay/internal/notify"
	"chat-relay/internal/presence"
	ws "chat-relay/internal/websocket"
	"chat-relay/pkg/logger"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrRelayClosed            = errors.New("relay closed")
)

// presenceWriteTimeout bounds one durable presence write.
const presenceWriteTimeout = 5 * time.Second

// presenceStripes is the number of locks user presence writes are spread over.
const presenceStripes = 64

// Store is the persistence the relay needs.
type Store interface {
	database.MessageRepository
	database.PresenceRepository
}

// Publisher hands notifications to a cross-process transport, which is
// then responsible for delivering them back through DeliverLocal.
type Publisher interface {
	PublishNotification(ctx context.Context, ev models.NotificationEvent) error
}

type Options struct {
	HistoryLimit int
}

type NotifyResult struct {
	Delivered int  `json:"delivered"`
	Published bool `json:"published"`
}

type Relay struct {
	rooms    *ws.Manager
	presence *presence.Tracker
	notifier *notify.Router
	store    Store
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// presenceMu serializes store writes per user, striped by user id.
	presenceMu [presenceStripes]sync.Mutex

	mu        sync.Mutex
	clients   map[*ws.Client]struct{}
	closing   bool
	publisher Publisher
}

func New(rooms *ws.Manager, tracker *presence.Tracker, router *notify.Router, store Store, opts Options) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		rooms:    rooms,
		presence: tracker,
		notifier: router,
		store:    store,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		clients:  make(map[*ws.Client]struct{}),
	}
}

// SetPublisher routes Notify through p instead of local delivery.
func (r *Relay) SetPublisher(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publisher = p
}

// Serve runs c from Connecting to Closed on the calling goroutine. It
// returns the transport error that ended the connection, nil for a normal
// close, or the reason c could not be opened.
func (r *Relay) Serve(ctx context.Context, c *ws.Client) error {
	if err := r.open(ctx, c); err != nil {
		c.Reject()
		return err
	}
	defer r.finish(ctx, c)

	stopRelay := context.AfterFunc(r.ctx, c.Close)
	defer stopRelay()
	stopCaller := context.AfterFunc(ctx, c.Close)
	defer stopCaller()

	go c.WritePump()

	err := c.ReadPump(func(payload []byte) {
		r.handleInbound(ctx, c, payload)
	})
	if err != nil {
		logger.Info("Connection %s ended abnormally: %v", c, err)
	}
	return err
}

func (r *Relay) open(ctx context.Context, c *ws.Client) error {
	if c.Kind() == ws.KindNotification && !c.Identity().Authenticated {
		return ErrAuthenticationRequired
	}

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return ErrRelayClosed
	}
	if !c.MarkOpen() {
		r.mu.Unlock()
		return fmt.Errorf("connection %s is %s", c.ID(), c.State())
	}
	r.clients[c] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	switch c.Kind() {
	case ws.KindChat:
		r.sendHistory(ctx, c)
		r.rooms.Join(c.Room(), c)
		if c.Identity().Authenticated && r.presence.Connect(c.UserID()) {
			r.storePresence(ctx, c.UserID())
		}
	case ws.KindNotification:
		r.notifier.Register(c.UserID(), c)
	}

	logger.Info("Connection %s open", c)
	return nil
}

// finish is the only path out of Open. It is safe to call more than once.
func (r *Relay) finish(ctx context.Context, c *ws.Client) {
	if !c.MarkClosed() {
		return
	}
	defer r.wg.Done()

	switch c.Kind() {
	case ws.KindChat:
		r.rooms.Leave(c.Room(), c)
		if c.Identity().Authenticated && r.presence.Disconnect(c.UserID()) {
			r.storePresence(ctx, c.UserID())
		}
	case ws.KindNotification:
		r.notifier.Unregister(c.UserID(), c)
	}
	c.Close()

	r.mu.Lock()
	delete(r.clients, c)
	r.mu.Unlock()

	logger.Info("Connection %s closed", c)
}

// storePresence writes the tracker's current state for user to the store.
// It runs after every flip; the value is read under the user's lock, so the
// last write to land always matches the tracker even when a close and a
// reconnect race.
func (r *Relay) storePresence(ctx context.Context, user int64) {
	mu := &r.presenceMu[uint64(user)%presenceStripes]
	mu.Lock()
	defer mu.Unlock()

	online := r.presence.Get(user).Online
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceWriteTimeout)
	defer cancel()
	if err := r.store.SetPresence(storeCtx, user, online); err != nil {
		logger.Error("Error storing presence for user %d: %v", user, err)
	}
}

// SetOnline overwrites user's presence, as the user's own status update
// does, and stores it.
func (r *Relay) SetOnline(ctx context.Context, user int64, online bool) {
	r.presence.SetOnline(user, online)
	r.storePresence(ctx, user)
}

func (r *Relay) handleInbound(ctx context.Context, c *ws.Client, payload []byte) {
	event, err := models.DecodeInbound(payload)
	if err != nil {
		logger.Debug("Rejected payload from %s: %v", c, err)
		r.reply(c, err.Error())
		return
	}

	switch ev := event.(type) {
	case models.ChatMessage:
		r.handleChat(ctx, c, ev)
	}
}

func (r *Relay) handleChat(ctx context.Context, c *ws.Client, msg models.ChatMessage) {
	if c.Kind() != ws.KindChat {
		r.reply(c, "notification connections are receive-only")
		return
	}
	if !c.Identity().Authenticated {
		r.reply(c, ErrAuthenticationRequired.Error())
		return
	}

	saved, err := r.store.SaveMessage(ctx, c.UserID(), c.RoomID(), msg.Text)
	if err != nil {
		logger.Error("Error saving message from %s: %v", c, err)
		r.reply(c, "message could not be saved")
		return
	}

	event := models.ChatEvent{
		Room:      c.Room(),
		UserID:    c.UserID(),
		Username:  c.Username(),
		Text:      msg.Text,
		Timestamp: saved.CreatedAt,
	}
	if _, err := r.rooms.Broadcast(c.Room(), event); err != nil {
		logger.Error("Error broadcasting to room %s: %v", c.Room(), err)
	}
}

// reply reports a problem to c alone.
func (r *Relay) reply(c *ws.Client, message string) {
	if err := c.SendEvent(models.NewError(message)); err != nil {
		logger.Debug("Could not report error to %s: %v", c, err)
	}
}

// sendHistory queues the room's recent messages for c before it joins, so
// history never interleaves with live broadcasts.
func (r *Relay) sendHistory(ctx context.Context, c *ws.Client) {
	if r.opts.HistoryLimit <= 0 || c.RoomID() == 0 {
		return
	}

	messages, err := r.store.LoadRecentMessages(ctx, c.RoomID(), r.opts.HistoryLimit)
	if err != nil {
		logger.Error("Error loading recent messages for room %s: %v", c.Room(), err)
		return
	}

	for _, m := range messages {
		ev := models.ChatEvent{
			Room:      c.Room(),
			UserID:    m.UserID,
			Username:  m.Username,
			Text:      m.Content,
			Timestamp: m.CreatedAt,
			History:   true,
		}
		if err := c.SendEvent(ev); err != nil {
			logger.Warn("Stopped history replay to %s: %v", c, err)
			return
		}
	}
}

// Notify addresses a notification to every connection of user. With a
// publisher set the event goes out through it; otherwise it is delivered
// to this process's connections only. Offline users get nothing.
func (r *Relay) Notify(ctx context.Context, user int64, message, kind string) (NotifyResult, error) {
	ev := models.NewNotification(user, message, kind)

	r.mu.Lock()
	pub := r.publisher
	r.mu.Unlock()

	if pub != nil {
		if err := pub.PublishNotification(ctx, ev); err != nil {
			return NotifyResult{}, fmt.Errorf("publish notification: %w", err)
		}
		return NotifyResult{Published: true}, nil
	}

	n, err := r.DeliverLocal(ev)
	return NotifyResult{Delivered: n}, err
}

// DeliverLocal hands ev to the connections of ev.UserID in this process.
func (r *Relay) DeliverLocal(ev models.NotificationEvent) (int, error) {
	return r.notifier.Deliver(ev.UserID, ev)
}

// Presence returns the tracked status of user.
func (r *Relay) Presence(user int64) presence.Status {
	return r.presence.Get(user)
}

func (r *Relay) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Relay) Rooms() int {
	return r.rooms.RoomCount()
}

// Members returns how many connections are in room.
func (r *Relay) Members(room string) int {
	return r.rooms.MemberCount(room)
}

// OnlineUsers lists the users currently online, in ascending order.
func (r *Relay) OnlineUsers() []int64 {
	return r.presence.Online()
}

// Close stops accepting connections, closes every open one and waits for
// their cleanup until ctx expires.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.rooms.Close()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d connections to close: %w", r.Connections(), ctx.Err())
	}
}
