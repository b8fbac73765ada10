// Package notify delivers out-of-band events to every connection a user has
// open, whatever room they are looking at.
package notify

import (
	"fmt"
	"sync"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"
)

// Conn is a delivery target. *websocket.Client satisfies it.
type Conn interface {
	ID() string
	Send(data []byte) error
}

type Router struct {
	mu    sync.RWMutex
	users map[int64]map[string]Conn
}

func NewRouter() *Router {
	return &Router{users: make(map[int64]map[string]Conn)}
}

func (r *Router) Register(user int64, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.users[user]
	if conns == nil {
		conns = make(map[string]Conn)
		r.users[user] = conns
	}
	conns[c.ID()] = c
	logger.Debug("notify: registered %s for user %d (%d open)", c.ID(), user, len(conns))
}

// Unregister removes c. Removing a connection that is not registered is a no-op.
func (r *Router) Unregister(user int64, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.users[user]
	if conns == nil {
		return
	}
	if _, ok := conns[c.ID()]; !ok {
		return
	}
	delete(conns, c.ID())
	if len(conns) == 0 {
		delete(r.users, user)
	}
	logger.Debug("notify: unregistered %s for user %d", c.ID(), user)
}

// Deliver sends event to every connection registered for user at the time
// of the call and returns how many accepted it. Nothing is queued for users
// with no connections, and one failed connection does not stop the rest.
func (r *Router) Deliver(user int64, event models.Outbound) (int, error) {
	targets := r.snapshot(user)
	if len(targets) == 0 {
		return 0, nil
	}

	data, err := event.Encode()
	if err != nil {
		return 0, fmt.Errorf("encode notification for user %d: %w", user, err)
	}

	delivered := 0
	for _, c := range targets {
		if err := c.Send(data); err != nil {
			logger.Warn("notify: delivery to %s for user %d failed: %v", c.ID(), user, err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (r *Router) snapshot(user int64) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.users[user]
	if len(conns) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Connections returns how many connections user has registered.
func (r *Router) Connections(user int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[user])
}

// Users returns how many users have at least one connection.
func (r *Router) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
