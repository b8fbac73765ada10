package websocket

import (
	"errors"
	"fmt"
	"sync"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"
)

type membership struct {
	client *Client
	reply  chan int
}

type delivery struct {
	data  []byte
	reply chan int
}

// Hub owns the member set of one room. All mutations and fan-outs run on
// the Run goroutine, so each broadcast sees one consistent member set and
// broadcasts reach every member in the order the hub accepted them.
type Hub struct {
	room       string
	clients    map[*Client]struct{}
	register   chan membership
	unregister chan membership
	broadcast  chan delivery
	count      chan chan int
	shutdown   chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

func NewHub(room string) *Hub {
	return &Hub{
		room:       room,
		clients:    make(map[*Client]struct{}),
		register:   make(chan membership),
		unregister: make(chan membership),
		broadcast:  make(chan delivery),
		count:      make(chan chan int),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.shutdown:
			return

		case m := <-h.register:
			h.clients[m.client] = struct{}{}
			logger.Info("%s joined room %s", m.client, h.room)
			m.reply <- len(h.clients)

		case m := <-h.unregister:
			if _, ok := h.clients[m.client]; ok {
				delete(h.clients, m.client)
				logger.Info("%s left room %s", m.client, h.room)
			}
			m.reply <- len(h.clients)

		case d := <-h.broadcast:
			d.reply <- h.broadcastToAll(d.data)

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// broadcastToAll never blocks: a member whose buffer is full is closed and
// will leave through its own cleanup.
func (h *Hub) broadcastToAll(data []byte) int {
	delivered := 0
	for client := range h.clients {
		if err := client.Send(data); err != nil {
			if errors.Is(err, ErrSlowConsumer) {
				logger.Warn("Dropping slow %s in room %s", client, h.room)
			} else {
				logger.Debug("Skipping %s in room %s: %v", client, h.room, err)
			}
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) join(c *Client) int {
	return h.call(h.register, membership{client: c, reply: make(chan int, 1)})
}

func (h *Hub) leave(c *Client) int {
	return h.call(h.unregister, membership{client: c, reply: make(chan int, 1)})
}

func (h *Hub) call(ch chan membership, m membership) int {
	select {
	case ch <- m:
		return <-m.reply
	case <-h.done:
		return 0
	}
}

func (h *Hub) publish(data []byte) int {
	d := delivery{data: data, reply: make(chan int, 1)}
	select {
	case h.broadcast <- d:
		return <-d.reply
	case <-h.done:
		return 0
	}
}

func (h *Hub) size() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

func (h *Hub) ShutdownHub() {
	h.stopOnce.Do(func() { close(h.shutdown) })
	<-h.done
}

// Manager is the room registry: room name -> Hub. Hubs are created on the
// first Join and stopped once their last member leaves.
type Manager struct {
	hubs  map[string]*Hub
	mutex sync.Mutex
}

func NewManager() *Manager {
	return &Manager{
		hubs: make(map[string]*Hub),
	}
}

// Join adds c to room, creating the room if needed.
func (m *Manager) Join(room string, c *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	hub, exists := m.hubs[room]
	if !exists {
		hub = NewHub(room)
		m.hubs[room] = hub
		go hub.Run()
	}
	hub.join(c)
}

// Leave removes c from room. Leaving a room c is not in is a no-op.
func (m *Manager) Leave(room string, c *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	hub, exists := m.hubs[room]
	if !exists {
		return
	}
	if hub.leave(c) == 0 {
		hub.ShutdownHub()
		delete(m.hubs, room)
		logger.Debug("Cleaned up empty hub for room %s", room)
	}
}

// Broadcast sends event to the members of room at the moment the room's hub
// accepts it and returns how many members it was queued for. An empty or
// unknown room is a no-op.
func (m *Manager) Broadcast(room string, event models.Outbound) (int, error) {
	m.mutex.Lock()
	hub, exists := m.hubs[room]
	m.mutex.Unlock()
	if !exists {
		return 0, nil
	}

	data, err := event.Encode()
	if err != nil {
		return 0, fmt.Errorf("encode broadcast for room %s: %w", room, err)
	}
	return hub.publish(data), nil
}

func (m *Manager) RoomCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.hubs)
}

func (m *Manager) MemberCount(room string) int {
	m.mutex.Lock()
	hub, exists := m.hubs[room]
	m.mutex.Unlock()
	if !exists {
		return 0
	}
	return hub.size()
}

// Close stops every hub. Members are not closed.
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for room, hub := range m.hubs {
		hub.ShutdownHub()
		delete(m.hubs, room)
	}
}
