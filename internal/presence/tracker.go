// Package presence tracks which users are online, independent of rooms.
//
// The relay counts open chat connections per user through Connect and
// Disconnect, so a user with two tabs stays online until the last one
// closes. SetOnline overwrites the state directly and clears the count.
package presence

import (
	"sort"
	"sync"
	"time"
)

// Status is a point-in-time view of one user. The zero value is Unknown.
type Status struct {
	UserID      int64     `json:"user_id"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
	Connections int       `json:"connections"`
	Known       bool      `json:"-"`
}

// Unknown is returned for users the tracker has never seen.
var Unknown = Status{}

func (s Status) IsUnknown() bool { return !s.Known }

type record struct {
	online   bool
	lastSeen time.Time
	conns    int
}

type Tracker struct {
	mu      sync.Mutex
	records map[int64]*record
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[int64]*record),
		now:     time.Now,
	}
}

func (t *Tracker) get(user int64) *record {
	r, ok := t.records[user]
	if !ok {
		r = &record{lastSeen: t.now()}
		t.records[user] = r
	}
	return r
}

// SetOnline overwrites the user's state. Going offline advances last-seen;
// repeating the current state changes nothing.
func (t *Tracker) SetOnline(user int64, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.get(user)
	if !online {
		r.conns = 0
		if r.online {
			r.lastSeen = t.now()
		}
	}
	r.online = online
}

// Connect counts one more connection for user and reports whether the user
// just came online.
func (t *Tracker) Connect(user int64) (cameOnline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.get(user)
	r.conns++
	if r.online {
		return false
	}
	r.online = true
	return true
}

// Disconnect drops one connection and reports whether the user just went
// offline. Extra calls are no-ops.
func (t *Tracker) Disconnect(user int64) (wentOffline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[user]
	if !ok {
		return false
	}
	if r.conns > 0 {
		r.conns--
	}
	if r.conns > 0 || !r.online {
		return false
	}
	r.online = false
	r.lastSeen = t.now()
	return true
}

// Get returns the user's status, or Unknown.
func (t *Tracker) Get(user int64) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[user]
	if !ok {
		return Unknown
	}
	return Status{UserID: user, Online: r.online, LastSeen: r.lastSeen, Connections: r.conns, Known: true}
}

// Online lists online users in ascending order.
func (t *Tracker) Online() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var users []int64
	for id, r := range t.records {
		if r.online {
			users = append(users, id)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}
