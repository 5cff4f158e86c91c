package realtime

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"beacon/cmd/identity"
	v1 "beacon/shared/contracts/realtime/v1"
)

var (
	// ErrConnClosed is returned for operations on a connection that is not
	// (or no longer) registered.
	ErrConnClosed = errors.New("realtime: connection not registered")
	// ErrDuplicateConn is returned when a connection is registered twice.
	ErrDuplicateConn = errors.New("realtime: connection already registered")
	// ErrInvalidConn is returned for connections not built by NewConn or
	// missing a user or a known role.
	ErrInvalidConn = errors.New("realtime: invalid connection")
)

// Registry is the in-memory map of live connections per user.
//
// registry[userID] exists and is non-empty iff the user has at least one
// live connection. Adding the first or removing the last element publishes
// the presence transition while mu is still held.
type Registry struct {
	mu    sync.Mutex
	users map[string]map[string]*Conn
	rooms map[string]map[string]*Conn
	conns map[string]*Conn

	bus      Bus
	elevated identity.Role
	log      *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

func NewRegistry(bus Bus, opts ...Option) *Registry {
	s := newSettings(opts)
	return &Registry{
		users:    make(map[string]map[string]*Conn),
		rooms:    make(map[string]map[string]*Conn),
		conns:    make(map[string]*Conn),
		bus:      bus,
		elevated: s.elevated,
		log:      s.log,
		metrics:  s.metrics,
		now:      s.now,
	}
}

// ElevatedRole returns the monitoring threshold.
func (r *Registry) ElevatedRole() identity.Role { return r.elevated }

// AutoRooms lists the rooms a connection joins at registration.
func (r *Registry) AutoRooms(c *Conn) []string {
	rooms := []string{UserRoom(c.UserID), RoleRoom(c.Role)}
	if c.Role.AtLeast(r.elevated) {
		rooms = append(rooms, RoomMonitoring)
	}
	return rooms
}

// Connect registers c and auto-joins its rooms. It reports whether this was
// the user's first live connection, in which case the online event has been
// published.
func (r *Registry) Connect(c *Conn) (bool, error) {
	if c == nil || c.ID == "" || c.rooms == nil || c.done == nil ||
		c.UserID == "" || !c.Role.Valid() {
		return false, ErrInvalidConn
	}

	r.mu.Lock()
	if _, ok := r.conns[c.ID]; ok {
		r.mu.Unlock()
		return false, ErrDuplicateConn
	}
	r.conns[c.ID] = c

	set := r.users[c.UserID]
	first := len(set) == 0
	if set == nil {
		set = make(map[string]*Conn)
		r.users[c.UserID] = set
	}
	set[c.ID] = c

	for _, room := range r.AutoRooms(c) {
		r.joinLocked(c, room)
	}

	var pubErr error
	if first {
		pubErr = r.publishPresenceLocked(v1.EventPresenceOnline, c)
	}
	r.mu.Unlock()

	r.metrics.connected(first)
	if first {
		r.log.Info("realtime.presence.online", "user_id", c.UserID, "role", string(c.Role), "conn_id", c.ID)
	}
	if pubErr != nil {
		r.metrics.busDrop()
		r.log.Warn("realtime.presence.publish_fail", "user_id", c.UserID, "event", v1.EventPresenceOnline, "err", pubErr)
	}
	return first, nil
}

// Disconnect removes c from every room and from the user's set. It reports
// whether c was the user's last live connection, in which case the offline
// event has been published. Unknown connections are a no-op, so repeated
// calls are safe. c is closed on return.
func (r *Registry) Disconnect(c *Conn) bool {
	if c == nil {
		return false
	}
	defer c.Close()

	r.mu.Lock()
	if cur, ok := r.conns[c.ID]; !ok || cur != c {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, c.ID)

	for room := range c.rooms {
		r.leaveLocked(c, room)
	}

	set := r.users[c.UserID]
	delete(set, c.ID)
	last := len(set) == 0
	if last {
		delete(r.users, c.UserID)
	}

	var pubErr error
	if last {
		pubErr = r.publishPresenceLocked(v1.EventPresenceOffline, c)
	}
	r.mu.Unlock()

	r.metrics.disconnected(last)
	if last {
		r.log.Info("realtime.presence.offline", "user_id", c.UserID, "conn_id", c.ID)
	}
	if pubErr != nil {
		r.metrics.busDrop()
		r.log.Warn("realtime.presence.publish_fail", "user_id", c.UserID, "event", v1.EventPresenceOffline, "err", pubErr)
	}
	return last
}

func (r *Registry) publishPresenceLocked(event string, c *Conn) error {
	now := r.now()
	env, err := newEnvelope(v1.TypeEvent, v1.EventPayload{
		Event: event,
		Data:  rawJSON(v1.PresenceData{UserID: c.UserID, Role: string(c.Role), At: now}),
	}, now)
	if err != nil {
		return err
	}
	return r.bus.Publish(Message{Rooms: []string{RoomMonitoring}, Envelope: env})
}

// join adds a registered connection to room. It reports whether membership
// changed.
func (r *Registry) join(c *Conn, room string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[c.ID]; !ok || cur != c {
		return false, ErrConnClosed
	}
	return r.joinLocked(c, room), nil
}

func (r *Registry) leave(c *Conn, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[c.ID]; !ok || cur != c {
		return false
	}
	return r.leaveLocked(c, room)
}

func (r *Registry) joinLocked(c *Conn, room string) bool {
	if _, ok := c.rooms[room]; ok {
		return false
	}
	members := r.rooms[room]
	if members == nil {
		members = make(map[string]*Conn)
		r.rooms[room] = members
	}
	members[c.ID] = c
	c.rooms[room] = struct{}{}
	return true
}

func (r *Registry) leaveLocked(c *Conn, room string) bool {
	if _, ok := c.rooms[room]; !ok {
		return false
	}
	delete(c.rooms, room)
	if members := r.rooms[room]; members != nil {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	return true
}

// Deliver resolves m to live connections and enqueues the envelope on each
// at most once. Full or closing connections are skipped. It returns the
// number of connections that accepted the envelope.
func (r *Registry) Deliver(m Message) int {
	r.mu.Lock()
	var targets []*Conn
	if m.All {
		targets = make([]*Conn, 0, len(r.conns))
		for _, c := range r.conns {
			targets = append(targets, c)
		}
	} else {
		seen := make(map[string]struct{})
		for _, room := range m.Rooms {
			for id, c := range r.rooms[room] {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				targets = append(targets, c)
			}
		}
	}
	r.mu.Unlock()

	ok := 0
	for _, c := range targets {
		if c.enqueue(m.Envelope) {
			ok++
		}
	}
	if dropped := len(targets) - ok; dropped > 0 {
		r.log.Debug("realtime.deliver.dropped", "envelope_id", m.Envelope.ID, "dropped", dropped)
	}
	r.metrics.delivered(ok, len(targets)-ok)
	return ok
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[userID]) > 0
}

// ConnectionCount returns the number of live connections for userID.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[userID])
}

// OnlineUsers returns the sorted ids of users with live connections.
func (r *Registry) OnlineUsers() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}

// RoomsOf returns the sorted rooms c currently belongs to.
func (r *Registry) RoomsOf(c *Conn) []string {
	r.mu.Lock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}

// MemberCount returns the number of connections in room.
func (r *Registry) MemberCount(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}
