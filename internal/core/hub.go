package core

import (
	"sync"

	"github.com/rs/zerolog"
)

// roomSet holds the live connections of one room in join order.
// Its mutex linearizes all membership mutation and snapshotting for the room,
// so unrelated rooms never block each other.
type roomSet struct {
	mu    sync.Mutex
	conns []Conn
}

func (r *roomSet) add(c Conn) {
	r.mu.Lock()
	r.conns = append(r.conns, c)
	r.mu.Unlock()
}

// remove deletes c from the set and reports whether it was present and how
// many connections remain.
func (r *roomSet) remove(c Conn) (found bool, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.conns {
		if existing == c {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			return true, len(r.conns)
		}
	}
	return false, len(r.conns)
}

func (r *roomSet) snapshot() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conn, len(r.conns))
	copy(out, r.conns)
	return out
}

// Hub owns the mapping from room name to the set of live connections in that
// room. It is the one piece of shared mutable state in the core; all other
// components read membership only through Snapshot.
//
// An absent or empty set never means the room does not exist: room existence
// is authoritative via the Registry.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*roomSet
	joined map[string]string // conn ID -> room name
	log    *zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]*roomSet),
		joined: make(map[string]string),
		log:    logger,
	}
}

// Register adds the connection to the room's membership set. A connection may
// be a member of at most one room; violating that returns
// ErrAlreadyRegistered and leaves all state unchanged.
func (h *Hub) Register(room string, c Conn) error {
	h.mu.Lock()
	if existing, ok := h.joined[c.ID()]; ok {
		h.mu.Unlock()
		h.log.Error().Str("conn_id", c.ID()).Str("room", existing).Msg("connection already registered")
		return ErrAlreadyRegistered
	}
	rs, ok := h.rooms[room]
	if !ok {
		rs = &roomSet{}
		h.rooms[room] = rs
	}
	h.joined[c.ID()] = room
	// The append stays inside the h.mu section: prune and CloseRoom also
	// hold h.mu, so the set cannot be dropped between the index write and
	// the membership write, which would orphan the connection.
	rs.add(c)
	h.mu.Unlock()

	h.log.Debug().Str("conn_id", c.ID()).Str("room", room).Msg("connection registered")
	return nil
}

// Unregister removes the connection from the room's set. It is idempotent:
// removing a connection that is not present is a no-op, which absorbs
// double-disconnect races.
func (h *Hub) Unregister(room string, c Conn) {
	h.mu.Lock()
	rs := h.rooms[room]
	if h.joined[c.ID()] == room {
		delete(h.joined, c.ID())
	}
	h.mu.Unlock()

	if rs == nil {
		return
	}

	found, remaining := rs.remove(c)
	if found {
		h.log.Debug().Str("conn_id", c.ID()).Str("room", room).Int("occupants", remaining).Msg("connection unregistered")
	}
	if remaining == 0 {
		h.prune(room, rs)
	}
}

// prune drops the room's set if it is still empty. Pruning is an internal
// space optimization; callers must not infer room existence from it.
func (h *Hub) prune(room string, rs *roomSet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.conns) == 0 && h.rooms[room] == rs {
		delete(h.rooms, room)
	}
}

// Snapshot returns a stable copy of the room's current membership in join
// order. The returned slice is owned by the caller; concurrent register and
// unregister cannot mutate it.
func (h *Hub) Snapshot(room string) []Conn {
	h.mu.RLock()
	rs := h.rooms[room]
	h.mu.RUnlock()

	if rs == nil {
		return nil
	}
	return rs.snapshot()
}

// Occupants reports how many connections are currently registered in a room.
func (h *Hub) Occupants(room string) int {
	h.mu.RLock()
	rs := h.rooms[room]
	h.mu.RUnlock()

	if rs == nil {
		return 0
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.conns)
}

// CloseRoom evicts every connection in the room, closing each with the given
// code and reason, and drops the room's set. Used when a room is deleted so
// no live connection keeps referencing it. Returns the number of connections
// evicted.
func (h *Hub) CloseRoom(room string, code CloseCode, reason string) int {
	h.mu.Lock()
	rs := h.rooms[room]
	delete(h.rooms, room)
	var evicted []Conn
	if rs != nil {
		rs.mu.Lock()
		evicted = rs.conns
		rs.conns = nil
		rs.mu.Unlock()
	}
	for _, c := range evicted {
		delete(h.joined, c.ID())
	}
	h.mu.Unlock()

	for _, c := range evicted {
		if err := c.Close(code, reason); err != nil {
			h.log.Warn().Err(err).Str("conn_id", c.ID()).Str("room", room).Msg("close evicted connection")
		}
	}
	if len(evicted) > 0 {
		h.log.Info().Str("room", room).Int("evicted", len(evicted)).Msg("room closed")
	}
	return len(evicted)
}
