package core

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomchat/roomchat-server/internal/store"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// fakeConn records every frame pushed to it.
type fakeConn struct {
	id string

	mu          sync.Mutex
	frames      []string
	sendErr     error
	stalled     bool
	closed      bool
	closeCode   CloseCode
	closeReason string
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.stalled {
		c.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, text)
	return nil
}

func (c *fakeConn) Close(code CloseCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	return nil
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	copy(out, c.frames)
	return out
}

// stallSends makes every Send block until its context expires.
func (c *fakeConn) stallSends() {
	c.mu.Lock()
	c.stalled = true
	c.mu.Unlock()
}

func (c *fakeConn) failSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeConn) closedWith() (bool, CloseCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}

func (c *fakeConn) countFrame(frame string) int {
	n := 0
	for _, f := range c.received() {
		if f == frame {
			n++
		}
	}
	return n
}

// fakeTransport is a fakeConn with a scripted inbound side. Closing the
// inbound channel simulates a client disconnect.
type fakeTransport struct {
	fakeConn
	inbound chan string
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{
		fakeConn: fakeConn{id: id},
		inbound:  make(chan string),
	}
}

func (t *fakeTransport) Receive(ctx context.Context) (string, error) {
	select {
	case text, ok := <-t.inbound:
		if !ok {
			return "", io.EOF
		}
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// memoryStore is an in-process store.Store used by the core tests.
type memoryStore struct {
	mu        sync.Mutex
	users     map[string]*store.User
	rooms     map[string]*store.Room
	messages  []*store.Message
	nextID    int64
	appendErr error
	appends   int

	recentParked chan struct{}
	recentHold   chan struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users: make(map[string]*store.User),
		rooms: make(map[string]*store.Room),
	}
}

func (m *memoryStore) CreateUser(_ context.Context, username, email, passwordHash string, role store.Role) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return nil, store.ErrAlreadyExists
	}
	m.nextID++
	user := &store.User{ID: m.nextID, Username: username, Email: email, PasswordHash: passwordHash, Role: role, CreatedAt: time.Now()}
	m.users[username] = user
	return user, nil
}

func (m *memoryStore) GetUserByUsername(_ context.Context, username string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return user, nil
}

func (m *memoryStore) CreateRoom(_ context.Context, name, description string, restricted bool, createdBy string) (*store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[name]; ok {
		return nil, store.ErrAlreadyExists
	}
	room := &store.Room{Name: name, Description: description, IsRestricted: restricted, CreatedBy: createdBy, CreatedAt: time.Now()}
	m.rooms[name] = room
	return room, nil
}

func (m *memoryStore) GetRoom(_ context.Context, name string) (*store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return room, nil
}

func (m *memoryStore) ListRooms(_ context.Context) ([]*store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make([]*store.Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

func (m *memoryStore) DeleteRoomCascade(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[name]; !ok {
		return store.ErrNotFound
	}
	delete(m.rooms, name)
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.Room != name {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func (m *memoryStore) AppendMessage(_ context.Context, room, author, content string, createdAt time.Time) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	if m.appendErr != nil {
		return nil, m.appendErr
	}
	m.nextID++
	msg := &store.Message{ID: m.nextID, Room: room, Author: author, Content: content, CreatedAt: createdAt}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *memoryStore) RecentMessages(_ context.Context, room string, limit int) ([]*store.Message, error) {
	m.mu.Lock()
	parked, hold := m.recentParked, m.recentHold
	m.recentParked, m.recentHold = nil, nil
	m.mu.Unlock()
	if parked != nil {
		close(parked)
		<-hold
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if m.messages[i].Room == room {
			out = append(out, m.messages[i])
		}
	}
	return out, nil
}

func (m *memoryStore) Close() error { return nil }

// holdNextRecent parks the next RecentMessages call until release is invoked.
// The returned channel closes once the call has parked.
func (m *memoryStore) holdNextRecent() (parked <-chan struct{}, release func()) {
	p := make(chan struct{})
	h := make(chan struct{})
	m.mu.Lock()
	m.recentParked, m.recentHold = p, h
	m.mu.Unlock()
	return p, func() { close(h) }
}

func (m *memoryStore) appendAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appends
}

func (m *memoryStore) messageCount(room string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.Room == room {
			n++
		}
	}
	return n
}

// fakeVerifier maps tokens to identities.
type fakeVerifier struct {
	tokens map[string]Identity
}

func (v *fakeVerifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, &AuthError{Kind: AuthMissing, Reason: "missing token"}
	}
	if token == "expired" {
		return Identity{}, &AuthError{Kind: AuthExpired, Reason: "token expired"}
	}
	identity, ok := v.tokens[token]
	if !ok {
		return Identity{}, &AuthError{Kind: AuthMalformed, Reason: "malformed token"}
	}
	return identity, nil
}

// fixture wires a hub, engine, registry and session dependencies over the
// in-memory store, seeded with the default rooms and a few users.
type fixture struct {
	hub      *Hub
	engine   *Engine
	registry *Registry
	store    *memoryStore
	verifier *fakeVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ms := newMemoryStore()
	ctx := context.Background()
	if _, err := ms.CreateRoom(ctx, "general", "", false, "system"); err != nil {
		t.Fatalf("seed general: %v", err)
	}
	if _, err := ms.CreateRoom(ctx, "admin_room", "", true, "system"); err != nil {
		t.Fatalf("seed admin_room: %v", err)
	}
	for _, u := range []struct {
		name string
		role store.Role
	}{
		{"alice", store.RoleUser},
		{"bob", store.RoleUser},
		{"carol", store.RoleUser},
		{"root", store.RoleAdmin},
	} {
		if _, err := ms.CreateUser(ctx, u.name, u.name+"@example.com", "hash", u.role); err != nil {
			t.Fatalf("seed user %s: %v", u.name, err)
		}
	}

	hub := NewHub(nopLogger())
	engine := NewEngine(hub, ms, time.Second, nopLogger())
	registry := NewRegistry(ms, hub, engine, nopLogger())
	verifier := &fakeVerifier{tokens: map[string]Identity{
		"alice-token": {Username: "alice", Role: RoleUser},
		"bob-token":   {Username: "bob", Role: RoleUser},
		"carol-token": {Username: "carol", Role: RoleUser},
		"root-token":  {Username: "root", Role: RoleAdmin},
		"ghost-token": {Username: "ghost", Role: RoleUser},
	}}

	return &fixture{hub: hub, engine: engine, registry: registry, store: ms, verifier: verifier}
}

func (f *fixture) newSession(tr *fakeTransport) *Session {
	return NewSession(tr, f.hub, f.engine, f.registry, f.verifier, f.store, 50, nopLogger())
}

// runSession starts the session in a goroutine and returns a channel closed
// when Run returns.
func (f *fixture) runSession(ctx context.Context, tr *fakeTransport, token, room string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		f.newSession(tr).Run(ctx, token, room)
		close(done)
	}()
	return done
}

var errSendFailed = errors.New("send failed")

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, what string, done <-chan struct{}) {
	t.Helper()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
