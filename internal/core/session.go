package core

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/roomchat/roomchat-server/internal/store"
)

// State is a phase in the per-connection protocol state machine.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateJoining
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session drives one connection through
// authenticate -> join -> message loop -> leave.
//
// A session owns its transport exclusively: the hub and engine only ever see
// the outbound Conn half. Any fault inside the message loop is caught at the
// session boundary and closes this connection alone.
type Session struct {
	transport    Transport
	hub          *Hub
	engine       *Engine
	registry     *Registry
	verifier     TokenVerifier
	users        store.UserStore
	historyLimit int
	log          zerolog.Logger

	state     State
	identity  Identity
	room      string
	wasActive bool
}

// NewSession builds a session for one accepted transport connection.
func NewSession(
	transport Transport,
	hub *Hub,
	engine *Engine,
	registry *Registry,
	verifier TokenVerifier,
	users store.UserStore,
	historyLimit int,
	logger *zerolog.Logger,
) *Session {
	return &Session{
		transport:    transport,
		hub:          hub,
		engine:       engine,
		registry:     registry,
		verifier:     verifier,
		users:        users,
		historyLimit: historyLimit,
		log:          logger.With().Str("conn_id", transport.ID()).Logger(),
		state:        StateConnecting,
	}
}

// State returns the session's current phase.
func (s *Session) State() State {
	return s.state
}

// Run executes the session to completion: it blocks until the client
// disconnects, the context is canceled, or a policy check rejects the
// connection. The transport is always closed before Run returns.
func (s *Session) Run(ctx context.Context, token, room string) {
	s.state = StateAuthenticating
	identity, err := s.verifier.Verify(token)
	if err != nil {
		s.log.Debug().Err(err).Msg("authentication rejected")
		s.close(ClosePolicyViolation, authCloseReason(err))
		return
	}
	if _, err := s.users.GetUserByUsername(ctx, identity.Username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.log.Debug().Str("user", identity.Username).Msg("token subject unknown")
			s.close(ClosePolicyViolation, "user not found")
		} else {
			s.log.Error().Err(err).Msg("user lookup failed")
			s.close(CloseInternalError, "internal error")
		}
		return
	}
	s.identity = identity
	s.log = s.log.With().Str("user", identity.Username).Str("room", room).Logger()

	s.state = StateJoining
	restricted, err := s.registry.IsRestricted(ctx, room)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			s.close(ClosePolicyViolation, "room not found")
		} else {
			s.log.Error().Err(err).Msg("room lookup failed")
			s.close(CloseInternalError, "internal error")
		}
		return
	}
	if restricted && !identity.IsAdmin() {
		s.log.Debug().Msg("restricted room denied")
		s.close(ClosePolicyViolation, "restricted room")
		return
	}

	// Registration and history replay run as one step under the room's
	// publish lock, so no message can slip between them and arrive twice.
	if err := s.engine.Join(ctx, room, s.transport, s.historyLimit); err != nil {
		s.log.Error().Err(err).Msg("join room")
		s.close(CloseInternalError, "internal error")
		return
	}
	s.room = room

	// From here on every exit path goes through leave, which unregisters
	// and closes the transport.
	code, reason := CloseNormal, "closing"
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Interface("panic", r).Msg("session fault")
				code, reason = CloseInternalError, "internal error"
			}
		}()

		s.state = StateActive
		s.wasActive = true
		s.notify(ctx, identity.Username+" joined the room")
		s.log.Info().Msg("session active")

		s.loop(ctx)
	}()

	s.leave(code, reason)
}

// loop reads inbound frames until the transport fails or ctx is canceled.
func (s *Session) loop(ctx context.Context) {
	for {
		text, err := s.transport.Receive(ctx)
		if err != nil {
			s.log.Debug().Err(err).Msg("receive loop ended")
			return
		}

		content := strings.TrimSpace(text)
		if content == "" {
			// Empty payloads are dropped, not persisted.
			continue
		}

		report, err := s.engine.Publish(ctx, s.room, s.identity, content)
		if err != nil {
			// Broadcast was skipped so history never lags behind
			// delivery; the sender may retry.
			s.log.Error().Err(err).Msg("persist message")
			continue
		}
		s.reap(report)
	}
}

// leave is the CLOSING transition: unregister (idempotent, even if the
// eviction already removed us), announce departure if we ever went active,
// release the transport.
func (s *Session) leave(code CloseCode, reason string) {
	s.state = StateClosing
	s.hub.Unregister(s.room, s.transport)
	if s.wasActive {
		// The session context is usually done by now; the departure
		// notice still has to go out.
		s.notify(context.Background(), s.identity.Username+" left the room")
	}
	s.close(code, reason)
}

func (s *Session) close(code CloseCode, reason string) {
	if err := s.transport.Close(code, reason); err != nil {
		s.log.Debug().Err(err).Msg("close transport")
	}
	s.state = StateClosed
}

// notify broadcasts a non-persisted notice and unregisters any connections
// that failed delivery.
func (s *Session) notify(ctx context.Context, text string) {
	s.reap(s.engine.Notify(ctx, s.room, text))
}

// reap drops connections the broadcast could not reach. Unregister is
// idempotent, so racing with the failed connection's own cleanup is safe.
func (s *Session) reap(report DeliveryReport) {
	for _, c := range report.Failed {
		s.hub.Unregister(report.Room, c)
	}
}

func authCloseReason(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.CloseReason()
	}
	return "invalid token"
}
