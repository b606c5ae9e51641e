package http

import (
	"context"
	stdhttp "net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roomchat/roomchat-server/internal/core"
	"github.com/roomchat/roomchat-server/internal/store"
)

// WSHandler upgrades HTTP connections and runs a ChatSession over each.
type WSHandler struct {
	hub          *core.Hub
	engine       *core.Engine
	registry     *core.Registry
	verifier     core.TokenVerifier
	users        store.UserStore
	historyLimit int
	log          *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(
	hub *core.Hub,
	engine *core.Engine,
	registry *core.Registry,
	verifier core.TokenVerifier,
	users store.UserStore,
	historyLimit int,
	logger *zerolog.Logger,
) *WSHandler {
	return &WSHandler{
		hub:          hub,
		engine:       engine,
		registry:     registry,
		verifier:     verifier,
		users:        users,
		historyLimit: historyLimit,
		log:          logger,
	}
}

// Handle serves GET /ws/{room}. The token travels in the query string because
// browser WebSocket clients cannot set headers. The handler runs on the plain
// mux, not through gin: websocket.Accept must hijack the raw ResponseWriter,
// which gin's wrapped writer refuses.
func (h *WSHandler) Handle(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	room := r.PathValue("room")
	token := r.URL.Query().Get("token")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}

	transport := newWSTransport(conn)
	session := core.NewSession(transport, h.hub, h.engine, h.registry, h.verifier, h.users, h.historyLimit, h.log)
	session.Run(r.Context(), token, room)
}

// wsTransport adapts a websocket connection to core.Transport.
// The underlying connection serializes concurrent writers itself, so
// broadcasts from other sessions may call Send at any time.
type wsTransport struct {
	id   string
	conn *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{
		id:   uuid.NewString(),
		conn: conn,
	}
}

func (t *wsTransport) ID() string {
	return t.id
}

func (t *wsTransport) Send(ctx context.Context, text string) error {
	return t.conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (t *wsTransport) Receive(ctx context.Context) (string, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (t *wsTransport) Close(code core.CloseCode, reason string) error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close(closeStatus(code), reason)
	})
	return t.closeErr
}

func closeStatus(code core.CloseCode) websocket.StatusCode {
	switch code {
	case core.ClosePolicyViolation:
		return websocket.StatusPolicyViolation
	case core.CloseInternalError:
		return websocket.StatusInternalError
	default:
		return websocket.StatusNormalClosure
	}
}
