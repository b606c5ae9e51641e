package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/roomchat/roomchat-server/internal/auth"
	"github.com/roomchat/roomchat-server/internal/config"
	"github.com/roomchat/roomchat-server/internal/core"
	"github.com/roomchat/roomchat-server/internal/store"
	"github.com/roomchat/roomchat-server/internal/store/sqlite"
)

// testServer wires the full HTTP surface over an in-memory store, with one
// admin and one regular user already registered.
type testServer struct {
	t     *testing.T
	ts    *httptest.Server
	hub   *core.Hub
	store *sqlite.SQLiteStore

	adminToken string
	userToken  string
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := zerolog.Nop()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	if _, err := st.CreateRoom(ctx, "general", "", false, "system"); err != nil {
		t.Fatalf("seed general: %v", err)
	}
	if _, err := st.CreateRoom(ctx, "admin_room", "", true, "system"); err != nil {
		t.Fatalf("seed admin_room: %v", err)
	}

	cfg := config.Default()
	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	if err := authService.Register(ctx, "root", "root@example.com", "secret1", store.RoleAdmin); err != nil {
		t.Fatalf("register root: %v", err)
	}
	if err := authService.Register(ctx, "alice", "alice@example.com", "secret1", store.RoleUser); err != nil {
		t.Fatalf("register alice: %v", err)
	}
	adminToken, err := authService.Login(ctx, "root", "secret1")
	if err != nil {
		t.Fatalf("login root: %v", err)
	}
	userToken, err := authService.Login(ctx, "alice", "secret1")
	if err != nil {
		t.Fatalf("login alice: %v", err)
	}

	hub := core.NewHub(&logger)
	engine := core.NewEngine(hub, st, cfg.SendTimeout, &logger)
	registry := core.NewRegistry(st, hub, engine, &logger)

	srv := NewServer(hub, engine, registry, authService, st, &cfg, &logger)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	return &testServer{
		t:          t,
		ts:         ts,
		hub:        hub,
		store:      st,
		adminToken: adminToken,
		userToken:  userToken,
	}
}

// do issues a JSON request with an optional bearer token and returns the
// response. The body is decoded into out when out is non-nil.
func (s *testServer) do(method, path, token string, body, out any) *stdhttp.Response {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := stdhttp.NewRequest(method, s.ts.URL+path, reader)
	if err != nil {
		s.t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.ts.Client().Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			s.t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp
}

// wsURL builds the WebSocket URL for a room, with the token in the query.
func (s *testServer) wsURL(room, token string) string {
	base := "ws" + strings.TrimPrefix(s.ts.URL, "http")
	u := base + "/ws/" + room
	if token != "" {
		u += "?token=" + token
	}
	return u
}
