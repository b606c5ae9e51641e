package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/roomchat/roomchat-server/internal/auth"
	"github.com/roomchat/roomchat-server/internal/config"
	"github.com/roomchat/roomchat-server/internal/core"
	"github.com/roomchat/roomchat-server/internal/store"
)

// NewServer builds the HTTP server: REST API plus the WebSocket endpoint.
// The REST surface runs on gin; the WebSocket route is mounted on the outer
// plain mux because the upgrade hijacks the raw ResponseWriter.
func NewServer(
	hub *core.Hub,
	engine *core.Engine,
	registry *core.Registry,
	authService *auth.Service,
	st store.Store,
	cfg *config.Config,
	logger *zerolog.Logger,
) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	api := NewAPIHandlers(authService, logger)
	router.POST("/api/register", api.Register)
	router.POST("/api/login", api.Login)

	rooms := NewRoomHandlers(registry, st, logger)
	authorized := router.Group("/api", AuthMiddleware(authService, logger))
	authorized.GET("/rooms", rooms.ListRooms)
	authorized.GET("/rooms/:name/messages", rooms.ListMessages)

	admin := authorized.Group("", RequireRole(core.RoleAdmin))
	admin.POST("/rooms", rooms.CreateRoom)
	admin.DELETE("/rooms/:name", rooms.DeleteRoom)

	ws := NewWSHandler(hub, engine, registry, authService, st, cfg.HistoryLimit, logger)
	mux := stdhttp.NewServeMux()
	mux.HandleFunc("GET /ws/{room}", ws.Handle)
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
