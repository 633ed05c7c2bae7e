package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/store"
)

// NewServer builds the HTTP server: health, auth API, room history API, and
// the websocket chat route.
func NewServer(registry *core.Registry, st store.Store, authService *auth.Service, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	api := NewAPIHandlers(authService, st, cfg, logger)
	router.POST("/api/register", api.Register)
	router.POST("/api/login", api.Login)
	router.POST("/api/guest", api.GuestLogin)
	router.GET("/api/rooms/:room_name/messages", api.RoomMessages)

	ws := NewWSHandler(registry, st, authService, cfg, logger)
	router.GET("/ws/:room_name", ws.Handle)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
