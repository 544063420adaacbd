package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/quizarena/roomsync/internal/broker"
	"github.com/quizarena/roomsync/internal/config"
)

// NewServer builds the broker's HTTP server: health, the room/token
// API, and the WebSocket channel endpoint.
func NewServer(hub *broker.Hub, tokens *broker.TokenConfig, cfg config.Config, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(LoggerMiddleware(logger), gin.Recovery())

	api := NewAPIHandlers(hub, tokens, logger)
	ws := NewWSHandler(hub, tokens, logger)

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.POST("/api/rooms", api.CreateRoom)
	router.POST("/api/token", api.IssueToken)
	router.GET("/ws", func(c *gin.Context) {
		ws.ServeHTTP(c.Writer, c.Request)
	})

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
