// Package demo implements the sample application served by cmd/hostlink-demo.
// The routes are chosen to surface what the hosting bootstrap wired: client
// address after forwarded-header rewriting, the resolved scheme, and the
// forwarded identity.
package demo

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hostlink/go-hostlink/pkg/config"
)

// Handlers aggregates the demo HTTP handlers
type Handlers struct {
	cfg        *config.Config
	logger     *zap.Logger
	instanceID string
	startedAt  time.Time
	upgrader   websocket.Upgrader
}

// NewHandlers creates a new Handlers instance
func NewHandlers(cfg *config.Config, logger *zap.Logger) *Handlers {
	return &Handlers{
		cfg:        cfg,
		logger:     logger.Named("handlers"),
		instanceID: uuid.NewString(),
		startedAt:  time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Register mounts the demo routes under base. The agent assigns base as the
// application's virtual path; standalone mode uses "/".
func (h *Handlers) Register(r *gin.Engine, base string) {
	g := r.Group(base)

	g.GET("/status", h.Status)
	g.GET("/healthz", h.Status)
	g.GET("/whoami", h.WhoAmI)
	g.POST("/echo", h.Echo)
	g.GET("/ws", h.WebSocketEcho)
	g.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Status handles the /status and /healthz endpoints
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"service":     h.cfg.App.Name,
		"instance_id": h.instanceID,
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// WhoAmI reports the request as the application sees it after the hosting
// filters ran: the effective client address, scheme, and forwarded identity.
func (h *Handlers) WhoAmI(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"client_ip":   c.ClientIP(),
		"scheme":      c.Request.URL.Scheme,
		"user":        c.GetString("user"),
		"auth_scheme": c.GetString("auth_scheme"),
		"path":        c.Request.URL.Path,
	})
}

// Echo returns the posted body together with request metadata
func (h *Handlers) Echo(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"body":      string(body),
		"client_ip": c.ClientIP(),
		"user":      c.GetString("user"),
	})
}

// WebSocketEcho upgrades the connection and echoes every message back.
// Exercises the upgrade path through the hosting filters.
func (h *Handlers) WebSocketEcho(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(msgType, msg); err != nil {
			return
		}
	}
}
