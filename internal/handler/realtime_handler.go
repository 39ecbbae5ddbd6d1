package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/course-select-api/internal/realtime"
)

// RealtimeHandler upgrades requests to the live capacity channel.
type RealtimeHandler struct {
	base     context.Context
	hub      *realtime.Hub
	auth     realtime.TokenValidator
	upgrader websocket.Upgrader
	cfg      realtime.ClientConfig
	logger   *zap.Logger
}

// NewRealtimeHandler constructs the handler. Connections are closed when base
// is cancelled. checkOrigin may be nil to accept every origin.
func NewRealtimeHandler(base context.Context, hub *realtime.Hub, auth realtime.TokenValidator, cfg realtime.ClientConfig, checkOrigin func(*http.Request) bool, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &RealtimeHandler{
		base: base,
		hub:  hub,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Serve godoc
// @Summary Live capacity channel
// @Description Websocket. Authenticate with a bearer token at upgrade or an authenticate action, then subscribe to terms.
// @Tags Realtime
// @Param token query string false "Access token"
// @Success 101
// @Router /ws [get]
func (h *RealtimeHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	claims := claimsFromContext(c)
	id := uuid.NewString()
	fields := []zap.Field{zap.String("connection_id", id), zap.Bool("authenticated", claims != nil)}
	if claims != nil {
		fields = append(fields, zap.String("user_id", claims.UserID))
	}
	h.logger.Debug("realtime connection opened", fields...)

	client := realtime.NewClient(id, conn, h.hub, h.auth, claims, h.cfg, h.logger)
	client.Run(h.base)

	h.logger.Debug("realtime connection closed", zap.String("connection_id", id))
}
