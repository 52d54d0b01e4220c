package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/parley/server/cache"
	"github.com/kasuganosora/parley/server/config"
	"github.com/kasuganosora/parley/server/gateway"
	mw "github.com/kasuganosora/parley/server/middleware"
	"go.uber.org/zap"
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	cache    cache.Cache
	sec      config.SecurityConfig
	connCfg  gateway.ConnConfig
	hub      *gateway.Hub
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(
	c cache.Cache,
	sec config.SecurityConfig,
	connCfg gateway.ConnConfig,
	hub *gateway.Hub,
	router *Router,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		cache:   c,
		sec:     sec,
		connCfg: connCfg,
		hub:     hub,
		router:  router,
		logger:  logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws?token=<jwt>.
func (h *Handler) ServeWS(c *gin.Context) {
	claims, err := mw.Authenticate(c.Request.Context(), c.Query("token"), h.sec, h.cache)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": "unauthorized"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	conn := gateway.NewConn(claims.UserID, ws, h.connCfg, h.logger)
	h.hub.Register(conn)
	h.readPump(conn)
}

// readPump reads messages from the WebSocket connection and dispatches them.
// Commands of one connection are handled in arrival order.
func (h *Handler) readPump(c *gateway.Conn) {
	defer h.handleDisconnect(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.Done():
			// unblock ReadMessage when the server closes the connection
			_ = c.WS.Close()
		case <-ctx.Done():
		}
	}()

	c.ExtendReadDeadline()
	c.WS.SetPongHandler(func(string) error {
		c.ExtendReadDeadline()
		return nil
	})

	for {
		_, raw, err := c.WS.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("user_id", c.UserID),
					zap.Error(err))
			}
			return
		}
		c.ExtendReadDeadline()
		h.router.Dispatch(ctx, c, raw)
	}
}

// handleDisconnect drops the connection and all of its room memberships.
func (h *Handler) handleDisconnect(c *gateway.Conn) {
	c.Close()
	h.hub.Unregister(c)
	h.logger.Info("user disconnected",
		zap.Int64("user_id", c.UserID),
		zap.String("conn_id", c.ID))
}
