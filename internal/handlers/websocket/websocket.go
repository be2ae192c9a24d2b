// internal/handlers/websocket/websocket.go
package websocket

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"audiotricks-service/internal/pkg/response"
	ws "audiotricks-service/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewWebSocketHandler(hub *ws.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
			// The access token is checked before the upgrade, which is what
			// stops cross-site pages from opening a socket as the user.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// HandleConnection authenticates before upgrading so a rejected client gets
// a normal JSON error instead of a closed socket.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	token := bearerOrQuery(c)
	if token == "" {
		response.Unauthorized(c, "missing authentication token")
		return
	}

	auth, err := h.hub.AuthenticateClient(c.Request.Context(), token)
	if err != nil {
		h.logger.Debug("websocket authentication failed", zap.String("ip", c.ClientIP()), zap.Error(err))
		response.FromError(c, "authentication failed", err)
		return
	}
	if device := c.Query("device"); device != "" && auth.Device == "" {
		auth.Device = device
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.Int64("user_id", auth.UserID), zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, auth)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

func bearerOrQuery(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return c.Query("token")
}

// GetStats reports live connections, optionally for one ?user_id.
func (h *WebSocketHandler) GetStats(c *gin.Context) {
	stats := gin.H{
		"total_connections": h.hub.TotalClients(),
		"timestamp":         time.Now().UTC(),
	}

	if raw := c.Query("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			response.Error(c, http.StatusBadRequest, "invalid user_id", err)
			return
		}
		stats["user_id"] = userID
		stats["user_connections"] = h.hub.GetConnectedClients(userID)
	}

	response.Success(c, http.StatusOK, "websocket stats", stats)
}
