package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"whatsapp-inbox/internal/middleware"
	"whatsapp-inbox/internal/observability"
)

// ConversationWebSocketHandler pushes new messages of one conversation.
type ConversationWebSocketHandler struct {
	hub       *Hub
	validator middleware.TokenValidator
	log       *zap.Logger
}

// NewConversationWebSocketHandler constructs a ConversationWebSocketHandler.
func NewConversationWebSocketHandler(hub *Hub, validator middleware.TokenValidator, log *zap.Logger) *ConversationWebSocketHandler {
	return &ConversationWebSocketHandler{hub: hub, validator: validator, log: log}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers client.
func (h *ConversationWebSocketHandler) Handle(c *gin.Context) {
	key := c.Param("conversation_key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation key is required"})
		return
	}

	ctx, span := otel.Tracer("whatsapp-inbox/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	id, err := h.validator.ValidateToken(ctx, token)
	if token == "" || err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      id.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   c.GetHeader("X-Request-ID"),
		TraceID:     observability.TraceIDFromContext(ctx),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(key, conn, info)
	observability.IncWSActive()
	h.hub.publishEvent(ctx, key, info, "ws_connect", "")

	// The read loop only detects closure; clients never send on this socket.
	eventCtx := context.WithoutCancel(ctx)
	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveClient(key, conn)
			observability.DecWSActive()
			h.hub.publishEvent(eventCtx, key, info, "ws_disconnect", closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.hub.publishEvent(eventCtx, key, info, "ws_error", closeReason)
				}
				return
			}
		}
	}()
}
