package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whatsapp-inbox/internal/middleware"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/observability"
	"whatsapp-inbox/internal/repositories"
	"whatsapp-inbox/internal/telemetry"
	"whatsapp-inbox/internal/ws"
)

// MessageHandler serves the WhatsApp inbox endpoints.
type MessageHandler struct {
	messageRepo repositories.MessageRepository
	hub         *ws.Hub
	emitter     *telemetry.Emitter
	log         *zap.Logger
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messageRepo repositories.MessageRepository, hub *ws.Hub, emitter *telemetry.Emitter, log *zap.Logger) *MessageHandler {
	return &MessageHandler{
		messageRepo: messageRepo,
		hub:         hub,
		emitter:     emitter,
		log:         log,
	}
}

// ListMessages returns the full history of a conversation.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	key := conversationKeyFromQuery(c)
	if key == "" {
		c.JSON(http.StatusBadRequest, models.MessagesResponse{Messages: []models.Message{}, Error: "conversationKey is required"})
		return
	}

	var afterID int64
	if raw := c.Query("after_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			c.JSON(http.StatusBadRequest, models.MessagesResponse{Messages: []models.Message{}, Error: "invalid after_id"})
			return
		}
		afterID = id
	}

	msgs, err := h.messageRepo.ListMessages(c.Request.Context(), key, afterID)
	if err != nil {
		h.log.Error("list messages", zap.String("conversation", key), zap.String("request_id", requestIDFromContext(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.MessagesResponse{Messages: []models.Message{}, Error: "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, models.MessagesResponse{Messages: msgs, Total: len(msgs)})
}

// PostMessage stores a message. Retrying with the same client_msg_id returns
// the stored record with 200 instead of 201.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	var req struct {
		ConversationKey string             `json:"conversation_key" binding:"required"`
		Type            models.MessageType `json:"type"`
		Content         string             `json:"content" binding:"required"`
		ClientMsgID     *string            `json:"client_msg_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type == "" {
		req.Type = models.MessageTypeAdmin
	}
	if !req.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message type"})
		return
	}
	if req.Type == models.MessageTypeAdmin && !isStaff(c.GetString(middleware.RoleKey)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
		return
	}
	if req.ClientMsgID != nil && strings.TrimSpace(*req.ClientMsgID) == "" {
		req.ClientMsgID = nil
	}

	userID := c.GetInt(middleware.UserIDKey)
	in := models.NewMessage{
		ConversationKey: strings.TrimSpace(req.ConversationKey),
		Type:            req.Type,
		Content:         req.Content,
		ClientMsgID:     req.ClientMsgID,
	}
	if userID != 0 {
		in.SenderID = &userID
	}

	msg, created, err := h.messageRepo.CreateMessage(c.Request.Context(), in)
	if err != nil {
		h.log.Error("store message", zap.String("conversation", in.ConversationKey), zap.String("request_id", requestIDFromContext(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}
	if !created {
		c.JSON(http.StatusOK, msg)
		return
	}

	requestID := requestIDFromContext(c)
	traceID := observability.TraceIDFromContext(c.Request.Context())
	h.hub.BroadcastMessage(msg.ConversationKey, msg)
	h.emitter.Emit(c.Request.Context(), "messages.created", telemetry.EventMessageCreated, string(msg.Type), msg, requestID, traceID, in.SenderID)
	if msg.Type == models.MessageTypeAdmin {
		h.emitter.Audit(c.Request.Context(), "INFO", "admin reply to "+msg.ConversationKey, requestID, in.SenderID)
	}

	c.JSON(http.StatusCreated, msg)
}

// AckMessage records the delivery acknowledgement of a message.
func (h *MessageHandler) AckMessage(c *gin.Context) {
	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil || messageID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	if err := h.messageRepo.MarkSent(c.Request.Context(), messageID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not acknowledge message"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ListConversations returns one summary per conversation.
func (h *MessageHandler) ListConversations(c *gin.Context) {
	convs, err := h.messageRepo.ListConversations(c.Request.Context())
	if err != nil {
		h.log.Error("list conversations", zap.String("request_id", requestIDFromContext(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func isStaff(role string) bool {
	return role == models.RoleAdmin || role == models.RoleGerente
}

func conversationKeyFromQuery(c *gin.Context) string {
	key := strings.TrimSpace(c.Query("conversationKey"))
	if key == "" {
		key = strings.TrimSpace(c.Query("phone"))
	}
	return key
}
