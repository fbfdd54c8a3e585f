package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/observability"
	"whatsapp-inbox/internal/telemetry"
)

const writeWait = 10 * time.Second

type client struct {
	conn    *websocket.Conn
	info    ConnInfo
	writeMu sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains active websocket rooms, one per conversation key.
type Hub struct {
	rooms   map[string]map[*websocket.Conn]*client
	mu      sync.RWMutex
	emitter *telemetry.Emitter
	log     *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(emitter *telemetry.Emitter, log *zap.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*websocket.Conn]*client),
		emitter: emitter,
		log:     log,
	}
}

// AddClient registers a websocket connection to a conversation room.
func (h *Hub) AddClient(key string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[key]; !ok {
		h.rooms[key] = make(map[*websocket.Conn]*client)
	}
	h.rooms[key][conn] = &client{conn: conn, info: info}
}

// RemoveClient removes a websocket connection.
func (h *Hub) RemoveClient(key string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[key]; ok {
		delete(clients, conn)
		if len(clients) == 0 {
			delete(h.rooms, key)
		}
	}
}

// ClientCount reports the connections subscribed to a conversation.
func (h *Hub) ClientCount(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[key])
}

// BroadcastMessage sends a new message to every client of its conversation.
func (h *Hub) BroadcastMessage(key string, msg models.Message) {
	clients := h.snapshot(key)
	if len(clients) == 0 {
		return
	}

	payload, err := json.Marshal(models.MessageEvent{Type: "message", Message: &msg})
	if err != nil {
		h.log.Error("marshal message event", zap.Error(err))
		return
	}
	for _, c := range clients {
		if err := c.write(payload); err != nil {
			h.log.Warn("websocket write error", zap.String("conversation", key), zap.String("conn_id", c.info.ConnID), zap.Error(err))
			c.conn.Close()
			h.RemoveClient(key, c.conn)
			h.publishEvent(context.Background(), key, c.info, "ws_error", err.Error())
		}
	}
}

func (h *Hub) snapshot(key string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*client, 0, len(h.rooms[key]))
	for _, c := range h.rooms[key] {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) publishEvent(ctx context.Context, key string, info ConnInfo, event, reason string) {
	duration := int64(0)
	if !info.ConnectedAt.IsZero() {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"conversation": key,
			"event":        event,
			"conn_id":      info.ConnID,
			"duration_ms":  duration,
			"reason":       reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	userID := info.UserID
	h.emitter.Emit(ctx, "ws_events.conversations", telemetry.EventWS, event, payload, info.RequestID, info.TraceID, &userID)
	observability.IncWSEvent(event)
}
