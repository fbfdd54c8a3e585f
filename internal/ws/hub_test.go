package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"whatsapp-inbox/internal/middleware"
	"whatsapp-inbox/internal/models"
)

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub(nil, zaptest.NewLogger(t))

	hub.AddClient("5511999990000", nil, ConnInfo{})
	if len(hub.rooms) != 1 {
		t.Fatalf("expected conversation room to be created")
	}

	hub.RemoveClient("5511999990000", nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected conversation room to be removed")
	}
}

func TestBroadcastWithoutClientsIsNoop(t *testing.T) {
	hub := NewHub(nil, zaptest.NewLogger(t))
	assert.NotPanics(t, func() {
		hub.BroadcastMessage("nobody", models.Message{ID: 1})
	})
}

func TestConversationWebSocketReceivesBroadcast(t *testing.T) {
	log := zaptest.NewLogger(t)
	hub := NewHub(nil, log)
	handler := NewConversationWebSocketHandler(hub, middleware.StaticValidator{
		"tok": {UserID: 1, Role: models.RoleAdmin},
	}, log)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/whatsapp/:conversation_key", handler.Handle)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/whatsapp/5511988887777?token=tok"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount("5511988887777") == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastMessage("5511988887777", models.Message{ID: 42, Type: models.MessageTypeClient, Content: "oi"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event models.MessageEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "message", event.Type)
	require.NotNil(t, event.Message)
	assert.Equal(t, int64(42), event.Message.ID)
}

func TestConversationWebSocketRejectsBadToken(t *testing.T) {
	log := zaptest.NewLogger(t)
	handler := NewConversationWebSocketHandler(NewHub(nil, log), middleware.StaticValidator{}, log)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/whatsapp/:conversation_key", handler.Handle)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/whatsapp/123?token=bad", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
