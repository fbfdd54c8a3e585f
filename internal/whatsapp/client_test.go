package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchMessagesSendsKeyAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/whatsapp/messages", r.URL.Path)
		assert.Equal(t, "5511999990000", r.URL.Query().Get("conversationKey"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"messages":[{"id":1,"type":"client","content":"oi","created_at":"2024-05-02T10:00:00Z"}],"total":1}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/api/whatsapp/messages", "tok", time.Second)
	msgs, err := client.FetchMessages(context.Background(), "5511999990000")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "oi", msgs[0].Content)
}

func TestFetchMessagesNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).FetchMessages(context.Background(), "k")
	require.ErrorIs(t, err, ErrFetchFailure)
}

func TestFetchMessagesUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "", time.Second).FetchMessages(context.Background(), "k")
	require.ErrorIs(t, err, ErrFetchFailure)
}

func TestFetchMessagesMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"total":1}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).FetchMessages(context.Background(), "k")
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSendMessagePostsIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "5511", body["conversation_key"])
		assert.Equal(t, "admin", body["type"])
		assert.Equal(t, "Documentos recebidos", body["content"])
		assert.Equal(t, "key-1", body["client_msg_id"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":12,"type":"admin","content":"Documentos recebidos","created_at":"2024-05-02T10:00:00Z","client_msg_id":"key-1"}`))
	}))
	defer srv.Close()

	msg, err := NewClient(srv.URL+"/api/whatsapp/messages", "", time.Second).SendMessage(context.Background(), "5511", "Documentos recebidos", "key-1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), msg.ID)
}

func TestListConversationsUsesSiblingEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/whatsapp/conversations", r.URL.Path)
		_, _ = w.Write([]byte(`{"conversations":[{"conversation_key":"5511","last_message_id":4,"total":4}]}`))
	}))
	defer srv.Close()

	convs, err := NewClient(srv.URL+"/api/whatsapp/messages", "", time.Second).ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, int64(4), convs[0].LastMessageID)
}
