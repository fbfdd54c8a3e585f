package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"whatsapp-inbox/internal/mocks"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/msgsync"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func inboxServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/whatsapp/messages", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"messages":[{"id":1,"type":"client","content":"Bati o carro","created_at":"2024-05-02T10:00:00Z"}],"total":1}`))
		case http.MethodPost:
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": 12, "type": "admin", "content": body["content"],
				"created_at": "2024-05-02T10:05:00Z", "client_msg_id": body["client_msg_id"],
			})
		}
	})
	mux.HandleFunc("/api/whatsapp/conversations", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"conversations":[{"conversation_key":"5511999990000","last_message_id":12,"last_message_at":"2024-05-02T10:05:00Z","total":2,"unsent":1}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, ctx context.Context, out *syncBuffer, args ...string) error {
	t.Helper()
	cmd := NewRootCommand(out)
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(""))
	return cmd.ExecuteContext(ctx)
}

func TestConversationsCommand(t *testing.T) {
	srv := inboxServer(t)
	out := &syncBuffer{}

	err := run(t, context.Background(), out, "conversations", "--endpoint", srv.URL+"/api/whatsapp/messages")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "CONVERSATION")
	assert.Contains(t, out.String(), "5511999990000")
}

func TestSendCommand(t *testing.T) {
	srv := inboxServer(t)
	out := &syncBuffer{}

	err := run(t, context.Background(), out, "send",
		"--endpoint", srv.URL+"/api/whatsapp/messages",
		"--conversation", "5511999990000",
		"--text", "Documentos recebidos")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "sent id=12")
}

func TestSendCommandRequiresText(t *testing.T) {
	err := run(t, context.Background(), &syncBuffer{}, "send", "--conversation", "5511")
	require.Error(t, err)
}

func TestWatchCommandPrintsHistory(t *testing.T) {
	srv := inboxServer(t)
	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(t, ctx, out, "watch", "--quiet",
			"--endpoint", srv.URL+"/api/whatsapp/messages",
			"--conversation", "5511999990000")
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[Cliente] Bati o carro")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.NotContains(t, out.String(), bell)
}

func TestTerminalNotifierGroupsAndSignals(t *testing.T) {
	out := &syncBuffer{}
	n := NewTerminalNotifier(out, time.UTC, false)
	n.now = func() time.Time { return time.Date(2024, 5, 2, 18, 0, 0, 0, time.UTC) }

	n.OnNewMessages(context.Background(), []models.Message{
		{ID: 1, Type: models.MessageTypeClient, Content: "oi", CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		{ID: 2, Type: models.MessageTypeAI, Content: "Olá!", CreatedAt: time.Date(2024, 5, 2, 9, 1, 0, 0, time.UTC)},
	})
	n.OnNewMessages(context.Background(), []models.Message{
		{ID: 3, Type: models.MessageTypeAdmin, Content: "Envie a CNH", CreatedAt: time.Date(2024, 5, 2, 9, 2, 0, 0, time.UTC)},
	})

	got := out.String()
	assert.Equal(t, 1, strings.Count(got, "── Ontem ──"))
	assert.Equal(t, 1, strings.Count(got, "── Hoje ──"))
	assert.Contains(t, got, "09:02 [Atendente] Envie a CNH")
	assert.Equal(t, 2, strings.Count(got, bell))
	assert.Contains(t, got, "↓ 1 nova(s) mensagem(ns)")
}

func TestTerminalNotifierStatusBanner(t *testing.T) {
	out := &syncBuffer{}
	n := NewTerminalNotifier(out, time.UTC, true)

	n.OnStatusChange(context.Background(), msgsync.Status{Offline: true, ConsecutiveFailures: 3, LastError: errors.New("connection refused")})
	n.OnStatusChange(context.Background(), msgsync.Status{})
	n.PrintPending(msgsync.Pending{Content: "ok", Status: msgsync.PendingFailed, CreatedAt: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)})

	got := out.String()
	assert.Contains(t, got, "sem conexão com o servidor (3 falhas seguidas): connection refused")
	assert.Contains(t, got, "conexão restabelecida")
	assert.Contains(t, got, "09:00 [Atendente] ok (falhou)")
}

func TestReadRepliesReportsSendErrors(t *testing.T) {
	fetcher := new(mocks.FetcherMock)
	fetcher.On("SendMessage", mock.Anything, "5511", "primeira", mock.AnythingOfType("string")).
		Return(nil, errors.New("status=502")).Once()

	withSender, err := msgsync.New(msgsync.NewSession("5511"), fetcher, nil, nil, msgsync.Options{Sender: fetcher})
	require.NoError(t, err)
	withoutSender, err := msgsync.New(msgsync.NewSession("5511"), fetcher, nil, nil, msgsync.Options{})
	require.NoError(t, err)

	out := &syncBuffer{}
	n := NewTerminalNotifier(out, time.UTC, true)

	readReplies(context.Background(), strings.NewReader("primeira\n"), withSender, n)
	readReplies(context.Background(), strings.NewReader("segunda\n"), withoutSender, n)

	got := out.String()
	assert.Contains(t, got, "[Atendente] primeira (falhou)")
	assert.Contains(t, got, "!! envio falhou: status=502")
	assert.Contains(t, got, "!! envio falhou: "+msgsync.ErrNoSender.Error())
	assert.NotContains(t, got, "[Atendente]  (")
	assert.Equal(t, 1, strings.Count(got, "[Atendente]"))
	fetcher.AssertExpectations(t)
}
