package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"whatsapp-inbox/internal/models"
)

const maxBodyBytes = 32 << 20

// Client talks to the inbox messages endpoint.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewClient builds a client for endpoint, e.g.
// "http://localhost:8083/api/whatsapp/messages".
func NewClient(endpoint, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchMessages returns the full history of a conversation.
func (c *Client) FetchMessages(ctx context.Context, conversationKey string) ([]models.Message, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailure, err)
	}
	q := u.Query()
	q.Set("conversationKey", conversationKey)
	u.RawQuery = q.Encode()

	body, err := c.do(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return DecodeMessages(body)
}

// SendMessage posts an admin reply carrying clientMsgID as idempotency key.
func (c *Client) SendMessage(ctx context.Context, conversationKey, content, clientMsgID string) (models.Message, error) {
	payload, err := json.Marshal(map[string]string{
		"conversation_key": conversationKey,
		"type":             string(models.MessageTypeAdmin),
		"content":          content,
		"client_msg_id":    clientMsgID,
	})
	if err != nil {
		return models.Message{}, err
	}

	body, err := c.do(ctx, http.MethodPost, c.endpoint, payload)
	if err != nil {
		return models.Message{}, err
	}
	return DecodeMessage(body)
}

// ListConversations reads the conversations endpoint that sits next to the
// messages endpoint.
func (c *Client) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	base := c.endpoint[:strings.LastIndex(c.endpoint, "/")+1]
	body, err := c.do(ctx, http.MethodGet, base+"conversations", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return resp.Conversations, nil
}

func (c *Client) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailure, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetchFailure, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d", ErrFetchFailure, resp.StatusCode)
	}
	return body, nil
}
