package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationKey string, afterID int64) ([]models.Message, error) {
	args := m.Called(ctx, conversationKey, afterID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, bool, error) {
	args := m.Called(ctx, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) MarkSent(ctx context.Context, messageID int64) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	args := m.Called(ctx)
	var convs []models.ConversationSummary
	if val := args.Get(0); val != nil {
		convs = val.([]models.ConversationSummary)
	}
	return convs, args.Error(1)
}

// FetcherMock stands in for the messages endpoint client.
type FetcherMock struct {
	mock.Mock
}

func (m *FetcherMock) FetchMessages(ctx context.Context, conversationKey string) ([]models.Message, error) {
	args := m.Called(ctx, conversationKey)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *FetcherMock) SendMessage(ctx context.Context, conversationKey, content, clientMsgID string) (models.Message, error) {
	args := m.Called(ctx, conversationKey, content, clientMsgID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

// NotifierMock records new-message signals.
type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) OnNewMessages(ctx context.Context, msgs []models.Message) {
	m.Called(ctx, msgs)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
