package repositories

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-inbox/internal/models"
)

var messageRowColumns = []string{"id", "conversation_key", "type", "content", "is_sent", "client_msg_id", "sender_id", "created_at"}

func newMockRepo(t *testing.T) (*MessageRepo, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewMessageRepo(sqlx.NewDb(conn, "postgres")), mock
}

func TestCreateMessageInserts(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	key := "c-1"

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (conversation_key, client_msg_id) DO NOTHING")).
		WithArgs("5511", models.MessageTypeAdmin, "ok", false, "c-1", nil).
		WillReturnRows(sqlmock.NewRows(messageRowColumns).AddRow(7, "5511", "admin", "ok", false, "c-1", nil, created))

	msg, isNew, err := repo.CreateMessage(context.Background(), models.NewMessage{
		ConversationKey: "5511",
		Type:            models.MessageTypeAdmin,
		Content:         "ok",
		ClientMsgID:     &key,
	})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, int64(7), msg.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMessageRetryLooksUpWithinConversation(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	key := "c-1"

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnRows(sqlmock.NewRows(messageRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE conversation_key=$1 AND client_msg_id=$2")).
		WithArgs("5522", "c-1").
		WillReturnRows(sqlmock.NewRows(messageRowColumns).AddRow(9, "5522", "admin", "ok", false, "c-1", nil, created))

	msg, isNew, err := repo.CreateMessage(context.Background(), models.NewMessage{
		ConversationKey: "5522",
		Type:            models.MessageTypeAdmin,
		Content:         "ok",
		ClientMsgID:     &key,
	})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "5522", msg.ConversationKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSentNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages SET is_sent = TRUE WHERE id=$1")).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkSent(context.Background(), 42)
	require.ErrorIs(t, err, ErrMessageNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
