package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"whatsapp-inbox/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, conversation_key, type, content, is_sent, client_msg_id, sender_id, created_at`

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	ListMessages(ctx context.Context, conversationKey string, afterID int64) ([]models.Message, error)
	CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, bool, error)
	MarkSent(ctx context.Context, messageID int64) error
	ListConversations(ctx context.Context) ([]models.ConversationSummary, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// ListMessages returns the conversation history ordered by id. A positive
// afterID returns only messages persisted after it.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationKey string, afterID int64) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+`
        FROM messages
        WHERE conversation_key=$1 AND id > $2
        ORDER BY id ASC`, conversationKey, afterID)
	return msgs, err
}

// CreateMessage stores a message. ClientMsgID is unique per conversation:
// when it matches a message already stored in the same conversation, that
// record is returned with created=false.
func (r *MessageRepo) CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, bool, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (conversation_key, type, content, is_sent, client_msg_id, sender_id)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (conversation_key, client_msg_id) DO NOTHING
        RETURNING `+messageColumns,
		in.ConversationKey, in.Type, in.Content, in.IsSent, in.ClientMsgID, in.SenderID).StructScan(&msg)
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || in.ClientMsgID == nil {
		return models.Message{}, false, err
	}

	err = r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+`
        FROM messages
        WHERE conversation_key=$1 AND client_msg_id=$2`, in.ConversationKey, *in.ClientMsgID)
	if err != nil {
		return models.Message{}, false, err
	}
	return msg, false, nil
}

// MarkSent records the delivery acknowledgement of a message.
func (r *MessageRepo) MarkSent(ctx context.Context, messageID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_sent = TRUE WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListConversations returns one summary per conversation, most recent first.
func (r *MessageRepo) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	query := `SELECT conversation_key,
            MAX(id) AS last_message_id,
            MAX(created_at) AS last_message_at,
            COUNT(*) AS total,
            COUNT(*) FILTER (WHERE type = 'admin' AND is_sent = FALSE) AS unsent
        FROM messages
        GROUP BY conversation_key
        ORDER BY last_message_id DESC`
	convs := []models.ConversationSummary{}
	err := r.db.SelectContext(ctx, &convs, query)
	return convs, err
}
