package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"whatsapp-inbox/internal/models"
)

var (
	// ErrFetchFailure covers transport errors, non-2xx responses and
	// responses whose error field is set.
	ErrFetchFailure = errors.New("fetch failure")
	// ErrMalformedResponse covers bodies that do not decode into a valid
	// message envelope.
	ErrMalformedResponse = errors.New("malformed response")
)

// wireMessage mirrors the JSON of one message with every field optional so
// that absence can be told apart from zero values.
type wireMessage struct {
	ID              *int64     `json:"id"`
	ConversationKey string     `json:"conversation_key"`
	Type            *string    `json:"type"`
	Content         *string    `json:"content"`
	CreatedAt       *time.Time `json:"created_at"`
	IsSent          *bool      `json:"is_sent"`
	ClientMsgID     *string    `json:"client_msg_id"`
}

type wireEnvelope struct {
	Messages *[]wireMessage `json:"messages"`
	Total    *int           `json:"total"`
	Error    string         `json:"error"`
}

// DecodeMessages parses a messages endpoint body. It fails closed: a single
// invalid entry rejects the whole batch.
func DecodeMessages(body []byte) ([]models.Message, error) {
	var env wireEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Error != "" {
		return nil, fmt.Errorf("%w: server error: %s", ErrFetchFailure, env.Error)
	}
	if env.Messages == nil {
		return nil, fmt.Errorf("%w: missing messages", ErrMalformedResponse)
	}
	if env.Total != nil && *env.Total != len(*env.Messages) {
		return nil, fmt.Errorf("%w: total %d does not match %d messages", ErrMalformedResponse, *env.Total, len(*env.Messages))
	}

	msgs := make([]models.Message, 0, len(*env.Messages))
	for i, w := range *env.Messages {
		msg, err := w.toMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: message %d: %v", ErrMalformedResponse, i, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// DecodeMessage parses a single message object.
func DecodeMessage(body []byte) (models.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(body, &w); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	msg, err := w.toMessage()
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return msg, nil
}

func (w wireMessage) toMessage() (models.Message, error) {
	switch {
	case w.ID == nil:
		return models.Message{}, errors.New("missing id")
	case *w.ID <= 0:
		return models.Message{}, fmt.Errorf("non-positive id %d", *w.ID)
	case w.Type == nil:
		return models.Message{}, errors.New("missing type")
	case !models.MessageType(*w.Type).Valid():
		return models.Message{}, fmt.Errorf("unknown type %q", *w.Type)
	case w.Content == nil:
		return models.Message{}, errors.New("missing content")
	case w.CreatedAt == nil || w.CreatedAt.IsZero():
		return models.Message{}, errors.New("missing created_at")
	}

	msg := models.Message{
		ID:              *w.ID,
		ConversationKey: w.ConversationKey,
		Type:            models.MessageType(*w.Type),
		Content:         *w.Content,
		CreatedAt:       *w.CreatedAt,
		ClientMsgID:     w.ClientMsgID,
	}
	if w.IsSent != nil {
		msg.IsSent = *w.IsSent
	}
	return msg, nil
}
