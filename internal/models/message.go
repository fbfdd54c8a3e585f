package models

import "time"

// MessageType identifies the channel a message came from.
type MessageType string

const (
	MessageTypeClient MessageType = "client"
	MessageTypeAI     MessageType = "ai"
	MessageTypeAdmin  MessageType = "admin"
	MessageTypeAudio  MessageType = "audio"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeClient, MessageTypeAI, MessageTypeAdmin, MessageTypeAudio:
		return true
	}
	return false
}

// Message is a single entry of a WhatsApp conversation. For audio messages
// Content holds the clip duration.
type Message struct {
	ID              int64       `db:"id" json:"id"`
	ConversationKey string      `db:"conversation_key" json:"conversation_key,omitempty"`
	Type            MessageType `db:"type" json:"type"`
	Content         string      `db:"content" json:"content"`
	IsSent          bool        `db:"is_sent" json:"is_sent"`
	ClientMsgID     *string     `db:"client_msg_id" json:"client_msg_id,omitempty"`
	SenderID        *int        `db:"sender_id" json:"sender_id,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
}

// NewMessage is the input for persisting a message.
type NewMessage struct {
	ConversationKey string
	Type            MessageType
	Content         string
	ClientMsgID     *string
	SenderID        *int
	IsSent          bool
}

// MessagesResponse is the body of the messages list endpoint.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	Error    string    `json:"error,omitempty"`
}

// MessageEvent is broadcasted through websockets.
type MessageEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}
