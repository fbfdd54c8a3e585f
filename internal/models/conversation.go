package models

import "time"

// ConversationSummary describes one conversation in the inbox list.
type ConversationSummary struct {
	Key           string    `db:"conversation_key" json:"conversation_key"`
	LastMessageID int64     `db:"last_message_id" json:"last_message_id"`
	LastMessageAt time.Time `db:"last_message_at" json:"last_message_at"`
	Total         int       `db:"total" json:"total"`
	Unsent        int       `db:"unsent" json:"unsent"`
}

// Identity is the authenticated caller of the dashboard API.
type Identity struct {
	UserID int    `json:"user_id"`
	Role   string `json:"role"`
}

const (
	RoleAdmin   = "admin"
	RoleGerente = "gerente"
	RoleClient  = "client"
)
