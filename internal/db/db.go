package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect initializes the database connection and runs migrations.
func Connect(ctx context.Context, dsn string, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied")

	return db, nil
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            conversation_key TEXT NOT NULL,
            type TEXT NOT NULL CHECK (type IN ('client', 'ai', 'admin', 'audio')),
            content TEXT NOT NULL,
            is_sent BOOLEAN NOT NULL DEFAULT FALSE,
            client_msg_id TEXT,
            sender_id INT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_id_idx ON messages (conversation_key, id);`,
		`ALTER TABLE messages DROP CONSTRAINT IF EXISTS messages_client_msg_id_key;`,
		`CREATE UNIQUE INDEX IF NOT EXISTS messages_conversation_client_msg_idx ON messages (conversation_key, client_msg_id);`,
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
