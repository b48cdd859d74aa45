package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chat schema on SQLite.
// Mirrors the PostgreSQL schema; used for local development.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			username   VARCHAR(50) UNIQUE NOT NULL,
			avatar     TEXT,
			role       VARCHAR(20) NOT NULL DEFAULT 'USER',
			is_active  BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id           TEXT PRIMARY KEY,
			user1_id     TEXT NOT NULL REFERENCES users(id),
			user2_id     TEXT NOT NULL REFERENCES users(id),
			status       VARCHAR(20) NOT NULL DEFAULT 'INACTIVE',
			last_message TEXT,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK (user1_id < user2_id),
			UNIQUE (user1_id, user2_id)
		);`,
		`CREATE TABLE IF NOT EXISTS private_messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id       TEXT NOT NULL REFERENCES users(id),
			receiver_id     TEXT NOT NULL REFERENCES users(id),
			content         TEXT NOT NULL,
			image_url       TEXT,
			read            BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      DATETIME NOT NULL,
			updated_at      DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			body       TEXT NOT NULL,
			read       BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_private_messages_conversation ON private_messages(conversation_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
