package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chat schema on PostgreSQL.
// The users table is owned by the wider platform; it is created here only so
// the service can run standalone in development.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT         PRIMARY KEY,
			username   VARCHAR(50)  UNIQUE NOT NULL,
			avatar     TEXT,
			role       VARCHAR(20)  NOT NULL DEFAULT 'USER',
			is_active  BOOLEAN      NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		// user1_id < user2_id is enforced so the unordered pair is unique.
		`CREATE TABLE IF NOT EXISTS conversations (
			id           TEXT        PRIMARY KEY,
			user1_id     TEXT        NOT NULL REFERENCES users(id),
			user2_id     TEXT        NOT NULL REFERENCES users(id),
			status       VARCHAR(20) NOT NULL DEFAULT 'INACTIVE',
			last_message TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT conversations_pair_ordered CHECK (user1_id < user2_id),
			CONSTRAINT conversations_pair_unique  UNIQUE (user1_id, user2_id)
		)`,

		`CREATE TABLE IF NOT EXISTS private_messages (
			id              TEXT        PRIMARY KEY,
			conversation_id TEXT        NOT NULL REFERENCES conversations(id),
			sender_id       TEXT        NOT NULL REFERENCES users(id),
			receiver_id     TEXT        NOT NULL REFERENCES users(id),
			content         TEXT        NOT NULL,
			image_url       TEXT,
			read            BOOLEAN     NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT        PRIMARY KEY,
			user_id    TEXT        NOT NULL REFERENCES users(id),
			body       TEXT        NOT NULL,
			read       BOOLEAN     NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_conversations_user1 ON conversations(user1_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user2 ON conversations(user2_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_private_messages_conversation ON private_messages(conversation_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_private_messages_unread ON private_messages(conversation_id, receiver_id) WHERE read = FALSE`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
