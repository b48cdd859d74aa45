package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"parcelchat/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

// UpsertBatch writes migrated fast-tier messages. Inserts are keyed by the
// message id generated at send time, so replaying a flush that already
// landed rows is a no-op for those rows.
func (r *MessageRepo) UpsertBatch(ctx context.Context, msgs []*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO private_messages
			(id, conversation_id, sender_id, receiver_id, content, image_url, read, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx,
			m.ID, m.ConversationID, m.SenderID, m.ReceiverID,
			m.Content, m.ImageURL, m.Read, m.CreatedAt, m.UpdatedAt,
		); err != nil {
			return fmt.Errorf("upsert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID string, offset, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, receiver_id, content, image_url, read, created_at, updated_at
		FROM private_messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3
	`, conversationID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return scanMessages(rows)
}

func (r *MessageRepo) CountForConversation(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM private_messages WHERE conversation_id = $1
	`, conversationID).Scan(&count)
	return count, err
}

func (r *MessageRepo) CountUnread(ctx context.Context, conversationID, receiverID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM private_messages
		WHERE conversation_id = $1 AND receiver_id = $2 AND read = FALSE
	`, conversationID, receiverID).Scan(&count)
	return count, err
}

// MarkAllRead flips unread messages addressed to receiverID. The read flag
// only ever transitions false to true.
func (r *MessageRepo) MarkAllRead(ctx context.Context, conversationID, receiverID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE private_messages
		SET read = TRUE, updated_at = NOW()
		WHERE conversation_id = $1 AND receiver_id = $2 AND read = FALSE
	`, conversationID, receiverID)
	return err
}

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID,
			&m.Content, &m.ImageURL, &m.Read, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
