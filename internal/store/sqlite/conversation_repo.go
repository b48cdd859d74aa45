package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"parcelchat/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

func orderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func (r *ConversationRepo) GetOrCreate(ctx context.Context, user1ID, user2ID string) (*domain.Conversation, error) {
	if user1ID == user2ID {
		return nil, domain.ErrInvalidInput
	}
	u1, u2 := orderPair(user1ID, user2ID)

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user1_id, user2_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user1_id, user2_id) DO NOTHING
	`, uuid.NewString(), u1, u2, domain.ConversationInactive, now, now); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user1_id, user2_id, status, last_message, created_at, updated_at
		FROM conversations
		WHERE user1_id = ? AND user2_id = ?
	`, u1, u2).Scan(&c.ID, &c.User1ID, &c.User2ID, &c.Status, &c.LastMessage, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get conversation by pair: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user1_id, user2_id, status, last_message, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id).Scan(&c.ID, &c.User1ID, &c.User2ID, &c.Status, &c.LastMessage, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) ListActiveForUser(ctx context.Context, userID string, offset, limit int) ([]*domain.Conversation, int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user1_id, user2_id, status, last_message, created_at, updated_at
		FROM conversations
		WHERE (user1_id = ? OR user2_id = ?) AND status = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, userID, domain.ConversationActive, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c := &domain.Conversation{}
		if err := rows.Scan(&c.ID, &c.User1ID, &c.User2ID, &c.Status, &c.LastMessage, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan conversation: %w", err)
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversations
		WHERE (user1_id = ? OR user2_id = ?) AND status = ?
	`, userID, userID, domain.ConversationActive).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}
	return res, total, nil
}

func (r *ConversationRepo) UpdateDirectory(ctx context.Context, id, lastMessage string, updatedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = ?, updated_at = ?, status = ?
		WHERE id = ?
	`, lastMessage, updatedAt, domain.ConversationActive, id)
	if err != nil {
		return fmt.Errorf("update directory: %w", err)
	}
	return nil
}
