package postgres

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

// orderPair normalises an unordered participant pair so it can hit the
// UNIQUE(user1_id, user2_id) constraint regardless of argument order.
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

	// Insert-or-ignore first, then select: two concurrent callers both land
	// on the same row.
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user1_id, user2_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (user1_id, user2_id) DO NOTHING
	`, uuid.NewString(), u1, u2, domain.ConversationInactive); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user1_id, user2_id, status, last_message, created_at, updated_at
		FROM conversations
		WHERE user1_id = $1 AND user2_id = $2
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
		FROM conversations WHERE id = $1
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
		WHERE (user1_id = $1 OR user2_id = $1) AND status = $2
		ORDER BY updated_at DESC, id DESC
		OFFSET $3 LIMIT $4
	`, userID, domain.ConversationActive, offset, limit)
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
		WHERE (user1_id = $1 OR user2_id = $1) AND status = $2
	`, userID, domain.ConversationActive).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}
	return res, total, nil
}

func (r *ConversationRepo) UpdateDirectory(ctx context.Context, id, lastMessage string, updatedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = $1, updated_at = $2, status = $3
		WHERE id = $4
	`, lastMessage, updatedAt, domain.ConversationActive, id)
	if err != nil {
		return fmt.Errorf("update directory: %w", err)
	}
	return nil
}
