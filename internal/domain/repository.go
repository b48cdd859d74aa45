package domain

import (
	"context"
	"time"
)

// UserRepository is the read-only user lookup capability. The wider platform
// owns user writes; the chat core only resolves ids to profiles.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
}

// ConversationRepository defines durable persistence for conversations.
type ConversationRepository interface {
	// GetOrCreate returns the conversation between the two users, creating an
	// inactive one if none exists. The pair is unordered: either argument
	// order resolves to the same conversation.
	GetOrCreate(ctx context.Context, user1ID, user2ID string) (*Conversation, error)
	GetByID(ctx context.Context, id string) (*Conversation, error)
	// ListActiveForUser returns active conversations the user participates in,
	// ordered by (updated_at DESC, id DESC), plus the total active count.
	ListActiveForUser(ctx context.Context, userID string, offset, limit int) ([]*Conversation, int, error)
	// UpdateDirectory commits directory metadata for a conversation: last
	// message preview, updated_at, and the transition to active.
	UpdateDirectory(ctx context.Context, id, lastMessage string, updatedAt time.Time) error
}

// MessageRepository defines durable persistence for messages. The durable
// store is the system of record for everything older than the fast tier.
type MessageRepository interface {
	// UpsertBatch inserts messages by id, skipping ids that already exist.
	// Replaying a batch that partially landed is a no-op for landed rows.
	UpsertBatch(ctx context.Context, msgs []*Message) error
	// ListForConversation returns messages ordered by created_at DESC.
	ListForConversation(ctx context.Context, conversationID string, offset, limit int) ([]*Message, error)
	CountForConversation(ctx context.Context, conversationID string) (int, error)
	CountUnread(ctx context.Context, conversationID, receiverID string) (int, error)
	MarkAllRead(ctx context.Context, conversationID, receiverID string) error
}

// NotificationRepository persists fire-and-forget notification records.
type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
}
