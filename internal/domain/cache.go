package domain

import (
	"context"
	"time"
)

// MessageCache is the fast tier: an ordered per-conversation buffer of the
// most recent messages, keyed by send time, swept to durable storage by the
// migration worker once it crosses the flush threshold.
type MessageCache interface {
	// Append adds a message to the conversation buffer, ordered by CreatedAt
	// (insertion order breaks ties).
	Append(ctx context.Context, conversationID string, m *Message) error
	Count(ctx context.Context, conversationID string) (int64, error)
	// Page returns buffered messages [start, stop] inclusive, newest first.
	Page(ctx context.Context, conversationID string, start, stop int64) ([]*Message, error)
	// Snapshot returns the full buffer for migration. If a backup snapshot
	// from a previously failed flush exists it is returned instead of the
	// live buffer; otherwise the live buffer is copied to the backup first so
	// the flush is restartable.
	Snapshot(ctx context.Context, conversationID string) ([]*Message, error)
	// Clear removes both the live buffer and the backup snapshot.
	Clear(ctx context.Context, conversationID string) error
}

// DirectoryCache holds the hot conversation-directory state: cached previews,
// per-recipient unseen counters, and the directory-flush scheduling lock.
type DirectoryCache interface {
	SetPreview(ctx context.Context, conversationID string, p *Preview, ttl time.Duration) error
	// Preview returns the cached preview, or nil if absent or expired.
	Preview(ctx context.Context, conversationID string) (*Preview, error)
	ClearPreview(ctx context.Context, conversationID string) error

	IncrUnseen(ctx context.Context, conversationID, userID string) error
	// Unseen returns the live counter and whether one exists; callers fall
	// back to the durable count when it does not.
	Unseen(ctx context.Context, conversationID, userID string) (int, bool, error)
	ResetUnseen(ctx context.Context, conversationID, userID string) error

	// AcquireFlushLock takes the per-conversation directory-flush lock for
	// ttl. Returns false if another send already scheduled a flush within the
	// window.
	AcquireFlushLock(ctx context.Context, conversationID string, ttl time.Duration) (bool, error)
	ReleaseFlushLock(ctx context.Context, conversationID string) error
}

// ProfileCache caches user profiles for message enrichment while the user is
// connected.
type ProfileCache interface {
	Store(ctx context.Context, u *User) error
	// Get returns the cached profile, or nil on a miss.
	Get(ctx context.Context, userID string) (*User, error)
	Remove(ctx context.Context, userID string) error
}

// LocationCache stores delivery-agent positions with a bounded lifetime.
type LocationCache interface {
	SetAgentLocation(ctx context.Context, agentID string, loc *AgentLocation, ttl time.Duration) error
	// AgentLocation returns the last reported position, or nil if expired.
	AgentLocation(ctx context.Context, agentID string) (*AgentLocation, error)
}
