package domain

import "time"

// ConversationStatus is the lifecycle state of a conversation. A conversation
// is created inactive on first join and becomes active once the directory
// flush commits its first message metadata to durable storage.
type ConversationStatus string

const (
	ConversationInactive ConversationStatus = "INACTIVE"
	ConversationActive   ConversationStatus = "ACTIVE"
)

// User is the read-only projection of an application user consumed by the
// chat core. User records are owned by the wider platform.
type User struct {
	ID        string    `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Avatar    *string   `db:"avatar" json:"avatar,omitempty"`
	Role      string    `db:"role" json:"role"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Conversation is a 1:1 chat between two users. The participant pair is
// unordered: User1ID always holds the lexicographically smaller id so the
// pair can carry a UNIQUE constraint.
type Conversation struct {
	ID          string             `db:"id"`
	User1ID     string             `db:"user1_id"`
	User2ID     string             `db:"user2_id"`
	Status      ConversationStatus `db:"status"`
	LastMessage *string            `db:"last_message"`
	CreatedAt   time.Time          `db:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at"`
}

// Other returns the participant id that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// Message is a single chat message. The id is generated at send time and is
// the identity in both storage tiers, which is what makes the migration
// upsert idempotent.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversationId"`
	SenderID       string    `db:"sender_id" json:"senderId"`
	ReceiverID     string    `db:"receiver_id" json:"receiverId"`
	Content        string    `db:"content" json:"content"`
	ImageURL       *string   `db:"image_url" json:"imageUrl,omitempty"`
	Read           bool      `db:"read" json:"read"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Notification is a fire-and-forget notification record for a user.
type Notification struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Body      string    `db:"body"`
	Read      bool      `db:"read"`
	CreatedAt time.Time `db:"created_at"`
}

// Preview is the cached directory entry for a conversation: a truncated last
// message and the time it was sent. It lives in the fast tier between
// directory flushes.
type Preview struct {
	LastMessage string    `json:"lastMessage"`
	Timestamp   time.Time `json:"timestamp"`
}

// AgentLocation is a delivery agent's last reported position.
type AgentLocation struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updatedAt"`
}
