package ws

import (
	"time"

	"parcelchat/internal/service"
)

// Inbound event type tags.
const (
	eventJoinApp             = "joinApp"
	eventJoinPrivateChat     = "joinPrivateChat"
	eventSendPrivateMessage  = "sendPrivateMessage"
	eventAgentLocationUpdate = "agentLocationUpdate"
	eventGetAgentLocation    = "getAgentLocation"
)

// envelope peeks at the type tag so the raw payload can be decoded into the
// matching event struct.
type envelope struct {
	Type string `json:"type"`
}

type joinPrivateChatEvent struct {
	User2ID string `json:"user2Id"`
}

type sendPrivateMessageEvent struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	ImageURL   string `json:"imageUrl"`
}

type agentLocationUpdateEvent struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type getAgentLocationEvent struct {
	AgentID string `json:"agentId"`
}

type authSuccessEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type authFailureEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type failureEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func failure(msg string) failureEvent {
	return failureEvent{Type: "failure", Message: msg}
}

// joinPrivateChatAck confirms the room join and carries the first page of
// history so the client can render the conversation immediately.
type joinPrivateChatAck struct {
	Type           string               `json:"type"`
	ConversationID string               `json:"conversationId"`
	Messages       *service.MessagePage `json:"messages"`
}

type agentLocationEvent struct {
	Type      string    `json:"type"`
	AgentID   string    `json:"agentId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updatedAt"`
}
