package service

import (
	"time"

	"parcelchat/internal/domain"
)

// Outbound event type tags shared by the router and the session gateway.
const (
	EventReceivePrivateMessage = "receivePrivateMessage"
	EventConversationList      = "conversationList"
)

// MessageEvent is the wire shape of a delivered message: the message fields
// plus the counterparty profile from the receiving client's point of view.
type MessageEvent struct {
	Type           string       `json:"type"`
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	ReceiverID     string       `json:"receiverId"`
	Content        string       `json:"content"`
	ImageURL       *string      `json:"imageUrl,omitempty"`
	Read           bool         `json:"read"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	Receiver       *Participant `json:"receiver"`
}

func newMessageEvent(m *domain.Message, receiver *domain.User) *MessageEvent {
	return &MessageEvent{
		Type:           EventReceivePrivateMessage,
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		ImageURL:       m.ImageURL,
		Read:           m.Read,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		Receiver:       toParticipant(receiver),
	}
}

// ConversationSummary is one directory entry as presented to a user.
type ConversationSummary struct {
	ConversationID  string       `json:"conversationId"`
	Type            string       `json:"type"`
	Participant     *Participant `json:"participants"`
	LastMessage     string       `json:"lastMessage"`
	LastMessageTime time.Time    `json:"lastMessageTime"`
	Unseen          int          `json:"unseen"`
}

// ConversationPushEvent carries a single updated summary to a connected
// participant after a send.
type ConversationPushEvent struct {
	Type         string               `json:"type"`
	Conversation *ConversationSummary `json:"conversation"`
}

// ConversationListEvent carries a full directory page, pushed on joinApp and
// served over HTTP.
type ConversationListEvent struct {
	Type             string            `json:"type"`
	ConversationList *ConversationPage `json:"conversationList"`
}

type PageMeta struct {
	Page      int `json:"page"`
	Limit     int `json:"limit"`
	TotalPage int `json:"totalPage"`
	Total     int `json:"total"`
}

type ConversationPage struct {
	Result []*ConversationSummary `json:"result"`
	Meta   PageMeta               `json:"meta"`
}

type MessagePage struct {
	Messages []*MessageEvent `json:"messages"`
	Meta     PageMeta        `json:"meta"`
}
