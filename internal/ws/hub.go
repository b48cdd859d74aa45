package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks the live connection per user and the conversation rooms clients
// currently occupy. One connection per user: registering a second connection
// for the same user closes the first.
type Hub struct {
	mu    sync.RWMutex
	users map[string]*Client
	rooms map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		users: make(map[string]*Client),
		rooms: make(map[string]map[*Client]struct{}),
	}
}

// Register makes c the live connection for its user. An existing connection
// for the same user is evicted and closed.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	prior := h.users[c.UserID]
	if prior != nil {
		h.removeFromRoomsLocked(prior)
		delete(h.users, c.UserID)
	}
	h.users[c.UserID] = c
	h.mu.Unlock()

	if prior != nil {
		prior.Close(websocket.ClosePolicyViolation, "session replaced by a newer connection")
	}
}

// Unregister removes c from the hub and any room it occupies. A client that
// was already evicted by a newer connection is left alone, so disconnect
// cleanup is safe to run more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[c.UserID] != c {
		return
	}
	h.removeFromRoomsLocked(c)
	delete(h.users, c.UserID)
}

// JoinRoom moves c into the conversation room, leaving any room it was in.
func (h *Hub) JoinRoom(c *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomsLocked(c)
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[conversationID] = room
	}
	room[c] = struct{}{}
}

// LeaveRooms removes c from any conversation room it occupies without
// touching the connection itself.
func (h *Hub) LeaveRooms(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomsLocked(c)
}

func (h *Hub) removeFromRoomsLocked(c *Client) {
	for id, room := range h.rooms {
		if _, ok := room[c]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, id)
			}
		}
	}
}

// UserInConversation reports whether the user's live connection is inside the
// conversation room.
func (h *Hub) UserInConversation(conversationID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.users[userID]
	if !ok {
		return false
	}
	_, in := h.rooms[conversationID][c]
	return in
}

// ConversationMembers returns the user ids currently inside the room.
func (h *Hub) ConversationMembers(conversationID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[conversationID]
	members := make([]string, 0, len(room))
	for c := range room {
		members = append(members, c.UserID)
	}
	return members
}

// UserOnline reports whether the user has a live connection anywhere in the
// app.
func (h *Hub) UserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

// SendToUser delivers the payload to the user's live connection. Returns
// false when the user is offline; a write failure closes the connection but
// still counts as delivered, the read loop will clean up.
func (h *Hub) SendToUser(userID string, payload any) bool {
	h.mu.RLock()
	c, ok := h.users[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if err := c.Send(payload); err != nil {
		c.Close(websocket.CloseInternalServerErr, "write failed")
	}
	return true
}
