package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one authenticated websocket session. A client is bound to at most
// one conversation room at a time; sends are serialized because gorilla
// permits a single concurrent writer.
type Client struct {
	UserID string

	conn *websocket.Conn

	writeMu sync.Mutex

	mu             sync.Mutex
	conversationID string
	counterpartyID string
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{UserID: userID, conn: conn}
}

// Send writes the payload as JSON. A nil connection is tolerated so the hub
// can be exercised without a live socket.
func (c *Client) Send(payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.WriteJSON(payload)
}

// Ping sends a control ping for connection keepalive.
func (c *Client) Ping(deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// Close sends a close frame with the given code and closes the connection.
func (c *Client) Close(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.conn.Close()
}

// bindConversation records the room the client currently occupies and the
// counterparty on the other side of it.
func (c *Client) bindConversation(conversationID, counterpartyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = conversationID
	c.counterpartyID = counterpartyID
}

func (c *Client) boundConversation() (conversationID, counterpartyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID, c.counterpartyID
}
