package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"parcelchat/internal/domain"
	"parcelchat/internal/security"
	"parcelchat/internal/service"
)

// closeAuthFailure is the application close code sent when the token on a
// fresh connection does not validate.
const closeAuthFailure = 4000

// Gateway terminates websocket sessions: it authenticates the connection,
// registers it with the hub, and dispatches inbound events to the services.
type Gateway struct {
	hub           *Hub
	tokens        *security.TokenService
	users         domain.UserRepository
	profileCache  domain.ProfileCache
	locations     domain.LocationCache
	conversations *service.ConversationService
	messages      *service.MessageService
	log           *zap.Logger

	keepAlive   time.Duration
	locationTTL time.Duration
	pageSize    int
}

func NewGateway(
	hub *Hub,
	tokens *security.TokenService,
	users domain.UserRepository,
	profileCache domain.ProfileCache,
	locations domain.LocationCache,
	conversations *service.ConversationService,
	messages *service.MessageService,
	log *zap.Logger,
	keepAlive time.Duration,
	locationTTL time.Duration,
	pageSize int,
) *Gateway {
	return &Gateway{
		hub:           hub,
		tokens:        tokens,
		users:         users,
		profileCache:  profileCache,
		locations:     locations,
		conversations: conversations,
		messages:      messages,
		log:           log,
		keepAlive:     keepAlive,
		locationTTL:   locationTTL,
		pageSize:      pageSize,
	}
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if _, any := allowed["*"]; any || len(allowed) == 0 {
		return func(r *http.Request) bool {
			return true
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

// tokenFromRequest reads the session token from the X-Token header, falling
// back to the token query parameter for clients that cannot set headers on
// the websocket handshake.
func tokenFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.Header.Get("X-Token")); tok != "" {
		return tok
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// MakeHandler returns the HTTP handler for the /ws endpoint. The connection
// is upgraded first and authenticated in-band: a bad token gets an
// authFailure event and close code 4000 so browser clients can distinguish
// auth rejection from transport failure.
func (g *Gateway) MakeHandler(allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: makeCheckOrigin(allowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		ctx := r.Context()
		client, ok := g.authenticate(ctx, conn, r)
		if !ok {
			return
		}

		// Liveness: the read deadline is refreshed by pongs, so a half-open
		// connection fails its next read and disconnect cleanup runs.
		if g.keepAlive > 0 {
			pongWait := 2 * g.keepAlive
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
		}

		g.hub.Register(client)
		g.log.Info("session opened", zap.String("user", client.UserID))

		done := make(chan struct{})
		defer g.teardown(client, done)
		go g.keepalive(client, done)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			g.dispatch(ctx, client, raw)
		}
	}
}

func (g *Gateway) authenticate(ctx context.Context, conn *websocket.Conn, r *http.Request) (*Client, bool) {
	reject := func(msg string) {
		_ = conn.WriteJSON(authFailureEvent{Type: "authFailure", Message: msg})
		frame := websocket.FormatCloseMessage(closeAuthFailure, msg)
		_ = conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second))
		_ = conn.Close()
	}

	tok := tokenFromRequest(r)
	if tok == "" {
		reject("missing token")
		return nil, false
	}
	claims, err := g.tokens.Parse(tok)
	if err != nil {
		reject("invalid token")
		return nil, false
	}
	userID := security.Subject(claims)
	if userID == "" {
		reject("invalid token subject")
		return nil, false
	}
	u, err := g.users.GetByID(ctx, userID)
	if err != nil || !u.IsActive {
		reject("user not found or inactive")
		return nil, false
	}
	if err := g.profileCache.Store(ctx, u); err != nil {
		g.log.Warn("cache profile failed", zap.String("user", userID), zap.Error(err))
	}

	client := NewClient(userID, conn)
	if err := client.Send(authSuccessEvent{Type: "authSuccess", UserID: userID}); err != nil {
		_ = conn.Close()
		return nil, false
	}
	return client, true
}

// teardown runs on disconnect. Unregister tolerates an already-evicted
// client, so a session replaced by a newer connection does not wipe the new
// session's state.
func (g *Gateway) teardown(client *Client, done chan struct{}) {
	close(done)
	g.hub.Unregister(client)
	if err := g.profileCache.Remove(context.Background(), client.UserID); err != nil {
		g.log.Warn("remove cached profile failed", zap.String("user", client.UserID), zap.Error(err))
	}
	client.Close(websocket.CloseNormalClosure, "")
	g.log.Info("session closed", zap.String("user", client.UserID))
}

// keepalive pings until the session ends. A failed ping closes the
// connection so the blocked read loop returns and teardown runs.
func (g *Gateway) keepalive(client *Client, done <-chan struct{}) {
	if g.keepAlive <= 0 {
		return
	}
	ticker := time.NewTicker(g.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := client.Ping(time.Now().Add(5 * time.Second)); err != nil {
				client.Close(websocket.CloseGoingAway, "keepalive failed")
				return
			}
		}
	}
}

// dispatch decodes one inbound frame and routes it. A panic in a handler is
// contained to the frame; the session survives.
func (g *Gateway) dispatch(ctx context.Context, client *Client, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			g.log.Error("event handler panicked",
				zap.String("user", client.UserID), zap.Any("panic", rec))
			_ = client.Send(failure("internal error"))
		}
	}()

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		_ = client.Send(failure("malformed event"))
		return
	}

	switch env.Type {
	case eventJoinApp:
		g.handleJoinApp(ctx, client)
	case eventJoinPrivateChat:
		var ev joinPrivateChatEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			_ = client.Send(failure("malformed event"))
			return
		}
		g.handleJoinPrivateChat(ctx, client, ev)
	case eventSendPrivateMessage:
		var ev sendPrivateMessageEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			_ = client.Send(failure("malformed event"))
			return
		}
		g.handleSendPrivateMessage(ctx, client, ev)
	case eventAgentLocationUpdate:
		var ev agentLocationUpdateEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			_ = client.Send(failure("malformed event"))
			return
		}
		g.handleAgentLocationUpdate(ctx, client, ev)
	case eventGetAgentLocation:
		var ev getAgentLocationEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			_ = client.Send(failure("malformed event"))
			return
		}
		g.handleGetAgentLocation(ctx, client, ev)
	default:
		g.log.Debug("unknown event type",
			zap.String("user", client.UserID), zap.String("event", env.Type))
	}
}

// handleJoinApp moves the client back to the app level and pushes the first
// page of their conversation directory. Leaving the room matters: a user at
// the app list must accrue unseen counters and notifications again, which
// only happens while they are not a room member.
func (g *Gateway) handleJoinApp(ctx context.Context, client *Client) {
	g.hub.LeaveRooms(client)
	client.bindConversation("", "")

	page, err := g.conversations.List(ctx, client.UserID, 1, g.pageSize)
	if err != nil {
		g.log.Error("list conversations failed", zap.String("user", client.UserID), zap.Error(err))
		_ = client.Send(failure("failed to load conversations"))
		return
	}
	_ = client.Send(&service.ConversationListEvent{
		Type:             service.EventConversationList,
		ConversationList: page,
	})
}

// handleJoinPrivateChat resolves the conversation with the counterparty,
// moves the client into its room, schedules the mark-read sweep, and replies
// with the first page of history.
func (g *Gateway) handleJoinPrivateChat(ctx context.Context, client *Client, ev joinPrivateChatEvent) {
	if ev.User2ID == "" || ev.User2ID == client.UserID {
		_ = client.Send(failure("joinPrivateChat requires another user"))
		return
	}
	conv, err := g.conversations.GetOrCreate(ctx, client.UserID, ev.User2ID)
	if err != nil {
		g.log.Error("resolve conversation failed", zap.String("user", client.UserID), zap.Error(err))
		_ = client.Send(failure("failed to open conversation"))
		return
	}

	g.hub.JoinRoom(client, conv.ID)
	client.bindConversation(conv.ID, ev.User2ID)
	g.conversations.ScheduleMarkRead(ctx, conv.ID, client.UserID)

	history, err := g.messages.History(ctx, conv.ID, 1, g.pageSize)
	if err != nil {
		g.log.Error("load history failed", zap.String("conversation", conv.ID), zap.Error(err))
		_ = client.Send(failure("failed to load messages"))
		return
	}
	_ = client.Send(&joinPrivateChatAck{
		Type:           eventJoinPrivateChat,
		ConversationID: conv.ID,
		Messages:       history,
	})
}

// handleSendPrivateMessage routes a message through the conversation the
// client is bound to. The conversation comes from the client's own join, not
// the payload, so a client cannot write into a room it never entered.
func (g *Gateway) handleSendPrivateMessage(ctx context.Context, client *Client, ev sendPrivateMessageEvent) {
	conversationID, counterpartyID := client.boundConversation()
	if conversationID == "" {
		_ = client.Send(failure("join a conversation before sending"))
		return
	}
	receiverID := ev.ReceiverID
	if receiverID == "" {
		receiverID = counterpartyID
	}
	if receiverID != counterpartyID {
		_ = client.Send(failure("receiver is not part of this conversation"))
		return
	}

	var imageURL *string
	if ev.ImageURL != "" {
		imageURL = &ev.ImageURL
	}
	_, err := g.messages.Send(ctx, service.SendInput{
		SenderID:       client.UserID,
		ReceiverID:     receiverID,
		ConversationID: conversationID,
		Content:        ev.Content,
		ImageURL:       imageURL,
	})
	if err != nil {
		g.log.Error("send failed",
			zap.String("conversation", conversationID), zap.String("user", client.UserID), zap.Error(err))
		_ = client.Send(failure("failed to send message"))
	}
}

// handleAgentLocationUpdate stores the reported position and acknowledges
// with the stored values.
func (g *Gateway) handleAgentLocationUpdate(ctx context.Context, client *Client, ev agentLocationUpdateEvent) {
	loc := &domain.AgentLocation{Lat: ev.Lat, Lng: ev.Lng, UpdatedAt: time.Now().UTC()}
	if err := g.locations.SetAgentLocation(ctx, client.UserID, loc, g.locationTTL); err != nil {
		g.log.Error("store agent location failed", zap.String("user", client.UserID), zap.Error(err))
		_ = client.Send(failure("failed to store location"))
		return
	}
	_ = client.Send(&agentLocationEvent{
		Type:      eventAgentLocationUpdate,
		AgentID:   client.UserID,
		Lat:       loc.Lat,
		Lng:       loc.Lng,
		UpdatedAt: loc.UpdatedAt,
	})
}

func (g *Gateway) handleGetAgentLocation(ctx context.Context, client *Client, ev getAgentLocationEvent) {
	if ev.AgentID == "" {
		_ = client.Send(failure("getAgentLocation requires agentId"))
		return
	}
	loc, err := g.locations.AgentLocation(ctx, ev.AgentID)
	if err != nil {
		g.log.Error("read agent location failed", zap.String("agent", ev.AgentID), zap.Error(err))
		_ = client.Send(failure("failed to read location"))
		return
	}
	if loc == nil {
		_ = client.Send(failure("agent location unavailable"))
		return
	}
	_ = client.Send(&agentLocationEvent{
		Type:      eventGetAgentLocation,
		AgentID:   ev.AgentID,
		Lat:       loc.Lat,
		Lng:       loc.Lng,
		UpdatedAt: loc.UpdatedAt,
	})
}
