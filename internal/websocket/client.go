package websocket

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"bookhaven/server/internal/chat"
	"bookhaven/server/internal/logging"
	"bookhaven/server/internal/metrics"
	"bookhaven/server/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ChatService is what a client needs from the chat layer. Sends and read
// markers go through the same path as HTTP.
type ChatService interface {
	Authorize(ctx context.Context, userID, conversationID string) error
	ConversationsFor(ctx context.Context, userID string) ([]string, error)
	SendMessage(ctx context.Context, userID, conversationID string, req chat.SendMessageRequest) (models.MessageWithSender, error)
	MarkRead(ctx context.Context, userID, conversationID string) (time.Time, error)
}

// Client is one authenticated websocket connection
type Client struct {
	UserID string

	conn    Conn
	hub     *Hub
	service ChatService
	send    chan []byte
	log     zerolog.Logger

	// Joined conversation ids. Guarded by hub.mu.
	rooms      map[string]struct{}
	registered chan struct{}
}

// NewClient creates a client for an already authenticated user.
func NewClient(userID string, conn Conn, hub *Hub, service ChatService) *Client {
	return &Client{
		UserID:     userID,
		conn:       conn,
		hub:        hub,
		service:    service,
		send:       make(chan []byte, sendBufferSize),
		log:        logging.With().Str("component", "ws-client").Str("user_id", userID).Logger(),
		rooms:      make(map[string]struct{}),
		registered: make(chan struct{}),
	}
}

// Run registers the client, starts the write pump and blocks in the read
// pump until the connection closes.
func (c *Client) Run(ctx context.Context) {
	if !c.hub.Register(c) {
		_ = c.conn.Close()
		return
	}
	go c.WritePump()
	c.ReadPump(logging.ContextWithUserID(ctx, c.UserID))
}

// ReadPump handles incoming events until the connection fails. Events from
// one client are handled in order.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var incoming IncomingMessage
		if err := json.Unmarshal(data, &incoming); err != nil {
			c.fail("", "", chat.ValidationError("", "Malformed event"))
			continue
		}
		metrics.WSEvents.WithLabelValues("in", string(incoming.Type)).Inc()
		c.handle(ctx, incoming)
	}
}

// WritePump writes queued events and pings until the hub closes the send
// channel or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, msg IncomingMessage) {
	switch msg.Type {
	case EventJoinConversations:
		c.handleJoinConversations(ctx, msg.Payload)
	case EventJoinConversation:
		c.handleJoinConversation(ctx, msg.Payload)
	case EventLeaveConversation:
		var p ConversationPayload
		if c.decode(msg, &p) {
			c.hub.Leave(c, p.ConversationID)
		}
	case EventSendMessage:
		c.handleSendMessage(ctx, msg.Payload)
	case EventTypingStart:
		c.handleTyping(msg, EventUserTyping)
	case EventTypingStop:
		c.handleTyping(msg, EventUserStoppedTyping)
	case EventMarkAsRead:
		var p ConversationPayload
		if !c.decode(msg, &p) {
			return
		}
		if _, err := c.service.MarkRead(ctx, c.UserID, p.ConversationID); err != nil {
			c.fail(msg.Type, "", err)
		}
	default:
		c.fail(msg.Type, "", chat.ValidationError("type", "Unknown event type"))
	}
}

func (c *Client) handleJoinConversations(ctx context.Context, raw json.RawMessage) {
	var p JoinConversationsPayload
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &p); err != nil {
			c.fail(EventJoinConversations, "", chat.ValidationError("conversationIds", "Malformed payload"))
			return
		}
	}

	ids, err := c.service.ConversationsFor(ctx, c.UserID)
	if err != nil {
		c.fail(EventJoinConversations, "", err)
		return
	}

	if len(p.ConversationIDs) > 0 {
		mine := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			mine[id] = struct{}{}
		}
		ids = ids[:0]
		for _, id := range p.ConversationIDs {
			if _, ok := mine[id]; ok {
				ids = append(ids, id)
			}
		}
	}

	for _, id := range ids {
		c.hub.Join(c, id)
	}
	c.hub.SendTo(c, newMessage(EventJoined, JoinedPayload{ConversationIDs: ids}))
}

func (c *Client) handleJoinConversation(ctx context.Context, raw json.RawMessage) {
	var p ConversationPayload
	if !c.decode(IncomingMessage{Type: EventJoinConversation, Payload: raw}, &p) {
		return
	}
	if err := c.service.Authorize(ctx, c.UserID, p.ConversationID); err != nil {
		c.fail(EventJoinConversation, "", err)
		return
	}
	c.hub.Join(c, p.ConversationID)
	c.hub.SendTo(c, newMessage(EventJoined, JoinedPayload{ConversationIDs: []string{p.ConversationID}}))
}

// handleSendMessage stores the message. The hub broadcasts it to the room
// once it is committed; on failure only this client hears about it.
func (c *Client) handleSendMessage(ctx context.Context, raw json.RawMessage) {
	var p SendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.fail(EventSendMessage, "", chat.ValidationError("", "Malformed payload"))
		return
	}
	if _, err := c.service.SendMessage(ctx, c.UserID, p.ConversationID, p.SendMessageRequest); err != nil {
		c.fail(EventSendMessage, p.TempID, err)
	}
}

// handleTyping relays typing state to the rest of the room. Only joined
// rooms are relayed, so membership was already checked.
func (c *Client) handleTyping(msg IncomingMessage, out EventType) {
	var p ConversationPayload
	if !c.decode(msg, &p) {
		return
	}
	if !c.hub.InRoom(c, p.ConversationID) {
		c.fail(msg.Type, "", chat.ErrForbidden)
		return
	}
	c.hub.BroadcastToRoom(p.ConversationID, newMessage(out, TypingPayload{
		ConversationID: p.ConversationID,
		UserID:         c.UserID,
	}), c)
}

func (c *Client) decode(msg IncomingMessage, p *ConversationPayload) bool {
	if err := json.Unmarshal(msg.Payload, p); err != nil || p.ConversationID == "" {
		c.fail(msg.Type, "", chat.ValidationError("conversationId", "conversationId is required"))
		return false
	}
	return true
}

// fail sends an error event to this client only.
func (c *Client) fail(event EventType, tempID string, err error) {
	ce := chat.AsError(err)
	if ce.Kind == chat.KindDependency {
		c.log.Error().Err(err).Str("event", string(event)).Msg("websocket event failed")
	}
	c.hub.SendTo(c, newMessage(EventError, ErrorPayload{
		Event:   event,
		Code:    ce.Kind.Code(),
		Message: ce.Message,
		Field:   ce.Field,
		TempID:  tempID,
	}))
}
