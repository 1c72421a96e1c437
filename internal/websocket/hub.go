package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"bookhaven/server/internal/logging"
	"bookhaven/server/internal/metrics"
	"bookhaven/server/internal/models"
)

// Hub tracks connected clients and the conversation rooms they joined. It
// implements delivery.MessageDeliveryNotifier for the realtime strategy.
type Hub struct {
	// Connected clients. A user may hold several connections.
	clients map[*Client]struct{}

	// Conversation id to members
	rooms map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	// Guards clients, rooms and every client's rooms and send channel.
	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Serve runs the register/unregister loop until ctx ends, then disconnects
// every client.
func (h *Hub) Serve(ctx context.Context) error {
	logging.Info().Msg("websocket hub started")
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		}
	}
}

func (h *Hub) String() string { return "websocket-hub" }

// Register adds client and waits until it can join rooms. It returns false
// when the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		<-client.registered
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes client and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = struct{}{}
	close(client.registered)
	metrics.WSConnections.Set(float64(len(h.clients)))
	client.log.Info().Int("connections", len(h.clients)).Msg("client connected")
}

// removeClient is idempotent; it may be called from the loop or from a
// broadcast that found the client's buffer full.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for id := range client.rooms {
		h.leaveLocked(client, id)
	}
	close(client.send)
	metrics.WSConnections.Set(float64(len(h.clients)))
	client.log.Info().Int("connections", len(h.clients)).Msg("client disconnected")
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopOnce.Do(func() { close(h.done) })
	for client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	metrics.WSConnections.Set(0)
	metrics.WSRooms.Set(0)
	logging.Info().Msg("websocket hub stopped")
}

// Join adds client to a conversation room. Joining twice is a no-op.
func (h *Hub) Join(client *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[conversationID] = room
	}
	room[client] = struct{}{}
	client.rooms[conversationID] = struct{}{}
	metrics.WSRooms.Set(float64(len(h.rooms)))
}

// Leave removes client from a conversation room.
func (h *Hub) Leave(client *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client, conversationID)
}

func (h *Hub) leaveLocked(client *Client, conversationID string) {
	delete(client.rooms, conversationID)
	room, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
	metrics.WSRooms.Set(float64(len(h.rooms)))
}

// InRoom reports whether client has joined conversationID.
func (h *Hub) InRoom(client *Client, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := client.rooms[conversationID]
	return ok
}

// RoomSize returns the number of connections in a room.
func (h *Hub) RoomSize(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// ConnectionCount returns the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastToRoom sends msg to every member of conversationID except
// exclude, which may be nil. Clients whose buffer is full are dropped.
func (h *Hub) BroadcastToRoom(conversationID string, msg WSMessage, exclude *Client) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Str("event", string(msg.Type)).Msg("failed to marshal websocket event")
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.rooms[conversationID] {
		if client == exclude {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	metrics.WSEvents.WithLabelValues("out", string(msg.Type)).Inc()
	h.drop(slow)
}

// SendTo delivers msg to a single client.
func (h *Hub) SendTo(client *Client, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Str("event", string(msg.Type)).Msg("failed to marshal websocket event")
		return
	}

	var slow []*Client
	h.mu.RLock()
	if _, ok := h.clients[client]; ok {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	metrics.WSEvents.WithLabelValues("out", string(msg.Type)).Inc()
	h.drop(slow)
}

func (h *Hub) drop(slow []*Client) {
	for _, client := range slow {
		metrics.WSDroppedClients.Inc()
		client.log.Warn().Msg("send buffer full, dropping client")
		h.removeClient(client)
	}
}

// MessageCreated broadcasts the message and the updated conversation
// summary to the conversation room, sender included.
func (h *Hub) MessageCreated(_ context.Context, msg models.MessageWithSender, summary models.ConversationSummary) {
	h.BroadcastToRoom(msg.ConversationID, newMessage(EventNewMessage, msg), nil)
	h.BroadcastToRoom(msg.ConversationID, newMessage(EventConversationUpdated, summary), nil)
}

// MessagesRead broadcasts a read marker update to the conversation room.
func (h *Hub) MessagesRead(_ context.Context, conversationID, userID string, at time.Time) {
	h.BroadcastToRoom(conversationID, newMessage(EventMessagesRead, MessagesReadPayload{
		ConversationID: conversationID,
		UserID:         userID,
		ReadAt:         at,
	}), nil)
}
