package websocket

import (
	"time"

	"github.com/goccy/go-json"

	"bookhaven/server/internal/chat"
)

// EventType names a websocket event
type EventType string

const (
	// Client to server
	EventJoinConversations EventType = "join-conversations"
	EventJoinConversation  EventType = "join-conversation"
	EventLeaveConversation EventType = "leave-conversation"
	EventSendMessage       EventType = "send-message"
	EventTypingStart       EventType = "typing-start"
	EventTypingStop        EventType = "typing-stop"
	EventMarkAsRead        EventType = "mark-as-read"

	// Server to client
	EventNewMessage          EventType = "new-message"
	EventConversationUpdated EventType = "conversation-updated"
	EventUserTyping          EventType = "user-typing"
	EventUserStoppedTyping   EventType = "user-stopped-typing"
	EventMessagesRead        EventType = "messages-read"
	EventJoined              EventType = "joined"
	EventError               EventType = "error"
)

// WSMessage is the envelope for every server event
type WSMessage struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// IncomingMessage is the envelope for client events. Payload is decoded
// per event type.
type IncomingMessage struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ConversationPayload addresses a single conversation.
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// JoinConversationsPayload optionally narrows join-conversations to a
// subset of the user's conversations.
type JoinConversationsPayload struct {
	ConversationIDs []string `json:"conversationIds,omitempty"`
}

// JoinedPayload acknowledges joins.
type JoinedPayload struct {
	ConversationIDs []string `json:"conversationIds"`
}

// SendMessagePayload is send-message. TempID is echoed in an error so the
// client can mark its optimistic message as failed.
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	TempID         string `json:"tempId,omitempty"`
	chat.SendMessageRequest
}

// TypingPayload is sent to the other members of the room
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// MessagesReadPayload announces a moved read marker
type MessagesReadPayload struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}

// ErrorPayload is delivered only to the client whose event failed
type ErrorPayload struct {
	Event   EventType `json:"event,omitempty"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	TempID  string    `json:"tempId,omitempty"`
}

func newMessage(t EventType, payload interface{}) WSMessage {
	return WSMessage{Type: t, Payload: payload, Timestamp: time.Now()}
}
