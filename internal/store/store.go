// Package store persists conversations, participants and messages.
//
// Postgres is the production implementation. Memory backs local development
// and tests and follows the same contract, including the per-pair uniqueness
// of direct conversations and strictly increasing message timestamps.
package store

import (
	"context"
	"errors"
	"time"

	"bookhaven/server/internal/models"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUnknownUser is returned when a participant is not in the user directory.
	ErrUnknownUser = errors.New("store: unknown user")
)

// NewConversation describes a conversation to create.
type NewConversation struct {
	ID             string
	IsGroup        bool
	Name           *string
	DirectKey      *string
	ParticipantIDs []string
}

// Store is the persistence contract used by the chat service.
type Store interface {
	// IsParticipant reports whether userID belongs to conversationID. A
	// missing conversation is reported as false.
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// CreateConversation inserts the conversation and its participants. When
	// DirectKey is set and a conversation with that key exists, the existing
	// conversation is returned with created=false.
	CreateConversation(ctx context.Context, nc NewConversation) (conv models.Conversation, created bool, err error)

	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)

	// ListConversations returns userID's conversations, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]models.ConversationListItem, error)

	// ListMessages returns up to limit messages newest-first, skipping offset.
	ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]models.Message, error)

	// InsertMessage stores msg and updates the conversation summary in one
	// transaction. The store assigns CreatedAt.
	InsertMessage(ctx context.Context, msg models.Message) (models.Message, models.ConversationSummary, error)

	// MarkRead sets the participant's read marker and returns it.
	MarkRead(ctx context.Context, conversationID, userID string) (time.Time, error)

	ParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	Users(ctx context.Context, ids []string) (map[string]models.User, error)
	PushTokens(ctx context.Context, userIDs []string) ([]models.PushToken, error)

	Ping(ctx context.Context) error
}
