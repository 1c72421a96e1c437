package models

import "time"

// DefaultGroupName is shown for group conversations created without a name.
const DefaultGroupName = "Group chat"

// Conversation represents a chat thread between a fixed set of participants
type Conversation struct {
	ID            string     `json:"id" db:"id"`
	IsGroup       bool       `json:"isGroup" db:"is_group"`
	Name          *string    `json:"name,omitempty" db:"name"`
	DirectKey     *string    `json:"-" db:"direct_key"` // Set only for 1:1 conversations
	LastMessage   *string    `json:"lastMessage,omitempty" db:"last_message"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty" db:"last_message_at"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time  `json:"updatedAt" db:"updated_at"`
}

// Participant represents a user's membership in a conversation
type Participant struct {
	ConversationID string     `json:"conversationId" db:"conversation_id"`
	UserID         string     `json:"userId" db:"user_id"`
	JoinedAt       time.Time  `json:"joinedAt" db:"joined_at"`
	LastReadAt     *time.Time `json:"lastReadAt,omitempty" db:"last_read_at"`
}

// ConversationSummary is the denormalized state broadcast after every send
type ConversationSummary struct {
	ID            string    `json:"id"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ConversationView is a conversation as seen by one of its participants
type ConversationView struct {
	ID            string         `json:"id"`
	IsGroup       bool           `json:"isGroup"`
	Name          *string        `json:"name,omitempty"`
	DisplayName   string         `json:"displayName"`
	Participants  []UserResponse `json:"participants"`
	LastMessage   *string        `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time     `json:"lastMessageAt,omitempty"`
	LastReadAt    *time.Time     `json:"lastReadAt,omitempty"`
	UnreadCount   int            `json:"unreadCount"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// ConversationListItem is one row of a user's conversation list, before
// display enrichment.
type ConversationListItem struct {
	Conversation
	LastReadAt   *time.Time
	UnreadCount  int
	Participants []User
}
