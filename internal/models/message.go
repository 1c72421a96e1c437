package models

import (
	"time"

	"github.com/goccy/go-json"
)

// MessageType selects which optional fields a message carries
type MessageType string

const (
	MessageTypeText               MessageType = "TEXT"
	MessageTypeImage              MessageType = "IMAGE"
	MessageTypeVoiceNote          MessageType = "VOICE_NOTE"
	MessageTypeBookRecommendation MessageType = "BOOK_RECOMMENDATION"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVoiceNote, MessageTypeBookRecommendation:
		return true
	}
	return false
}

// Message represents a stored chat message. Image fields are set only for
// IMAGE and audio fields only for VOICE_NOTE.
type Message struct {
	ID             string      `json:"id" db:"id"`
	ConversationID string      `json:"conversationId" db:"conversation_id"`
	SenderID       string      `json:"senderId" db:"sender_id"`
	Content        string      `json:"content" db:"content"`
	MessageType    MessageType `json:"messageType" db:"message_type"`
	CreatedAt      time.Time   `json:"createdAt" db:"created_at"`

	ImageURL    *string `json:"imageUrl,omitempty" db:"image_url"`
	ImageWidth  *int    `json:"imageWidth,omitempty" db:"image_width"`
	ImageHeight *int    `json:"imageHeight,omitempty" db:"image_height"`

	AudioURL      *string `json:"audioUrl,omitempty" db:"audio_url"`
	AudioDuration *int    `json:"audioDuration,omitempty" db:"audio_duration"`
	AudioSize     *int    `json:"audioSize,omitempty" db:"audio_size"`
	Transcription *string `json:"transcription,omitempty" db:"transcription"`
}

// MessageWithSender includes sender information and, for book
// recommendations with a readable payload, the decoded book.
type MessageWithSender struct {
	Message
	Sender *UserResponse `json:"sender,omitempty"`
	Book   *BookPayload  `json:"book,omitempty"`
}

// BookPayload is the serialized content of a BOOK_RECOMMENDATION message
type BookPayload struct {
	BookID        string   `json:"bookId"`
	Title         string   `json:"title"`
	Author        string   `json:"author,omitempty"`
	Description   string   `json:"description,omitempty"`
	Image         string   `json:"image,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	AverageRating *float64 `json:"averageRating,omitempty"`
}

// DecodeBookPayload parses content as a book payload. ok is false for
// anything that is not a JSON object with a title or book id.
func DecodeBookPayload(content string) (book *BookPayload, ok bool) {
	var b BookPayload
	if err := json.Unmarshal([]byte(content), &b); err != nil {
		return nil, false
	}
	if b.Title == "" && b.BookID == "" {
		return nil, false
	}
	return &b, true
}
