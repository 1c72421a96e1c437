package models

// MessageBody is the validated, type-specific part of a new message. Each
// variant carries only the fields that belong to its message type.
type MessageBody interface {
	Type() MessageType
	Text() string
	// Preview is the human-readable summary used for the conversation list
	// and push notifications.
	Preview() string
	isMessageBody()
}

type TextBody struct {
	Content string
}

type ImageBody struct {
	Content string
	URL     string
	Width   *int
	Height  *int
}

type VoiceNoteBody struct {
	Content       string
	URL           string
	Duration      *int
	Size          *int
	Transcription *string
}

// BookRecommendationBody carries a serialized BookPayload. It is stored as
// given; readers fall back to the raw text when it does not decode.
type BookRecommendationBody struct {
	Content string
}

func (TextBody) Type() MessageType               { return MessageTypeText }
func (ImageBody) Type() MessageType              { return MessageTypeImage }
func (VoiceNoteBody) Type() MessageType          { return MessageTypeVoiceNote }
func (BookRecommendationBody) Type() MessageType { return MessageTypeBookRecommendation }

func (b TextBody) Text() string               { return b.Content }
func (b ImageBody) Text() string              { return b.Content }
func (b VoiceNoteBody) Text() string          { return b.Content }
func (b BookRecommendationBody) Text() string { return b.Content }

func (b TextBody) Preview() string             { return b.Content }
func (ImageBody) Preview() string              { return "Image" }
func (VoiceNoteBody) Preview() string          { return "Voice note" }
func (BookRecommendationBody) Preview() string { return "Book recommendation" }

func (TextBody) isMessageBody()               {}
func (ImageBody) isMessageBody()              {}
func (VoiceNoteBody) isMessageBody()          {}
func (BookRecommendationBody) isMessageBody() {}

// NewMessage builds the stored row shape for body. Fields that do not belong
// to the body's type stay nil.
func NewMessage(id, conversationID, senderID string, body MessageBody) Message {
	m := Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        body.Text(),
		MessageType:    body.Type(),
	}

	switch b := body.(type) {
	case ImageBody:
		url := b.URL
		m.ImageURL = &url
		m.ImageWidth = b.Width
		m.ImageHeight = b.Height
	case VoiceNoteBody:
		url := b.URL
		m.AudioURL = &url
		m.AudioDuration = b.Duration
		m.AudioSize = b.Size
		m.Transcription = b.Transcription
	}
	return m
}

// PreviewOf returns the preview text for a stored message.
func PreviewOf(m Message) string {
	switch m.MessageType {
	case MessageTypeImage:
		return ImageBody{}.Preview()
	case MessageTypeVoiceNote:
		return VoiceNoteBody{}.Preview()
	case MessageTypeBookRecommendation:
		return BookRecommendationBody{}.Preview()
	default:
		return m.Content
	}
}
