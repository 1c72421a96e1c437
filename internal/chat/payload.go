package chat

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"bookhaven/server/internal/models"
	"bookhaven/server/internal/validation"
)

// SendMessageRequest is the wire shape of a new message. Every field except
// content is optional and only the ones matching messageType are kept.
type SendMessageRequest struct {
	Content     string  `json:"content"`
	MessageType string  `json:"messageType,omitempty"`
	ImageURL    *string `json:"imageUrl,omitempty"`
	ImageWidth  FlexInt `json:"imageWidth,omitempty"`
	ImageHeight FlexInt `json:"imageHeight,omitempty"`

	AudioURL      *string `json:"audioUrl,omitempty"`
	AudioDuration FlexInt `json:"audioDuration,omitempty"`
	AudioSize     FlexInt `json:"audioSize,omitempty"`
	Transcription *string `json:"transcription,omitempty"`
}

// FlexInt holds a raw JSON value that should be an integer. Clients send
// numbers, fractional numbers and numeric strings interchangeably.
type FlexInt struct {
	raw json.RawMessage
}

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	f.raw = append(f.raw[:0], data...)
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	if len(f.raw) == 0 {
		return []byte("null"), nil
	}
	return f.raw, nil
}

// IntOf returns a FlexInt holding n.
func IntOf(n int) FlexInt {
	return FlexInt{raw: json.RawMessage(strconv.Itoa(n))}
}

// Int coerces the value. Absent and null give nil. Fractions are truncated.
func (f FlexInt) Int(field string) (*int, error) {
	raw := bytes.TrimSpace(f.raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, ValidationError(field, field+" must be a number")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
	} else {
		s = string(raw)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, ValidationError(field, field+" must be a number")
	}
	v = math.Trunc(v)
	if v < 0 {
		return nil, ValidationError(field, field+" must not be negative")
	}
	if v > math.MaxInt32 {
		return nil, ValidationError(field, field+" is too large")
	}
	n := int(v)
	return &n, nil
}

// Normalize validates req against its message type and returns the body to
// store. maxContent is the rune limit for content.
func Normalize(req SendMessageRequest, maxContent int) (models.MessageBody, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ValidationError("content", "Message content is required")
	}
	if maxContent > 0 && utf8.RuneCountInString(content) > maxContent {
		return nil, ValidationError("content", "Message content must be at most "+strconv.Itoa(maxContent)+" characters")
	}

	mt := models.MessageType(strings.ToUpper(strings.TrimSpace(req.MessageType)))
	if mt == "" {
		mt = models.MessageTypeText
	}

	switch mt {
	case models.MessageTypeText:
		return models.TextBody{Content: content}, nil

	case models.MessageTypeBookRecommendation:
		return models.BookRecommendationBody{Content: content}, nil

	case models.MessageTypeImage:
		url, err := assetURL("imageUrl", req.ImageURL)
		if err != nil {
			return nil, err
		}
		width, err := req.ImageWidth.Int("imageWidth")
		if err != nil {
			return nil, err
		}
		height, err := req.ImageHeight.Int("imageHeight")
		if err != nil {
			return nil, err
		}
		return models.ImageBody{Content: content, URL: url, Width: width, Height: height}, nil

	case models.MessageTypeVoiceNote:
		url, err := assetURL("audioUrl", req.AudioURL)
		if err != nil {
			return nil, err
		}
		duration, err := req.AudioDuration.Int("audioDuration")
		if err != nil {
			return nil, err
		}
		size, err := req.AudioSize.Int("audioSize")
		if err != nil {
			return nil, err
		}
		var transcription *string
		if req.Transcription != nil {
			if t := strings.TrimSpace(*req.Transcription); t != "" {
				transcription = &t
			}
		}
		return models.VoiceNoteBody{
			Content:       content,
			URL:           url,
			Duration:      duration,
			Size:          size,
			Transcription: transcription,
		}, nil
	}

	return nil, ValidationError("messageType", "messageType must be one of: TEXT, IMAGE, VOICE_NOTE, BOOK_RECOMMENDATION")
}

func assetURL(field string, v *string) (string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return "", ValidationError(field, field+" is required")
	}
	url := strings.TrimSpace(*v)
	if err := validation.Validator().Var(url, "http_url"); err != nil {
		return "", ValidationError(field, field+" must be an absolute http(s) URL")
	}
	return url, nil
}
