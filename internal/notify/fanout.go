package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"bookhaven/server/internal/logging"
	"bookhaven/server/internal/metrics"
	"bookhaven/server/internal/models"
)

// Directory is the read-only view of conversations, users and devices the
// fan-out needs. store.Store satisfies it.
type Directory interface {
	ParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	Users(ctx context.Context, ids []string) (map[string]models.User, error)
	PushTokens(ctx context.Context, userIDs []string) ([]models.PushToken, error)
}

// FanOut expands a message.created event into push jobs.
type FanOut struct {
	dir           Directory
	bodyMaxLength int
}

func NewFanOut(dir Directory, bodyMaxLength int) *FanOut {
	if bodyMaxLength <= 0 {
		bodyMaxLength = 100
	}
	return &FanOut{dir: dir, bodyMaxLength: bodyMaxLength}
}

// Handle is the watermill handler for TopicMessageCreated. Each returned
// message is published to TopicPushRequested.
func (f *FanOut) Handle(msg *message.Message) ([]*message.Message, error) {
	var event MessageCreatedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, fmt.Errorf("decode message.created: %w", err)
	}

	jobs, err := f.Jobs(msg.Context(), event)
	if err != nil {
		return nil, err
	}

	out := make([]*message.Message, 0, len(jobs))
	for _, job := range jobs {
		payload, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("encode push job: %w", err)
		}
		m := message.NewMessage(watermill.NewUUID(), payload)
		m.Metadata.Set(metadataRequestID, msg.Metadata.Get(metadataRequestID))
		out = append(out, m)
	}
	metrics.NotificationJobs.Add(float64(len(out)))
	return out, nil
}

// Jobs returns one job per device of every participant except the sender.
func (f *FanOut) Jobs(ctx context.Context, event MessageCreatedEvent) ([]PushJob, error) {
	participants, err := f.dir.ParticipantIDs(ctx, event.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load participants of %s: %w", event.ConversationID, err)
	}

	recipients := make([]string, 0, len(participants))
	for _, id := range participants {
		if id != event.SenderID {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return nil, nil
	}

	tokens, err := f.dir.PushTokens(ctx, recipients)
	if err != nil {
		return nil, fmt.Errorf("load push tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	title := "New message"
	users, err := f.dir.Users(ctx, []string{event.SenderID})
	if err != nil {
		logging.Warn().Err(err).Str("sender_id", event.SenderID).Msg("sender lookup failed, using generic title")
	} else if u, ok := users[event.SenderID]; ok && u.Username != "" {
		title = u.Username
	}

	body := Truncate(models.PreviewOf(event.Message()), f.bodyMaxLength)
	data := map[string]string{
		"conversationId": event.ConversationID,
		"messageId":      event.MessageID,
		"type":           "new-message",
	}

	jobs := make([]PushJob, 0, len(tokens))
	for _, t := range tokens {
		if strings.TrimSpace(t.Token) == "" {
			continue
		}
		jobs = append(jobs, PushJob{
			RecipientID: t.UserID,
			Provider:    t.Provider,
			Token:       t.Token,
			Title:       title,
			Body:        body,
			Data:        data,
		})
	}
	return jobs, nil
}

// Truncate cuts s to max runes and appends "..." when anything was cut.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
