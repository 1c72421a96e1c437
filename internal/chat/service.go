// Package chat implements conversations, messages and read tracking.
//
// Every conversation-scoped operation checks membership first. A user who is
// not a participant gets ErrForbidden whether or not the conversation exists.
// Sends are persisted before anything is published; delivery and push
// notification happen after the commit and never fail the send.
package chat

import (
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookhaven/server/internal/delivery"
	"bookhaven/server/internal/logging"
	"bookhaven/server/internal/metrics"
	"bookhaven/server/internal/models"
	"bookhaven/server/internal/store"
	"bookhaven/server/internal/utils"
	"bookhaven/server/internal/validation"
)

// NotificationQueue accepts committed messages for push fan-out.
type NotificationQueue interface {
	PublishMessageCreated(ctx context.Context, msg models.Message) error
}

type noopQueue struct{}

func (noopQueue) PublishMessageCreated(context.Context, models.Message) error { return nil }

// Options tunes paging and validation.
type Options struct {
	DefaultPageSize  int
	MaxPageSize      int
	MaxContentLength int
	MarkReadOnFetch  bool
}

// Service is the entry point for HTTP handlers and websocket clients.
type Service struct {
	store    store.Store
	notifier delivery.MessageDeliveryNotifier
	queue    NotificationQueue
	opts     Options
}

// NewService wires the service. A nil notifier or queue disables that side
// effect.
func NewService(st store.Store, notifier delivery.MessageDeliveryNotifier, queue NotificationQueue, opts Options) *Service {
	if notifier == nil {
		notifier = delivery.PollNotifier{}
	}
	if queue == nil {
		queue = noopQueue{}
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 50
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = opts.DefaultPageSize
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = 4000
	}
	return &Service{store: st, notifier: notifier, queue: queue, opts: opts}
}

// MessagePage is one page of a conversation in chronological order.
type MessagePage struct {
	Messages   []models.MessageWithSender `json:"messages"`
	Pagination Pagination                 `json:"pagination"`
}

type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"hasMore"`
}

// CreateConversationRequest is the body of POST /conversations.
type CreateConversationRequest struct {
	ParticipantIDs []string `json:"participantIds" validate:"min=1,max=50,dive,required"`
	IsGroup        bool     `json:"isGroup"`
	Name           *string  `json:"name,omitempty" validate:"omitempty,max=100"`
}

// IsParticipant reports whether userID belongs to conversationID.
func (s *Service) IsParticipant(ctx context.Context, userID, conversationID string) (bool, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return false, ValidationError("conversationId", "Invalid conversation id")
	}
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return false, dependencyError("Failed to check membership", err)
	}
	return ok, nil
}

// Authorize returns ErrForbidden unless userID is a participant.
func (s *Service) Authorize(ctx context.Context, userID, conversationID string) error {
	ok, err := s.IsParticipant(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		metrics.AuthorizationDenied.Inc()
		return ErrForbidden
	}
	return nil
}

// PageBounds applies defaults and clamps to page and limit. Page is capped
// so that (page-1)*limit cannot overflow.
func (s *Service) PageBounds(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = s.opts.DefaultPageSize
	}
	if limit > s.opts.MaxPageSize {
		limit = s.opts.MaxPageSize
	}
	if maxPage := math.MaxInt / limit; page > maxPage {
		page = maxPage
	}
	return page, limit
}

// ListMessages returns one page of messages oldest first. HasMore is true
// whenever the page is full, so a conversation with exactly limit messages
// reports one more page that turns out empty.
func (s *Service) ListMessages(ctx context.Context, userID, conversationID string, page, limit int) (MessagePage, error) {
	if err := s.Authorize(ctx, userID, conversationID); err != nil {
		return MessagePage{}, err
	}
	page, limit = s.PageBounds(page, limit)

	rows, err := s.store.ListMessages(ctx, conversationID, (page-1)*limit, limit)
	if err != nil {
		return MessagePage{}, dependencyError("Failed to load messages", err)
	}
	slices.Reverse(rows)

	messages, err := s.withSenders(ctx, rows)
	if err != nil {
		return MessagePage{}, err
	}

	if s.opts.MarkReadOnFetch {
		if _, err := s.markRead(ctx, userID, conversationID); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("conversation_id", conversationID).Msg("mark read on fetch failed")
		}
	}

	return MessagePage{
		Messages:   messages,
		Pagination: Pagination{Page: page, Limit: limit, HasMore: len(rows) == limit},
	}, nil
}

// SendMessage validates and stores a message, then publishes it.
func (s *Service) SendMessage(ctx context.Context, userID, conversationID string, req SendMessageRequest) (models.MessageWithSender, error) {
	if err := s.Authorize(ctx, userID, conversationID); err != nil {
		return models.MessageWithSender{}, err
	}

	body, err := Normalize(req, s.opts.MaxContentLength)
	if err != nil {
		return models.MessageWithSender{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return models.MessageWithSender{}, dependencyError("Failed to allocate message id", err)
	}

	start := time.Now()
	msg, summary, err := s.store.InsertMessage(ctx, models.NewMessage(id.String(), conversationID, userID, body))
	metrics.StoreDuration.WithLabelValues("insert_message").Observe(time.Since(start).Seconds())
	if err != nil {
		return models.MessageWithSender{}, dependencyError("Failed to send message", err)
	}
	metrics.MessagesSent.WithLabelValues(string(msg.MessageType)).Inc()

	out, err := s.withSenders(ctx, []models.Message{msg})
	if err != nil {
		// The message is stored; fall back to the bare row.
		out = []models.MessageWithSender{render(msg, nil)}
	}

	s.notifier.MessageCreated(ctx, out[0], summary)

	if err := s.queue.PublishMessageCreated(ctx, msg); err != nil {
		metrics.NotificationsEnqueueFailed.Inc()
		logging.Ctx(ctx).Error().Err(err).
			Str("conversation_id", conversationID).
			Str("message_id", msg.ID).
			Msg("failed to enqueue push notifications")
	}

	logging.Ctx(ctx).Debug().
		Str("conversation_id", conversationID).
		Str("message_id", msg.ID).
		Str("message_type", string(msg.MessageType)).
		Msg("message stored")
	return out[0], nil
}

// CreateConversation creates a conversation that includes creatorID. Direct
// conversations are unique per pair; asking again returns the existing one
// with created=false.
func (s *Service) CreateConversation(ctx context.Context, creatorID string, req CreateConversationRequest) (models.ConversationView, bool, error) {
	if err := validation.Struct(&req); err != nil {
		return models.ConversationView{}, false, fromValidation(err)
	}

	ids := utils.DedupeIDs(append([]string{creatorID}, req.ParticipantIDs...)...)
	nc := store.NewConversation{IsGroup: req.IsGroup, ParticipantIDs: ids}

	if req.IsGroup {
		if len(ids) < 2 {
			return models.ConversationView{}, false, ValidationError("participantIds", "A group needs at least one other participant")
		}
		if req.Name != nil {
			if name := strings.TrimSpace(*req.Name); name != "" {
				nc.Name = &name
			}
		}
	} else {
		if len(ids) != 2 {
			return models.ConversationView{}, false, ValidationError("participantIds", "A direct conversation needs exactly one other participant")
		}
		key := utils.DirectPairKey(ids[0], ids[1])
		nc.DirectKey = &key
	}

	id, err := uuid.NewV7()
	if err != nil {
		return models.ConversationView{}, false, dependencyError("Failed to allocate conversation id", err)
	}
	nc.ID = id.String()

	conv, created, err := s.store.CreateConversation(ctx, nc)
	if errors.Is(err, store.ErrUnknownUser) {
		return models.ConversationView{}, false, NotFoundError("participantIds", "One or more participants do not exist")
	}
	if err != nil {
		return models.ConversationView{}, false, dependencyError("Failed to create conversation", err)
	}

	if created {
		kind := "direct"
		if conv.IsGroup {
			kind = "group"
		}
		metrics.ConversationsCreated.WithLabelValues(kind).Inc()
		logging.Ctx(ctx).Info().Str("conversation_id", conv.ID).Str("kind", kind).Int("participants", len(ids)).Msg("conversation created")

		users, err := s.store.Users(ctx, ids)
		if err != nil {
			return models.ConversationView{}, false, dependencyError("Failed to load participants", err)
		}
		item := models.ConversationListItem{Conversation: conv}
		for _, uid := range ids {
			if u, ok := users[uid]; ok {
				item.Participants = append(item.Participants, u)
			}
		}
		return buildView(item, creatorID), true, nil
	}

	// Existing direct conversation: return it as the creator sees it.
	views, err := s.GetConversations(ctx, creatorID)
	if err != nil {
		return models.ConversationView{}, false, err
	}
	for _, v := range views {
		if v.ID == conv.ID {
			return v, false, nil
		}
	}
	return buildView(models.ConversationListItem{Conversation: conv}, creatorID), false, nil
}

// GetConversations lists userID's conversations, most recently active first.
func (s *Service) GetConversations(ctx context.Context, userID string) ([]models.ConversationView, error) {
	items, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, dependencyError("Failed to load conversations", err)
	}
	views := make([]models.ConversationView, 0, len(items))
	for _, item := range items {
		views = append(views, buildView(item, userID))
	}
	return views, nil
}

// MarkRead moves userID's read marker to now. Repeating it is harmless.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID string) (time.Time, error) {
	if err := s.Authorize(ctx, userID, conversationID); err != nil {
		return time.Time{}, err
	}
	return s.markRead(ctx, userID, conversationID)
}

func (s *Service) markRead(ctx context.Context, userID, conversationID string) (time.Time, error) {
	at, err := s.store.MarkRead(ctx, conversationID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, ErrForbidden
	}
	if err != nil {
		return time.Time{}, dependencyError("Failed to update read marker", err)
	}
	metrics.ReadMarkers.Inc()
	s.notifier.MessagesRead(ctx, conversationID, userID, at)
	return at, nil
}

// ConversationsFor returns the ids of every conversation userID belongs to.
func (s *Service) ConversationsFor(ctx context.Context, userID string) ([]string, error) {
	items, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, dependencyError("Failed to load conversations", err)
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids, nil
}

func (s *Service) withSenders(ctx context.Context, rows []models.Message) ([]models.MessageWithSender, error) {
	senderIDs := make([]string, 0, len(rows))
	for _, m := range rows {
		senderIDs = append(senderIDs, m.SenderID)
	}
	users, err := s.store.Users(ctx, utils.DedupeIDs(senderIDs...))
	if err != nil {
		return nil, dependencyError("Failed to load senders", err)
	}

	out := make([]models.MessageWithSender, len(rows))
	for i, m := range rows {
		var sender *models.UserResponse
		if u, ok := users[m.SenderID]; ok {
			r := u.ToResponse()
			sender = &r
		}
		out[i] = render(m, sender)
	}
	return out, nil
}

// render attaches the sender and, for readable book recommendations, the
// decoded book. Unreadable payloads are left as plain content.
func render(m models.Message, sender *models.UserResponse) models.MessageWithSender {
	out := models.MessageWithSender{Message: m, Sender: sender}
	if m.MessageType == models.MessageTypeBookRecommendation {
		if book, ok := models.DecodeBookPayload(m.Content); ok {
			out.Book = book
		}
	}
	return out
}

func buildView(item models.ConversationListItem, viewerID string) models.ConversationView {
	v := models.ConversationView{
		ID:            item.ID,
		IsGroup:       item.IsGroup,
		Name:          item.Name,
		Participants:  make([]models.UserResponse, 0, len(item.Participants)),
		LastMessage:   item.LastMessage,
		LastMessageAt: item.LastMessageAt,
		LastReadAt:    item.LastReadAt,
		UnreadCount:   item.UnreadCount,
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
	}
	for _, u := range item.Participants {
		v.Participants = append(v.Participants, u.ToResponse())
	}

	switch {
	case item.IsGroup && item.Name != nil && *item.Name != "":
		v.DisplayName = *item.Name
	case item.IsGroup:
		v.DisplayName = models.DefaultGroupName
	default:
		for _, u := range item.Participants {
			if u.ID != viewerID {
				v.DisplayName = u.Username
				break
			}
		}
		if v.DisplayName == "" {
			v.DisplayName = "Unknown user"
		}
	}
	return v
}

func fromValidation(err error) *Error {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		if fe, ok := verrs.First(); ok {
			return ValidationError(fe.Field, fe.Message)
		}
	}
	return ValidationError("", err.Error())
}
