package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"bookhaven/server/internal/models"
)

// Memory is an in-process Store for local development and tests.
type Memory struct {
	mu            sync.RWMutex
	users         map[string]models.User
	tokens        map[string][]models.PushToken
	conversations map[string]*models.Conversation
	directKeys    map[string]string
	participants  map[string][]*models.Participant // by conversation id
	messages      map[string][]models.Message      // by conversation id, oldest first
	lastStamp     time.Time
	now           func() time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[string]models.User),
		tokens:        make(map[string][]models.PushToken),
		conversations: make(map[string]*models.Conversation),
		directKeys:    make(map[string]string),
		participants:  make(map[string][]*models.Participant),
		messages:      make(map[string][]models.Message),
		now:           time.Now,
	}
}

// AddUser registers a user in the directory.
func (m *Memory) AddUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// AddPushToken registers a device for a user.
func (m *Memory) AddPushToken(t models.PushToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.now()
	}
	m.tokens[t.UserID] = append(m.tokens[t.UserID], t)
}

// stamp returns a timestamp strictly after every one handed out before.
// Callers hold mu.
func (m *Memory) stamp() time.Time {
	now := m.now().UTC()
	if !now.After(m.lastStamp) {
		now = m.lastStamp.Add(time.Microsecond)
	}
	m.lastStamp = now
	return now
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.participant(conversationID, userID) != nil, nil
}

func (m *Memory) participant(conversationID, userID string) *models.Participant {
	for _, p := range m.participants[conversationID] {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (m *Memory) CreateConversation(_ context.Context, nc NewConversation) (models.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if nc.DirectKey != nil {
		if id, ok := m.directKeys[*nc.DirectKey]; ok {
			return *m.conversations[id], false, nil
		}
	}
	for _, id := range nc.ParticipantIDs {
		if _, ok := m.users[id]; !ok {
			return models.Conversation{}, false, ErrUnknownUser
		}
	}

	now := m.stamp()
	conv := &models.Conversation{
		ID:        nc.ID,
		IsGroup:   nc.IsGroup,
		Name:      nc.Name,
		DirectKey: nc.DirectKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[conv.ID] = conv
	if nc.DirectKey != nil {
		m.directKeys[*nc.DirectKey] = conv.ID
	}
	for _, userID := range nc.ParticipantIDs {
		if m.participant(conv.ID, userID) != nil {
			continue
		}
		m.participants[conv.ID] = append(m.participants[conv.ID], &models.Participant{
			ConversationID: conv.ID,
			UserID:         userID,
			JoinedAt:       now,
		})
	}
	return *conv, true, nil
}

func (m *Memory) GetConversation(_ context.Context, conversationID string) (models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrNotFound
	}
	return *conv, nil
}

func (m *Memory) ListConversations(_ context.Context, userID string) ([]models.ConversationListItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := []models.ConversationListItem{}
	for id, conv := range m.conversations {
		self := m.participant(id, userID)
		if self == nil {
			continue
		}
		item := models.ConversationListItem{Conversation: *conv, LastReadAt: self.LastReadAt}
		for _, msg := range m.messages[id] {
			if msg.SenderID != userID && (self.LastReadAt == nil || msg.CreatedAt.After(*self.LastReadAt)) {
				item.UnreadCount++
			}
		}
		for _, p := range m.participants[id] {
			if u, ok := m.users[p.UserID]; ok {
				item.Participants = append(item.Participants, u)
			}
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID string, offset, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[conversationID]
	if offset < 0 || offset >= len(all) {
		return []models.Message{}, nil
	}
	out := make([]models.Message, 0, limit)
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *Memory) InsertMessage(_ context.Context, msg models.Message) (models.Message, models.ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return models.Message{}, models.ConversationSummary{}, ErrNotFound
	}

	msg.CreatedAt = m.stamp()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)

	last := msg.Content
	at := msg.CreatedAt
	conv.LastMessage = &last
	conv.LastMessageAt = &at
	conv.UpdatedAt = at

	return msg, models.ConversationSummary{
		ID:            conv.ID,
		LastMessage:   last,
		LastMessageAt: at,
		UpdatedAt:     at,
	}, nil
}

func (m *Memory) MarkRead(_ context.Context, conversationID, userID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.participant(conversationID, userID)
	if p == nil {
		return time.Time{}, ErrNotFound
	}
	at := m.stamp()
	p.LastReadAt = &at
	return at, nil
}

func (m *Memory) ParticipantIDs(_ context.Context, conversationID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.participants[conversationID]))
	for _, p := range m.participants[conversationID] {
		ids = append(ids, p.UserID)
	}
	return ids, nil
}

func (m *Memory) Users(_ context.Context, ids []string) (map[string]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]models.User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (m *Memory) PushTokens(_ context.Context, userIDs []string) ([]models.PushToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.PushToken
	for _, id := range userIDs {
		out = append(out, m.tokens[id]...)
	}
	return out, nil
}

// ParticipantCount returns the number of participant rows for a conversation.
func (m *Memory) ParticipantCount(conversationID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.participants[conversationID])
}

// MessageCount returns the number of stored messages for a conversation.
func (m *Memory) MessageCount(conversationID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[conversationID])
}

var _ Store = (*Memory)(nil)
var _ Store = (*Postgres)(nil)
