package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bookhaven/server/internal/models"
)

const conversationColumns = `c.id, c.is_group, c.name, c.direct_key, c.last_message, c.last_message_at, c.created_at, c.updated_at`

const messageColumns = `id, conversation_id, sender_id, content, message_type, created_at,
	image_url, image_width, image_height, audio_url, audio_duration, audio_size, transcription`

// Postgres implements Store on a pgx pool.
type Postgres struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgres returns a Store backed by pool. Every call runs under
// queryTimeout unless ctx expires first.
func NewPostgres(pool *pgxpool.Pool, queryTimeout time.Duration) *Postgres {
	return &Postgres{pool: pool, queryTimeout: queryTimeout}
}

func (s *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func (s *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Postgres) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`, conversationID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return ok, nil
}

func (s *Postgres) CreateConversation(ctx context.Context, nc NewConversation) (models.Conversation, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Conversation{}, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if nc.DirectKey != nil {
		existing, err := scanConversation(tx.QueryRow(ctx,
			`SELECT `+conversationColumns+` FROM conversations c WHERE c.direct_key = $1`, *nc.DirectKey))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Conversation{}, false, fmt.Errorf("find direct conversation: %w", err)
		}
	}

	var known int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM users WHERE id = ANY($1)`, nc.ParticipantIDs).Scan(&known); err != nil {
		return models.Conversation{}, false, fmt.Errorf("check users: %w", err)
	}
	if known != len(nc.ParticipantIDs) {
		return models.Conversation{}, false, ErrUnknownUser
	}

	conv, err := scanConversation(tx.QueryRow(ctx, `
		INSERT INTO conversations AS c (id, is_group, name, direct_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (direct_key) DO NOTHING
		RETURNING `+conversationColumns,
		nc.ID, nc.IsGroup, nc.Name, nc.DirectKey))
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost a race with a concurrent create for the same pair.
		existing, err := scanConversation(tx.QueryRow(ctx,
			`SELECT `+conversationColumns+` FROM conversations c WHERE c.direct_key = $1`, *nc.DirectKey))
		if err != nil {
			return models.Conversation{}, false, fmt.Errorf("find direct conversation: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return models.Conversation{}, false, fmt.Errorf("insert conversation: %w", err)
	}

	for _, userID := range nc.ParticipantIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id)
			VALUES ($1, $2)`, conv.ID, userID); err != nil {
			return models.Conversation{}, false, fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Conversation{}, false, fmt.Errorf("commit: %w", err)
	}
	return conv, true, nil
}

func (s *Postgres) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	conv, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, conversationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Conversation{}, ErrNotFound
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *Postgres) ListConversations(ctx context.Context, userID string) ([]models.ConversationListItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`,
			p.last_read_at,
			(
				SELECT count(*) FROM messages m
				WHERE m.conversation_id = c.id
				  AND m.sender_id <> p.user_id
				  AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)
			) AS unread
		FROM conversation_participants p
		INNER JOIN conversations c ON c.id = p.conversation_id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var items []models.ConversationListItem
	index := make(map[string]int)
	var ids []string
	for rows.Next() {
		var item models.ConversationListItem
		c := &item.Conversation
		if err := rows.Scan(&c.ID, &c.IsGroup, &c.Name, &c.DirectKey, &c.LastMessage, &c.LastMessageAt,
			&c.CreatedAt, &c.UpdatedAt, &item.LastReadAt, &item.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		index[c.ID] = len(items)
		ids = append(ids, c.ID)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if len(ids) == 0 {
		return []models.ConversationListItem{}, nil
	}

	prows, err := s.pool.Query(ctx, `
		SELECT cp.conversation_id, u.id, u.username, u.avatar
		FROM conversation_participants cp
		INNER JOIN users u ON u.id = cp.user_id
		WHERE cp.conversation_id = ANY($1::text[]::uuid[])
		ORDER BY cp.joined_at, u.id`, ids)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer prows.Close()

	for prows.Next() {
		var convID string
		var u models.User
		if err := prows.Scan(&convID, &u.ID, &u.Username, &u.Avatar); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		if i, ok := index[convID]; ok {
			items[i].Participants = append(items[i].Participants, u)
		}
	}
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return items, nil
}

func (s *Postgres) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]models.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2 OFFSET $3`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func (s *Postgres) InsertMessage(ctx context.Context, msg models.Message) (models.Message, models.ConversationSummary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Message{}, models.ConversationSummary{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, message_type,
			image_url, image_width, image_height, audio_url, audio_duration, audio_size, transcription)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, string(msg.MessageType),
		msg.ImageURL, msg.ImageWidth, msg.ImageHeight,
		msg.AudioURL, msg.AudioDuration, msg.AudioSize, msg.Transcription,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return models.Message{}, models.ConversationSummary{}, fmt.Errorf("insert message: %w", err)
	}

	summary := models.ConversationSummary{
		ID:            msg.ConversationID,
		LastMessage:   msg.Content,
		LastMessageAt: msg.CreatedAt,
	}
	err = tx.QueryRow(ctx, `
		UPDATE conversations
		SET last_message = $2, last_message_at = $3, updated_at = $3
		WHERE id = $1
		RETURNING updated_at`,
		msg.ConversationID, summary.LastMessage, msg.CreatedAt,
	).Scan(&summary.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Message{}, models.ConversationSummary{}, ErrNotFound
	}
	if err != nil {
		return models.Message{}, models.ConversationSummary{}, fmt.Errorf("update conversation summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Message{}, models.ConversationSummary{}, fmt.Errorf("commit: %w", err)
	}
	return msg, summary, nil
}

func (s *Postgres) MarkRead(ctx context.Context, conversationID, userID string) (time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var at time.Time
	err := s.pool.QueryRow(ctx, `
		UPDATE conversation_participants
		SET last_read_at = clock_timestamp()
		WHERE conversation_id = $1 AND user_id = $2
		RETURNING last_read_at`, conversationID, userID).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("mark read: %w", err)
	}
	return at, nil
}

func (s *Postgres) ParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY joined_at, user_id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participant ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list participant ids: %w", err)
	}
	return ids, nil
}

func (s *Postgres) Users(ctx context.Context, ids []string) (map[string]models.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT id, username, avatar FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make(map[string]models.User, len(ids))
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Avatar); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users[u.ID] = u
	}
	return users, rows.Err()
}

func (s *Postgres) PushTokens(ctx context.Context, userIDs []string) ([]models.PushToken, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT user_id, provider, token, created_at
		FROM push_tokens
		WHERE user_id = ANY($1)
		ORDER BY user_id, created_at`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("list push tokens: %w", err)
	}
	tokens, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.PushToken])
	if err != nil {
		return nil, fmt.Errorf("list push tokens: %w", err)
	}
	return tokens, nil
}

func scanConversation(row pgx.Row) (models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(&c.ID, &c.IsGroup, &c.Name, &c.DirectKey, &c.LastMessage, &c.LastMessageAt,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanMessage(row pgx.Row) (models.Message, error) {
	var m models.Message
	var messageType string
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &messageType, &m.CreatedAt,
		&m.ImageURL, &m.ImageWidth, &m.ImageHeight,
		&m.AudioURL, &m.AudioDuration, &m.AudioSize, &m.Transcription)
	m.MessageType = models.MessageType(messageType)
	return m, err
}
