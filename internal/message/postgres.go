package message

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memohai/wagate/internal/media"
)

const messageColumns = `id, conversation_id, direction, body, media, coalesce(provider_message_id, ''),
	status, coalesce(reply_to_message_id, ''), raw, created_at, updated_at`

// PostgresStore is the Store backed by Postgres.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(log *slog.Logger, pool *pgxpool.Pool) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{
		pool:   pool,
		logger: log.With(slog.String("service", "message_store")),
	}
}

func (s *PostgresStore) CreateMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.Body = cleanText(m.Body)
	m.Raw = cleanJSON(m.Raw)
	mediaJSON, err := marshalMedia(m.Media)
	if err != nil {
		return Message{}, err
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, direction, body, media, provider_message_id,
			status, reply_to_message_id, raw, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (provider_message_id) WHERE provider_message_id IS NOT NULL DO NOTHING
		RETURNING id`,
		m.ID, m.ConversationID, string(m.Direction), m.Body, mediaJSON, nullString(m.ProviderMessageID),
		string(m.Status), nullString(m.ReplyToMessageID), nullJSON(m.Raw), m.CreatedAt, m.UpdatedAt,
	).Scan(&m.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrDuplicate
	}
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetMessageByID(ctx context.Context, id string) (Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (s *PostgresStore) GetMessageByProviderMessageID(ctx context.Context, providerMessageID string) (Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE provider_message_id = $1`, providerMessageID)
	return scanMessage(row)
}

func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, id string, status Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateMessageMedia(ctx context.Context, id string, mm *media.MessageMedia) error {
	mediaJSON, err := marshalMedia(mm)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET media = $2, updated_at = now() WHERE id = $1`, id, mediaJSON)
	if err != nil {
		return fmt.Errorf("update message media: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MessageMedia(ctx context.Context, id string) (*media.MessageMedia, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT media FROM messages WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load message media: %w", err)
	}
	mm, err := unmarshalMedia(raw)
	if err != nil {
		return nil, true, err
	}
	return mm, true, nil
}

func (s *PostgresStore) ListStaleMedia(ctx context.Context, before time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE media->>'status' = 'processing'
		  AND (media->>'updated_at')::timestamptz < $1
		ORDER BY updated_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale media: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetConversationByPhone(ctx context.Context, phone string) (Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, phone, contact_name, archived, unread_count, last_message_at, created_at
		FROM conversations WHERE phone = $1`, strings.TrimSpace(phone))
	return scanConversation(row)
}

func (s *PostgresStore) CreateConversation(ctx context.Context, c Conversation) (Conversation, error) {
	c.Phone = cleanText(strings.TrimSpace(c.Phone))
	c.ContactName = cleanText(c.ContactName)
	if c.Phone == "" {
		return Conversation{}, fmt.Errorf("phone is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	// The no-op update makes RETURNING yield the existing row on conflict.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, phone, contact_name, archived, unread_count, last_message_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (phone) DO UPDATE SET phone = EXCLUDED.phone
		RETURNING id, phone, contact_name, archived, unread_count, last_message_at, created_at`,
		c.ID, c.Phone, c.ContactName, c.Archived, c.UnreadCount, c.LastMessageAt, c.CreatedAt)
	out, err := scanConversation(row)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetConversationArchived(ctx context.Context, id string, archived bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE conversations SET archived = $2 WHERE id = $1`, id, archived)
	if err != nil {
		return fmt.Errorf("set conversation archived: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TouchConversation(ctx context.Context, id string, at time.Time, unreadDelta int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET last_message_at = GREATEST(coalesce(last_message_at, $2), $2),
		    unread_count = GREATEST(unread_count + $3, 0)
		WHERE id = $1`, id, at, unreadDelta)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LogWebhookEvent(ctx context.Context, ev WebhookEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	headers, err := json.Marshal(nonNilValues(ev.Headers))
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	query, err := json.Marshal(nonNilValues(ev.Query))
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}
	headers, query = cleanJSONObject(headers), cleanJSONObject(query)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO webhook_events (id, provider, method, headers, query, body,
			response_status, response_body, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, cleanText(ev.Provider), cleanText(ev.Method), headers, query, cleanText(ev.Body),
		ev.ResponseStatus, cleanText(ev.ResponseBody), cleanText(ev.Error), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m         Message
		direction string
		status    string
		mediaRaw  []byte
		raw       []byte
	)
	err := row.Scan(&m.ID, &m.ConversationID, &direction, &m.Body, &mediaRaw, &m.ProviderMessageID,
		&status, &m.ReplyToMessageID, &raw, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.Direction = Direction(direction)
	m.Status = Status(status)
	if len(raw) > 0 {
		m.Raw = json.RawMessage(raw)
	}
	if m.Media, err = unmarshalMedia(mediaRaw); err != nil {
		return Message{}, err
	}
	return m, nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.Phone, &c.ContactName, &c.Archived, &c.UnreadCount, &c.LastMessageAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	return c, nil
}

func marshalMedia(mm *media.MessageMedia) ([]byte, error) {
	if mm == nil {
		return nil, nil
	}
	b, err := json.Marshal(mm)
	if err != nil {
		return nil, fmt.Errorf("marshal media: %w", err)
	}
	return cleanJSON(b), nil
}

func unmarshalMedia(raw []byte) (*media.MessageMedia, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var mm media.MessageMedia
	if err := json.Unmarshal(raw, &mm); err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}
	return &mm, nil
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return []byte(raw)
}

// cleanText drops NUL bytes and replaces invalid UTF-8. Postgres text
// columns reject both.
func cleanText(s string) string {
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

var jsonNUL = []byte(`\u0000`)

// cleanJSON re-encodes a document that jsonb would reject: \u0000 escapes
// are dropped from strings and keys, invalid UTF-8 is replaced. A document
// that does not parse becomes nil.
func cleanJSON(raw []byte) []byte {
	if len(raw) == 0 || (utf8.Valid(raw) && !bytes.Contains(raw, jsonNUL)) {
		return raw
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	out, err := json.Marshal(stripNUL(v))
	if err != nil {
		return nil
	}
	return out
}

// cleanJSONObject is cleanJSON for NOT NULL object columns.
func cleanJSONObject(raw []byte) []byte {
	if out := cleanJSON(raw); len(out) > 0 {
		return out
	}
	return []byte("{}")
}

func stripNUL(v any) any {
	switch t := v.(type) {
	case string:
		return cleanText(t)
	case []any:
		for i := range t {
			t[i] = stripNUL(t[i])
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[cleanText(k)] = stripNUL(val)
		}
		return out
	default:
		return v
	}
}

func nonNilValues(v map[string][]string) map[string][]string {
	if v == nil {
		return map[string][]string{}
	}
	return v
}

var _ Store = (*PostgresStore)(nil)
