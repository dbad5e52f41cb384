package message

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/wagate/internal/media"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	messages      map[string]Message
	byProviderID  map[string]string
	conversations map[string]Conversation
	byPhone       map[string]string
	events        []WebhookEvent
	now           func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:      map[string]Message{},
		byProviderID:  map[string]string{},
		conversations: map[string]Conversation{},
		byPhone:       map[string]string{},
		now:           time.Now,
	}
}

func (s *MemoryStore) CreateMessage(_ context.Context, m Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[m.ConversationID]; !ok {
		return Message{}, fmt.Errorf("conversation %s: %w", m.ConversationID, ErrNotFound)
	}
	if m.ProviderMessageID != "" {
		if _, ok := s.byProviderID[m.ProviderMessageID]; ok {
			return Message{}, ErrDuplicate
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m = m.Clone()
	s.messages[m.ID] = m
	if m.ProviderMessageID != "" {
		s.byProviderID[m.ProviderMessageID] = m.ID
	}
	return m.Clone(), nil
}

func (s *MemoryStore) GetMessageByID(_ context.Context, id string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) GetMessageByProviderMessageID(_ context.Context, providerMessageID string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byProviderID[providerMessageID]
	if !ok {
		return Message{}, ErrNotFound
	}
	return s.messages[id].Clone(), nil
}

// DeleteMessage removes a message. It exists for local tooling; the webhook
// path never deletes.
func (s *MemoryStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	if m.ProviderMessageID != "" {
		delete(s.byProviderID, m.ProviderMessageID)
	}
	return nil
}

func (s *MemoryStore) UpdateMessageStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	m.UpdatedAt = s.now()
	s.messages[id] = m
	return nil
}

func (s *MemoryStore) UpdateMessageMedia(_ context.Context, id string, mm *media.MessageMedia) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Media = mm.Clone()
	m.UpdatedAt = s.now()
	s.messages[id] = m
	return nil
}

func (s *MemoryStore) MessageMedia(_ context.Context, id string) (*media.MessageMedia, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, false, nil
	}
	return m.Media.Clone(), true, nil
}

func (s *MemoryStore) ListStaleMedia(_ context.Context, before time.Time, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.messages {
		if m.Media == nil || m.Media.Status != media.StatusProcessing {
			continue
		}
		if m.Media.UpdatedAt.Before(before) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Media.UpdatedAt.Before(out[j].Media.UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetConversationByPhone(_ context.Context, phone string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPhone[strings.TrimSpace(phone)]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return s.conversations[id], nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, c Conversation) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Phone = strings.TrimSpace(c.Phone)
	if c.Phone == "" {
		return Conversation{}, fmt.Errorf("phone is required")
	}
	if id, ok := s.byPhone[c.Phone]; ok {
		return s.conversations[id], nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.conversations[c.ID] = c
	s.byPhone[c.Phone] = c.ID
	return c, nil
}

func (s *MemoryStore) SetConversationArchived(_ context.Context, id string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Archived = archived
	s.conversations[id] = c
	return nil
}

func (s *MemoryStore) TouchConversation(_ context.Context, id string, at time.Time, unreadDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if c.LastMessageAt == nil || at.After(*c.LastMessageAt) {
		t := at
		c.LastMessageAt = &t
	}
	c.UnreadCount += unreadDelta
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	s.conversations[id] = c
	return nil
}

func (s *MemoryStore) LogWebhookEvent(_ context.Context, ev WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// WebhookEvents returns the audit records logged so far, oldest first.
func (s *MemoryStore) WebhookEvents() []WebhookEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]WebhookEvent(nil), s.events...)
}

// Messages returns every stored message ordered by creation time.
func (s *MemoryStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Conversations returns every stored conversation.
func (s *MemoryStore) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

var _ Store = (*MemoryStore)(nil)
