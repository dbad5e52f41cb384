package message

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/memohai/wagate/internal/media"
)

var (
	// ErrNotFound is returned when a message or conversation does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a provider message id is already stored.
	ErrDuplicate = errors.New("duplicate provider message id")
)

// Status is the delivery status of a message.
type Status string

const (
	StatusReceived  Status = "received"
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// ParseStatus maps a stored status string to a Status.
func ParseStatus(s string) (Status, bool) {
	if st := Status(s); st == StatusReceived {
		return st, true
	}
	return ParseDeliveryStatus(s)
}

// ParseDeliveryStatus accepts only the statuses a provider reports for
// outbound messages; received is local to inbound messages.
func ParseDeliveryStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusQueued, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return st, true
	default:
		return "", false
	}
}

// Direction tells inbound messages from outbound ones.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is a persisted message in a conversation.
type Message struct {
	ID                string              `json:"id"`
	ConversationID    string              `json:"conversation_id"`
	Direction         Direction           `json:"direction"`
	Body              string              `json:"body"`
	Media             *media.MessageMedia `json:"media"`
	ProviderMessageID string              `json:"provider_message_id,omitempty"`
	Status            Status              `json:"status"`
	ReplyToMessageID  string              `json:"reply_to_message_id,omitempty"`
	Raw               json.RawMessage     `json:"raw,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Clone returns a copy that shares nothing mutable with m.
func (m Message) Clone() Message {
	out := m
	out.Media = m.Media.Clone()
	if m.Raw != nil {
		out.Raw = append(json.RawMessage(nil), m.Raw...)
	}
	return out
}

// Conversation is a thread with one remote party, keyed by phone number.
type Conversation struct {
	ID            string     `json:"id"`
	Phone         string     `json:"phone"`
	ContactName   string     `json:"contact_name,omitempty"`
	Archived      bool       `json:"archived"`
	UnreadCount   int        `json:"unread_count"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// WebhookEvent is the audit record of one webhook request and its response.
type WebhookEvent struct {
	ID             string              `json:"id"`
	Provider       string              `json:"provider"`
	Method         string              `json:"method"`
	Headers        map[string][]string `json:"headers"`
	Query          map[string][]string `json:"query"`
	Body           string              `json:"body"`
	ResponseStatus int                 `json:"response_status"`
	ResponseBody   string              `json:"response_body"`
	Error          string              `json:"error,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}
