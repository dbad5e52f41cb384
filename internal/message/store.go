package message

import (
	"context"
	"time"

	"github.com/memohai/wagate/internal/media"
)

// Store persists conversations, messages and the webhook audit trail.
type Store interface {
	// CreateMessage inserts m, assigning an id and timestamps when unset. It
	// returns ErrDuplicate when m.ProviderMessageID is already stored.
	CreateMessage(ctx context.Context, m Message) (Message, error)
	GetMessageByID(ctx context.Context, id string) (Message, error)
	GetMessageByProviderMessageID(ctx context.Context, providerMessageID string) (Message, error)
	UpdateMessageStatus(ctx context.Context, id string, status Status) error
	UpdateMessageMedia(ctx context.Context, id string, m *media.MessageMedia) error
	// MessageMedia returns the media of a message; found is false when the
	// message does not exist.
	MessageMedia(ctx context.Context, id string) (*media.MessageMedia, bool, error)
	// ListStaleMedia returns messages whose media has been processing since
	// before the cutoff.
	ListStaleMedia(ctx context.Context, before time.Time, limit int) ([]Message, error)

	GetConversationByPhone(ctx context.Context, phone string) (Conversation, error)
	// CreateConversation inserts c, or returns the existing conversation for
	// the same phone.
	CreateConversation(ctx context.Context, c Conversation) (Conversation, error)
	SetConversationArchived(ctx context.Context, id string, archived bool) error
	// TouchConversation records activity at the given time and adds
	// unreadDelta to the unread counter.
	TouchConversation(ctx context.Context, id string, at time.Time, unreadDelta int) error

	LogWebhookEvent(ctx context.Context, ev WebhookEvent) error
	Ping(ctx context.Context) error
}

var _ media.Store = Store(nil)
