// Package whatsapp adapts the WhatsApp Cloud API: webhook signature checks,
// tolerant payload parsing and the Graph API media client.
package whatsapp

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/memohai/wagate/internal/media"
)

// ProviderName tags media descriptors produced by this package.
const ProviderName = "whatsapp"

// MessageKind is the closed set of inbound message shapes the parser knows.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindImage       MessageKind = "image"
	KindVideo       MessageKind = "video"
	KindAudio       MessageKind = "audio"
	KindDocument    MessageKind = "document"
	KindSticker     MessageKind = "sticker"
	KindLocation    MessageKind = "location"
	KindContacts    MessageKind = "contacts"
	KindInteractive MessageKind = "interactive"
	KindButton      MessageKind = "button"
	KindReaction    MessageKind = "reaction"
	KindOrder       MessageKind = "order"
	KindSystem      MessageKind = "system"
	KindUnsupported MessageKind = "unsupported"
)

// ParseKind maps a wire type tag to a MessageKind. Unknown tags map to
// KindUnsupported.
func ParseKind(tag string) MessageKind {
	switch k := MessageKind(strings.ToLower(strings.TrimSpace(tag))); k {
	case KindText, KindImage, KindVideo, KindAudio, KindDocument, KindSticker,
		KindLocation, KindContacts, KindInteractive, KindButton, KindReaction,
		KindOrder, KindSystem:
		return k
	default:
		return KindUnsupported
	}
}

// InboundEvent is one inbound message in canonical form.
type InboundEvent struct {
	From                     string
	ContactName              string
	Kind                     MessageKind
	Type                     string
	Body                     string
	Media                    *media.Descriptor
	ProviderMessageID        string
	ReplyToProviderMessageID string
	Timestamp                time.Time
	Raw                      json.RawMessage
}

// StatusUpdate is one delivery status notification. Timestamp is RFC 3339
// in UTC, or empty when the provider sent none.
type StatusUpdate struct {
	ProviderMessageID string
	Status            string
	Timestamp         string
	RecipientID       string
	Errors            []string
}

type wireEntry struct {
	ID      string            `json:"id"`
	Changes []json.RawMessage `json:"changes"`
}

type wireChange struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

type wireValue struct {
	Contacts []wireContact     `json:"contacts"`
	Messages []json.RawMessage `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`
}

type wireContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type wireHeader struct {
	From      string    `json:"from"`
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp flexEpoch `json:"timestamp"`
	Context   *struct {
		ID   string `json:"id"`
		From string `json:"from"`
	} `json:"context"`
}

type wireMessage struct {
	wireHeader
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image       *wireMedia       `json:"image"`
	Video       *wireMedia       `json:"video"`
	Audio       *wireMedia       `json:"audio"`
	Document    *wireMedia       `json:"document"`
	Sticker     *wireMedia       `json:"sticker"`
	Location    *wireLocation    `json:"location"`
	Contacts    []wireCard       `json:"contacts"`
	Interactive *wireInteractive `json:"interactive"`
	Button      *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button"`
	Reaction *struct {
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	} `json:"reaction"`
	Order  *wireOrder `json:"order"`
	System *struct {
		Body string `json:"body"`
		Type string `json:"type"`
	} `json:"system"`
}

type wireMedia struct {
	ID       string    `json:"id"`
	Link     string    `json:"link"`
	URL      string    `json:"url"`
	MimeType string    `json:"mime_type"`
	SHA256   string    `json:"sha256"`
	Caption  string    `json:"caption"`
	Filename string    `json:"filename"`
	FileSize flexInt64 `json:"file_size"`
	Voice    bool      `json:"voice"`
	Animated bool      `json:"animated"`
}

type wireLocation struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	URL       string   `json:"url"`
}

type wireCard struct {
	Name struct {
		FormattedName string `json:"formatted_name"`
		FirstName     string `json:"first_name"`
		LastName      string `json:"last_name"`
	} `json:"name"`
	Phones []struct {
		Phone string `json:"phone"`
		WaID  string `json:"wa_id"`
	} `json:"phones"`
}

type wireInteractive struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply"`
	ListReply *struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"list_reply"`
	NfmReply *struct {
		Name         string `json:"name"`
		Body         string `json:"body"`
		ResponseJSON string `json:"response_json"`
	} `json:"nfm_reply"`
}

type wireOrder struct {
	CatalogID    string `json:"catalog_id"`
	Text         string `json:"text"`
	ProductItems []struct {
		ProductRetailerID string          `json:"product_retailer_id"`
		Quantity          json.RawMessage `json:"quantity"`
	} `json:"product_items"`
}

type wireStatus struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"message_id"`
	MessageIDCamel string    `json:"messageId"`
	Status         string    `json:"status"`
	Timestamp      flexEpoch `json:"timestamp"`
	RecipientID    string    `json:"recipient_id"`
	Errors         []struct {
		Code    int    `json:"code"`
		Title   string `json:"title"`
		Message string `json:"message"`
	} `json:"errors"`
}

// flexEpoch accepts epoch seconds as a JSON string or number.
type flexEpoch string

func (e *flexEpoch) UnmarshalJSON(b []byte) error {
	*e = flexEpoch(unquote(b))
	return nil
}

// flexInt64 accepts an integer as a JSON string or number; anything else
// decodes as zero.
type flexInt64 int64

func (n *flexInt64) UnmarshalJSON(b []byte) error {
	i, err := strconv.ParseInt(unquote(b), 10, 64)
	if err != nil {
		i = 0
	}
	*n = flexInt64(i)
	return nil
}

func unquote(b []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}
