package whatsapp

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/wagate/internal/media"
)

func wrapMessages(messages string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "waba-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"contacts": [{"wa_id": "15550001111", "profile": {"name": "Ada"}}],
					"messages": [%s]
				}
			}]
		}]
	}`, messages))
}

func TestParseIncoming_EmptyShapes(t *testing.T) {
	t.Parallel()

	payloads := []string{
		``,
		`null`,
		`not json`,
		`[]`,
		`{}`,
		`{"entry": null}`,
		`{"entry": {}}`,
		`{"entry": [1, "x", null]}`,
		`{"entry": [{}]}`,
		`{"entry": [{"changes": "nope"}]}`,
		`{"entry": [{"changes": [{}]}]}`,
		`{"entry": [{"changes": [{"value": null}]}]}`,
		`{"entry": [{"changes": [{"value": {"messages": {}}}]}]}`,
		`{"entry": [{"changes": [{"value": {"messages": []}}]}]}`,
		`{"entry": [{"changes": [{"value": {"messages": [42]}}]}]}`,
	}
	for _, p := range payloads {
		p := p
		t.Run(p, func(t *testing.T) {
			t.Parallel()
			assert.NotPanics(t, func() {
				assert.Empty(t, ParseIncoming([]byte(p)))
				assert.Empty(t, ParseStatusUpdates([]byte(p)))
				assert.True(t, Parse([]byte(p)).Empty())
			})
		})
	}
}

func TestParseIncoming_DispatchTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		message   string
		kind      MessageKind
		body      string
		mediaType media.MediaType
	}{
		{
			name:    "text",
			message: `{"from":"15550001111","id":"wamid.1","timestamp":"1700000000","type":"text","text":{"body":"hello"}}`,
			kind:    KindText,
			body:    "hello",
		},
		{
			name:      "image",
			message:   `{"from":"15550001111","id":"wamid.2","type":"image","image":{"id":"m1","mime_type":"image/jpeg","sha256":"abc","caption":"look"}}`,
			kind:      KindImage,
			body:      "look",
			mediaType: media.MediaTypeImage,
		},
		{
			name:      "video",
			message:   `{"from":"15550001111","id":"wamid.3","type":"video","video":{"id":"m2","mime_type":"video/mp4"}}`,
			kind:      KindVideo,
			mediaType: media.MediaTypeVideo,
		},
		{
			name:      "audio",
			message:   `{"from":"15550001111","id":"wamid.4","type":"audio","audio":{"id":"m3","mime_type":"audio/ogg; codecs=opus","voice":true}}`,
			kind:      KindAudio,
			mediaType: media.MediaTypeAudio,
		},
		{
			name:      "document",
			message:   `{"from":"15550001111","id":"wamid.5","type":"document","document":{"id":"m4","mime_type":"application/pdf","filename":"report.pdf"}}`,
			kind:      KindDocument,
			mediaType: media.MediaTypeDocument,
		},
		{
			name:      "sticker",
			message:   `{"from":"15550001111","id":"wamid.6","type":"sticker","sticker":{"id":"m5","mime_type":"image/webp","animated":false}}`,
			kind:      KindSticker,
			body:      "🧩 Sticker",
			mediaType: media.MediaTypeImage,
		},
		{
			name:    "location",
			message: `{"from":"15550001111","id":"wamid.7","type":"location","location":{"latitude":52.52,"longitude":13.405,"name":"Office","address":"Main St 1"}}`,
			kind:    KindLocation,
			body:    "📍 Office\nMain St 1\nhttps://maps.google.com/?q=52.52,13.405",
		},
		{
			name:    "contacts",
			message: `{"from":"15550001111","id":"wamid.8","type":"contacts","contacts":[{"name":{"formatted_name":"Grace Hopper"},"phones":[{"phone":"+1 555 0100"}]}]}`,
			kind:    KindContacts,
			body:    "👤 Grace Hopper (+1 555 0100)",
		},
		{
			name:    "interactive button reply",
			message: `{"from":"15550001111","id":"wamid.9","type":"interactive","interactive":{"type":"button_reply","button_reply":{"id":"yes","title":"Yes please"}}}`,
			kind:    KindInteractive,
			body:    "Yes please",
		},
		{
			name:    "interactive list reply",
			message: `{"from":"15550001111","id":"wamid.10","type":"interactive","interactive":{"type":"list_reply","list_reply":{"id":"opt-1","title":"Small","description":"10 cm"}}}`,
			kind:    KindInteractive,
			body:    "Small - 10 cm",
		},
		{
			name:    "interactive flow reply",
			message: `{"from":"15550001111","id":"wamid.11","type":"interactive","interactive":{"type":"nfm_reply","nfm_reply":{"name":"flow","body":"Sent","response_json":"{}"}}}`,
			kind:    KindInteractive,
			body:    "Sent",
		},
		{
			name:    "interactive unknown subtype",
			message: `{"from":"15550001111","id":"wamid.12","type":"interactive","interactive":{"type":"carousel"}}`,
			kind:    KindInteractive,
			body:    "Interactive reply",
		},
		{
			name:    "button",
			message: `{"from":"15550001111","id":"wamid.13","type":"button","button":{"text":"Stop promotions","payload":"STOP"}}`,
			kind:    KindButton,
			body:    "Stop promotions",
		},
		{
			name:    "reaction",
			message: `{"from":"15550001111","id":"wamid.14","type":"reaction","reaction":{"message_id":"wamid.0","emoji":"👍"}}`,
			kind:    KindReaction,
			body:    "Reacted 👍",
		},
		{
			name:    "order",
			message: `{"from":"15550001111","id":"wamid.15","type":"order","order":{"catalog_id":"c1","text":"asap","product_items":[{"product_retailer_id":"p1","quantity":2},{"product_retailer_id":"p2","quantity":"1"}]}}`,
			kind:    KindOrder,
			body:    "🛒 Order with 2 items\nasap",
		},
		{
			name:    "system",
			message: `{"from":"15550001111","id":"wamid.16","type":"system","system":{"body":"User changed number","type":"user_changed_number"}}`,
			kind:    KindSystem,
			body:    "User changed number",
		},
		{
			name:    "unknown",
			message: `{"from":"15550001111","id":"wamid.17","type":"ephemeral"}`,
			kind:    KindUnsupported,
			body:    "Unsupported message type: ephemeral",
		},
		{
			name:    "unknown with fallback body",
			message: `{"from":"15550001111","id":"wamid.18","type":"poll","poll":{"title":"Lunch?"}}`,
			kind:    KindUnsupported,
			body:    "Lunch?",
		},
		{
			name:    "text missing payload falls back to caption",
			message: `{"from":"15550001111","id":"wamid.19","type":"text","caption":"from caption"}`,
			kind:    KindText,
			body:    "from caption",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			events := ParseIncoming(wrapMessages(tt.message))
			require.Len(t, events, 1)
			ev := events[0]
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, "15550001111", ev.From)
			assert.Equal(t, "Ada", ev.ContactName)
			assert.NotEmpty(t, ev.ProviderMessageID)
			assert.NotEmpty(t, ev.Raw)
			assert.True(t, ev.Body != "" || ev.Media != nil, "event must carry a body or media")
			if tt.body != "" {
				assert.Equal(t, tt.body, ev.Body)
			}
			if tt.mediaType != "" {
				require.NotNil(t, ev.Media)
				assert.Equal(t, tt.mediaType, ev.Media.Type)
				assert.Equal(t, ProviderName, ev.Media.Provider)
				assert.NotEmpty(t, ev.Media.MediaID)
			} else {
				assert.Nil(t, ev.Media)
			}
		})
	}
}

func TestParseIncoming_Details(t *testing.T) {
	t.Parallel()

	events := ParseIncoming(wrapMessages(`
		{"from":"15550001111","id":"wamid.a","timestamp":"1700000000","type":"text","text":{"body":"hi"},"context":{"id":"wamid.prev","from":"15559990000"}},
		{"from":"15550002222","id":"wamid.b","timestamp":1700000060,"type":"audio","audio":{"id":"m3","mime_type":"audio/ogg; codecs=opus","voice":true,"file_size":"2048"}},
		{"from":"15550001111","id":"wamid.c","type":"reaction","reaction":{"message_id":"wamid.a","emoji":""}}
	`))
	require.Len(t, events, 3)

	assert.Equal(t, "wamid.prev", events[0].ReplyToProviderMessageID)
	assert.Equal(t, int64(1700000000), events[0].Timestamp.Unix())

	audio := events[1]
	assert.Empty(t, audio.ContactName)
	assert.Equal(t, int64(1700000060), audio.Timestamp.Unix())
	require.NotNil(t, audio.Media)
	assert.Equal(t, "audio/ogg", audio.Media.MimeType)
	assert.Equal(t, int64(2048), audio.Media.SizeBytes)
	assert.Equal(t, true, audio.Media.Metadata["voice"])

	assert.Equal(t, "Removed a reaction", events[2].Body)
	assert.Equal(t, "wamid.a", events[2].ReplyToProviderMessageID)
}

func TestParseIncoming_MalformedFieldKeepsEnvelope(t *testing.T) {
	t.Parallel()

	events := ParseIncoming(wrapMessages(`{"from":"15550001111","id":"wamid.x","type":"text","text":"bare string"}`))
	require.Len(t, events, 1)
	assert.Equal(t, "wamid.x", events[0].ProviderMessageID)
	assert.Equal(t, "bare string", events[0].Body)
}

func TestParseIncoming_MediaWithoutReference(t *testing.T) {
	t.Parallel()

	events := ParseIncoming(wrapMessages(`{"from":"1","id":"wamid.y","type":"image","image":{"mime_type":"image/png"}}`))
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Media)
	assert.True(t, strings.HasPrefix(events[0].Body, "Unsupported message type: image"))
}

func TestParseStatusUpdates(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"entry": [{
			"changes": [{
				"value": {
					"statuses": [
						{"id": "wamid.1", "status": "delivered", "timestamp": "1700000000", "recipient_id": "15550001111"},
						{"message_id": "wamid.2", "status": "READ", "timestamp": 1700000005},
						{"messageId": "wamid.3", "status": "sent"},
						{"id": "", "message_id": "wamid.4", "status": "failed", "errors": [{"code": 131026, "title": "Message undeliverable"}]},
						{"id": "wamid.5"},
						{"status": "sent"},
						"garbage"
					]
				}
			}]
		}]
	}`)
	got := ParseStatusUpdates(payload)
	require.Len(t, got, 4)

	assert.Equal(t, StatusUpdate{
		ProviderMessageID: "wamid.1",
		Status:            "delivered",
		Timestamp:         "2023-11-14T22:13:20Z",
		RecipientID:       "15550001111",
	}, got[0])
	assert.Equal(t, "wamid.2", got[1].ProviderMessageID)
	assert.Equal(t, "read", got[1].Status)
	assert.Equal(t, "2023-11-14T22:13:25Z", got[1].Timestamp)
	assert.Equal(t, "wamid.3", got[2].ProviderMessageID)
	assert.Empty(t, got[2].Timestamp)
	assert.Equal(t, "wamid.4", got[3].ProviderMessageID)
	assert.Equal(t, []string{"Message undeliverable"}, got[3].Errors)

	assert.Empty(t, ParseIncoming(payload))
}

func TestParseKind(t *testing.T) {
	t.Parallel()
	assert.Equal(t, KindText, ParseKind("TEXT"))
	assert.Equal(t, KindUnsupported, ParseKind("unknown"))
	assert.Equal(t, KindUnsupported, ParseKind(""))
}
