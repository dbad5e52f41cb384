package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/memohai/wagate/internal/media"
)

var fallbackKeys = []string{"text", "caption", "body", "title", "name"}

// Payload is a decoded webhook delivery.
type Payload struct {
	Messages []InboundEvent
	Statuses []StatusUpdate
}

// Empty reports whether nothing recognizable was found.
func (p Payload) Empty() bool {
	return len(p.Messages) == 0 && len(p.Statuses) == 0
}

// Parse decodes messages and statuses from a webhook body. Unrecognized or
// malformed structure yields an empty result, never an error.
func Parse(payload []byte) Payload {
	var out Payload
	for _, v := range values(payload) {
		names := contactNames(v.Contacts)
		for _, raw := range v.Messages {
			if ev, ok := parseMessage(raw); ok {
				ev.ContactName = names[ev.From]
				out.Messages = append(out.Messages, ev)
			}
		}
		for _, raw := range v.Statuses {
			if st, ok := parseStatus(raw); ok {
				out.Statuses = append(out.Statuses, st)
			}
		}
	}
	return out
}

// ParseIncoming returns the inbound messages of a webhook body.
func ParseIncoming(payload []byte) []InboundEvent {
	return Parse(payload).Messages
}

// ParseStatusUpdates returns the status notifications of a webhook body.
func ParseStatusUpdates(payload []byte) []StatusUpdate {
	return Parse(payload).Statuses
}

// values walks entry[].changes[].value, skipping any level that does not
// have the expected shape.
func values(payload []byte) []wireValue {
	var root struct {
		Entry []json.RawMessage `json:"entry"`
	}
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil
	}
	var out []wireValue
	for _, rawEntry := range root.Entry {
		var entry wireEntry
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			continue
		}
		for _, rawChange := range entry.Changes {
			var change wireChange
			if err := json.Unmarshal(rawChange, &change); err != nil || len(change.Value) == 0 {
				continue
			}
			var v wireValue
			if err := json.Unmarshal(change.Value, &v); err != nil {
				continue
			}
			out = append(out, v)
		}
	}
	return out
}

func contactNames(contacts []wireContact) map[string]string {
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if c.WaID != "" && strings.TrimSpace(c.Profile.Name) != "" {
			names[c.WaID] = strings.TrimSpace(c.Profile.Name)
		}
	}
	return names
}

func parseMessage(raw json.RawMessage) (InboundEvent, bool) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return InboundEvent{}, false
	}
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		// Keep the envelope so the event is still recorded.
		msg = wireMessage{}
		if err := json.Unmarshal(raw, &msg.wireHeader); err != nil {
			return InboundEvent{}, false
		}
	}
	ev := InboundEvent{
		From:              strings.TrimSpace(msg.From),
		Kind:              ParseKind(msg.Type),
		Type:              msg.Type,
		ProviderMessageID: strings.TrimSpace(msg.ID),
		Timestamp:         epochTime(string(msg.Timestamp)),
		Raw:               append(json.RawMessage(nil), raw...),
	}
	if msg.Context != nil {
		ev.ReplyToProviderMessageID = strings.TrimSpace(msg.Context.ID)
	}
	ev.Body, ev.Media = render(ev.Kind, &msg)
	if ev.Kind == KindReaction && ev.ReplyToProviderMessageID == "" && msg.Reaction != nil {
		ev.ReplyToProviderMessageID = msg.Reaction.MessageID
	}
	if ev.Body == "" && ev.Media == nil {
		ev.Body = fallbackBody(generic, msg.Type)
	}
	if ev.Body == "" && ev.Media == nil {
		ev.Body = fmt.Sprintf("Unsupported message type: %s", displayType(msg.Type))
	}
	return ev, true
}

// render produces the body or media descriptor for one message kind.
func render(kind MessageKind, msg *wireMessage) (string, *media.Descriptor) {
	switch kind {
	case KindText:
		if msg.Text != nil {
			return strings.TrimSpace(msg.Text.Body), nil
		}
	case KindImage:
		return mediaEvent(msg.Image, media.MediaTypeImage)
	case KindVideo:
		return mediaEvent(msg.Video, media.MediaTypeVideo)
	case KindAudio:
		return mediaEvent(msg.Audio, media.MediaTypeAudio)
	case KindDocument:
		return mediaEvent(msg.Document, media.MediaTypeDocument)
	case KindSticker:
		body, d := mediaEvent(msg.Sticker, media.MediaTypeImage)
		if body == "" {
			body = "🧩 Sticker"
		}
		return body, d
	case KindLocation:
		return locationSummary(msg.Location), nil
	case KindContacts:
		return contactsSummary(msg.Contacts), nil
	case KindInteractive:
		return interactiveSummary(msg.Interactive), nil
	case KindButton:
		if msg.Button != nil {
			return firstNonEmpty(msg.Button.Text, msg.Button.Payload, "Button reply"), nil
		}
	case KindReaction:
		if msg.Reaction != nil {
			if emoji := strings.TrimSpace(msg.Reaction.Emoji); emoji != "" {
				return "Reacted " + emoji, nil
			}
			return "Removed a reaction", nil
		}
	case KindOrder:
		return orderSummary(msg.Order), nil
	case KindSystem:
		if msg.System != nil {
			return firstNonEmpty(msg.System.Body, "System notification"), nil
		}
	default:
		return "", nil
	}
	return "", nil
}

func mediaEvent(w *wireMedia, t media.MediaType) (string, *media.Descriptor) {
	if w == nil {
		return "", nil
	}
	caption := strings.TrimSpace(w.Caption)
	link := firstNonEmpty(w.Link, w.URL)
	if strings.TrimSpace(w.ID) == "" && link == "" {
		return caption, nil
	}
	d := &media.Descriptor{
		Provider:  ProviderName,
		Type:      t,
		MediaID:   strings.TrimSpace(w.ID),
		URL:       link,
		MimeType:  media.NormalizeMime(w.MimeType),
		Filename:  strings.TrimSpace(w.Filename),
		SHA256:    strings.TrimSpace(w.SHA256),
		SizeBytes: int64(w.FileSize),
	}
	if w.Voice || w.Animated {
		d.Metadata = map[string]any{}
		if w.Voice {
			d.Metadata["voice"] = true
		}
		if w.Animated {
			d.Metadata["animated"] = true
		}
	}
	return caption, d
}

func locationSummary(loc *wireLocation) string {
	if loc == nil {
		return ""
	}
	var lines []string
	if name := strings.TrimSpace(loc.Name); name != "" {
		lines = append(lines, name)
	}
	if addr := strings.TrimSpace(loc.Address); addr != "" {
		lines = append(lines, addr)
	}
	if loc.Latitude != nil && loc.Longitude != nil {
		lines = append(lines, "https://maps.google.com/?q="+
			strconv.FormatFloat(*loc.Latitude, 'f', -1, 64)+","+
			strconv.FormatFloat(*loc.Longitude, 'f', -1, 64))
	}
	if len(lines) == 0 {
		return "📍 Location shared"
	}
	return "📍 " + strings.Join(lines, "\n")
}

func contactsSummary(cards []wireCard) string {
	if len(cards) == 0 {
		return ""
	}
	parts := make([]string, 0, len(cards))
	for _, c := range cards {
		name := firstNonEmpty(c.Name.FormattedName,
			strings.TrimSpace(c.Name.FirstName+" "+c.Name.LastName))
		phone := ""
		if len(c.Phones) > 0 {
			phone = firstNonEmpty(c.Phones[0].Phone, c.Phones[0].WaID)
		}
		switch {
		case name != "" && phone != "":
			parts = append(parts, fmt.Sprintf("%s (%s)", name, phone))
		case name != "":
			parts = append(parts, name)
		case phone != "":
			parts = append(parts, phone)
		}
	}
	if len(parts) == 0 {
		return "👤 Contact shared"
	}
	return "👤 " + strings.Join(parts, ", ")
}

func interactiveSummary(in *wireInteractive) string {
	if in == nil {
		return ""
	}
	switch in.Type {
	case "button_reply":
		if in.ButtonReply != nil {
			return firstNonEmpty(in.ButtonReply.Title, in.ButtonReply.ID, "Button reply")
		}
	case "list_reply":
		if in.ListReply != nil {
			title := firstNonEmpty(in.ListReply.Title, in.ListReply.ID)
			if desc := strings.TrimSpace(in.ListReply.Description); desc != "" && title != "" {
				return title + " - " + desc
			}
			return firstNonEmpty(title, "List reply")
		}
	case "nfm_reply":
		if in.NfmReply != nil {
			return firstNonEmpty(in.NfmReply.Body, in.NfmReply.Name, "Form submitted")
		}
	}
	return "Interactive reply"
}

func orderSummary(o *wireOrder) string {
	if o == nil {
		return ""
	}
	n := len(o.ProductItems)
	noun := "items"
	if n == 1 {
		noun = "item"
	}
	body := fmt.Sprintf("🛒 Order with %d %s", n, noun)
	if text := strings.TrimSpace(o.Text); text != "" {
		body += "\n" + text
	}
	return body
}

// fallbackBody tries text, caption, body, title and name, first on the
// message itself and then inside the object named by its type tag.
func fallbackBody(msg map[string]any, typ string) string {
	scopes := []map[string]any{msg}
	if nested, ok := msg[typ].(map[string]any); ok && typ != "" {
		scopes = append(scopes, nested)
	}
	for _, key := range fallbackKeys {
		for _, scope := range scopes {
			switch v := scope[key].(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" {
					return s
				}
			case map[string]any:
				if s, ok := v["body"].(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	return ""
}

func parseStatus(raw json.RawMessage) (StatusUpdate, bool) {
	var st wireStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return StatusUpdate{}, false
	}
	id := firstNonEmpty(st.ID, st.MessageID, st.MessageIDCamel)
	status := strings.ToLower(strings.TrimSpace(st.Status))
	if id == "" || status == "" {
		return StatusUpdate{}, false
	}
	out := StatusUpdate{
		ProviderMessageID: id,
		Status:            status,
		Timestamp:         isoTimestamp(string(st.Timestamp)),
		RecipientID:       strings.TrimSpace(st.RecipientID),
	}
	for _, e := range st.Errors {
		if title := firstNonEmpty(e.Title, e.Message); title != "" {
			out.Errors = append(out.Errors, title)
		}
	}
	return out, true
}

func epochTime(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// isoTimestamp converts epoch seconds to RFC 3339. Values that are not epoch
// seconds are passed through unchanged.
func isoTimestamp(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if t := epochTime(raw); !t.IsZero() {
		return t.Format(time.RFC3339)
	}
	return raw
}

func displayType(t string) string {
	if strings.TrimSpace(t) == "" {
		return "unknown"
	}
	return t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
