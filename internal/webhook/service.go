// Package webhook turns verified provider deliveries into stored messages,
// status changes and media ingestion jobs.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/memohai/wagate/internal/media"
	"github.com/memohai/wagate/internal/message"
	"github.com/memohai/wagate/internal/message/event"
	"github.com/memohai/wagate/internal/prune"
	"github.com/memohai/wagate/internal/signedurl"
	"github.com/memohai/wagate/internal/whatsapp"
)

const (
	bodyAccepted      = "EVENT_RECEIVED"
	bodyInternal      = "Internal Server Error"
	contentTypeText   = "text/plain; charset=utf-8"
	auditWriteTimeout = 5 * time.Second
)

var errMalformedEvent = errors.New("malformed event")

// Config holds the provider credentials used at the webhook boundary.
type Config struct {
	AppSecret   string
	VerifyToken string
}

// Result is the HTTP response computed for one webhook request.
type Result struct {
	Status      int
	Body        string
	ContentType string
}

func textResult(status int, body string) Result {
	return Result{Status: status, Body: body, ContentType: contentTypeText}
}

// MediaEnqueuer dispatches media ingestion without waiting for it.
type MediaEnqueuer interface {
	Enqueue(req media.IngestRequest)
}

// StatusChange is the payload of a message_status event.
type StatusChange struct {
	MessageID         string         `json:"message_id"`
	ConversationID    string         `json:"conversation_id"`
	ProviderMessageID string         `json:"provider_message_id"`
	Status            message.Status `json:"status"`
	Timestamp         string         `json:"timestamp,omitempty"`
	Errors            []string       `json:"errors,omitempty"`
}

// MediaUpdate is the payload of a message_media_updated event.
type MediaUpdate struct {
	MessageID      string              `json:"message_id"`
	ConversationID string              `json:"conversation_id"`
	Media          *media.MessageMedia `json:"media"`
}

// Service handles WhatsApp webhook verification and event delivery.
type Service struct {
	cfg       Config
	store     message.Store
	publisher event.Publisher
	pipeline  MediaEnqueuer
	source    media.ProviderClient
	signer    *signedurl.Signer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates the webhook orchestrator.
func NewService(log *slog.Logger, cfg Config, store message.Store, publisher event.Publisher, pipeline MediaEnqueuer, source media.ProviderClient, signer *signedurl.Signer) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		pipeline:  pipeline,
		source:    source,
		signer:    signer,
		logger:    log.With(slog.String("service", "webhook")),
		now:       time.Now,
	}
}

// HandleVerification answers the provider's subscription challenge.
func (s *Service) HandleVerification(ctx context.Context, query url.Values) Result {
	var res Result
	switch {
	case s.cfg.VerifyToken == "":
		s.logger.Error("webhook verification requested but no verify token is configured")
		res = textResult(http.StatusInternalServerError, "Webhook verify token is not configured")
	case subtle.ConstantTimeCompare([]byte(query.Get("hub.verify_token")), []byte(s.cfg.VerifyToken)) == 1:
		s.logger.Info("webhook verified", slog.String("mode", query.Get("hub.mode")))
		res = textResult(http.StatusOK, query.Get("hub.challenge"))
	default:
		s.logger.Warn("webhook verification failed", slog.String("mode", query.Get("hub.mode")))
		res = textResult(http.StatusForbidden, "Forbidden")
	}
	s.audit(ctx, http.MethodGet, nil, query, nil, res, "")
	return res
}

// HandleDelivery verifies, parses and applies one event delivery. Status
// updates are applied before messages. Each message is processed on its own;
// a failure is logged and the rest of the batch continues, but a failure to
// store one answers 500 so the provider redelivers.
func (s *Service) HandleDelivery(ctx context.Context, headers http.Header, rawBody []byte, query url.Values) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			s.logger.Error("webhook delivery panicked", slog.Any("panic", r), slog.String("stack", stack))
			res = textResult(http.StatusInternalServerError, bodyInternal)
			s.audit(ctx, http.MethodPost, headers, query, rawBody, res, fmt.Sprintf("panic: %v\n%s", r, stack))
		}
	}()

	if !whatsapp.VerifySignature(s.cfg.AppSecret, headers, rawBody) {
		s.logger.Warn("webhook signature rejected", slog.Int("body_bytes", len(rawBody)))
		res = textResult(http.StatusUnauthorized, "Invalid signature")
		s.audit(ctx, http.MethodPost, headers, query, rawBody, res, "invalid signature")
		return res
	}

	payload := whatsapp.Parse(rawBody)
	if payload.Empty() {
		res = textResult(http.StatusOK, bodyAccepted)
		s.audit(ctx, http.MethodPost, headers, query, rawBody, res, "")
		return res
	}

	if err := s.applyStatuses(ctx, payload.Statuses); err != nil {
		s.logger.Error("apply status updates failed", slog.Any("error", err))
		res = textResult(http.StatusInternalServerError, bodyInternal)
		s.audit(ctx, http.MethodPost, headers, query, rawBody, res, err.Error())
		return res
	}

	var failures []string
	for _, ev := range payload.Messages {
		if err := s.ingestMessage(ctx, ev); err != nil {
			s.logger.Error("ingest message failed",
				slog.String("provider_message_id", ev.ProviderMessageID),
				slog.String("from", ev.From),
				slog.Any("error", err),
			)
			if !errors.Is(err, errMalformedEvent) {
				failures = append(failures, fmt.Sprintf("%s: %v", ev.ProviderMessageID, err))
			}
		}
	}
	if len(failures) > 0 {
		res = textResult(http.StatusInternalServerError, bodyInternal)
		s.audit(ctx, http.MethodPost, headers, query, rawBody, res, strings.Join(failures, "; "))
		return res
	}

	res = textResult(http.StatusOK, bodyAccepted)
	s.audit(ctx, http.MethodPost, headers, query, rawBody, res, "")
	return res
}

func (s *Service) applyStatuses(ctx context.Context, updates []whatsapp.StatusUpdate) error {
	for _, up := range updates {
		logger := s.logger.With(
			slog.String("provider_message_id", up.ProviderMessageID),
			slog.String("status", up.Status),
		)
		next, ok := message.ParseDeliveryStatus(up.Status)
		if !ok {
			logger.Debug("ignoring unknown status")
			continue
		}
		m, err := s.store.GetMessageByProviderMessageID(ctx, up.ProviderMessageID)
		if errors.Is(err, message.ErrNotFound) {
			logger.Debug("status for unknown message")
			continue
		}
		if err != nil {
			return fmt.Errorf("load message %s: %w", up.ProviderMessageID, err)
		}
		if m.Direction != message.DirectionOutbound {
			logger.Debug("status for inbound message ignored")
			continue
		}
		if !CanTransition(m.Status, next) {
			logger.Debug("status transition rejected", slog.String("current", string(m.Status)))
			continue
		}
		if err := s.store.UpdateMessageStatus(ctx, m.ID, next); err != nil {
			return fmt.Errorf("update status of %s: %w", m.ID, err)
		}
		if next == message.StatusFailed && len(up.Errors) > 0 {
			logger.Warn("provider reported delivery failure", slog.Any("errors", up.Errors))
		}
		s.publish(event.MessageStatus, StatusChange{
			MessageID:         m.ID,
			ConversationID:    m.ConversationID,
			ProviderMessageID: up.ProviderMessageID,
			Status:            next,
			Timestamp:         up.Timestamp,
			Errors:            up.Errors,
		})
	}
	return nil
}

func (s *Service) ingestMessage(ctx context.Context, ev whatsapp.InboundEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("ingest message panicked",
				slog.String("provider_message_id", ev.ProviderMessageID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: panic: %v", errMalformedEvent, r)
		}
	}()

	if ev.From == "" {
		return fmt.Errorf("%w: missing sender", errMalformedEvent)
	}
	logger := s.logger.With(
		slog.String("provider_message_id", ev.ProviderMessageID),
		slog.String("kind", string(ev.Kind)),
	)
	if ev.ProviderMessageID != "" {
		_, err := s.store.GetMessageByProviderMessageID(ctx, ev.ProviderMessageID)
		if err == nil {
			logger.Info("duplicate delivery skipped")
			return nil
		}
		if !errors.Is(err, message.ErrNotFound) {
			return fmt.Errorf("dedup lookup: %w", err)
		}
	}

	conv, err := s.resolveConversation(ctx, ev)
	if err != nil {
		return err
	}
	logger = logger.With(slog.String("conversation_id", conv.ID))

	now := s.now()
	var placeholder *media.MessageMedia
	if ev.Media != nil {
		placeholder = media.NewPlaceholder(*ev.Media, now)
	}
	created, err := s.store.CreateMessage(ctx, message.Message{
		ConversationID:    conv.ID,
		Direction:         message.DirectionInbound,
		Body:              ev.Body,
		Media:             placeholder,
		ProviderMessageID: ev.ProviderMessageID,
		Status:            message.StatusReceived,
		ReplyToMessageID:  s.resolveReply(ctx, conv.ID, ev.ReplyToProviderMessageID),
		Raw:               ev.Raw,
		CreatedAt:         now,
	})
	if errors.Is(err, message.ErrDuplicate) {
		logger.Info("duplicate delivery skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	if err := s.store.TouchConversation(ctx, conv.ID, now, 1); err != nil {
		logger.Warn("touch conversation failed", slog.Any("error", err))
	}

	s.publish(event.MessageIncoming, s.signedMessage(created))

	if ev.Media != nil && s.pipeline != nil {
		s.pipeline.Enqueue(media.IngestRequest{
			MessageID:      created.ID,
			ConversationID: conv.ID,
			Descriptor:     *ev.Media,
			Source:         s.source,
			OnStatusChange: s.OnMediaStatus,
		})
	}
	logger.Info("inbound message stored", slog.String("message_id", created.ID))
	return nil
}

func (s *Service) resolveConversation(ctx context.Context, ev whatsapp.InboundEvent) (message.Conversation, error) {
	conv, err := s.store.GetConversationByPhone(ctx, ev.From)
	if errors.Is(err, message.ErrNotFound) {
		conv, err = s.store.CreateConversation(ctx, message.Conversation{
			Phone:       ev.From,
			ContactName: ev.ContactName,
		})
	}
	if err != nil {
		return message.Conversation{}, fmt.Errorf("resolve conversation: %w", err)
	}
	if conv.Archived {
		if err := s.store.SetConversationArchived(ctx, conv.ID, false); err != nil {
			return message.Conversation{}, fmt.Errorf("unarchive conversation: %w", err)
		}
		conv.Archived = false
	}
	return conv, nil
}

// resolveReply maps a provider reply target to a local id in the same
// conversation. Anything else resolves to "".
func (s *Service) resolveReply(ctx context.Context, conversationID, providerMessageID string) string {
	if providerMessageID == "" {
		return ""
	}
	target, err := s.store.GetMessageByProviderMessageID(ctx, providerMessageID)
	if err != nil || target.ConversationID != conversationID {
		return ""
	}
	return target.ID
}

// OnMediaStatus broadcasts a media state change. It is passed to the
// pipeline and the stale media sweeper.
func (s *Service) OnMediaStatus(_ context.Context, messageID, conversationID string, m *media.MessageMedia) {
	s.publish(event.MessageMediaUpdated, MediaUpdate{
		MessageID:      messageID,
		ConversationID: conversationID,
		Media:          s.signedMedia(m),
	})
}

func (s *Service) signedMessage(m message.Message) message.Message {
	out := m.Clone()
	out.Media = s.signedMedia(out.Media)
	return out
}

func (s *Service) signedMedia(m *media.MessageMedia) *media.MessageMedia {
	if m == nil || s.signer == nil {
		return m
	}
	out := m.Clone()
	if err := s.signer.SignAll(&out.URL, &out.ThumbnailURL, &out.PreviewURL); err != nil {
		s.logger.Error("sign media urls failed", slog.Any("error", err))
		out.URL, out.ThumbnailURL, out.PreviewURL = "", "", ""
	}
	return out
}

func (s *Service) publish(t event.Type, data any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(event.Event{Event: t, Data: data})
}

func (s *Service) audit(ctx context.Context, method string, headers http.Header, query url.Values, body []byte, res Result, errMsg string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	err := s.store.LogWebhookEvent(ctx, message.WebhookEvent{
		Provider:       whatsapp.ProviderName,
		Method:         method,
		Headers:        redactHeaders(headers),
		Query:          query,
		Body:           string(body),
		ResponseStatus: res.Status,
		ResponseBody:   res.Body,
		Error:          prune.HeadTail(errMsg, prune.Config{}),
		CreatedAt:      s.now(),
	})
	if err != nil {
		s.logger.Error("write webhook audit record failed", slog.Any("error", err))
	}
}

func redactHeaders(h http.Header) map[string][]string {
	if h == nil {
		return nil
	}
	out := h.Clone()
	for _, key := range []string{"Authorization", "Cookie"} {
		if _, ok := out[key]; ok {
			out[key] = []string{"[redacted]"}
		}
	}
	return out
}
