package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/memohai/wagate/internal/webhook"
)

const webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

// WebhookService is the provider webhook orchestrator.
type WebhookService interface {
	HandleVerification(ctx context.Context, query url.Values) webhook.Result
	HandleDelivery(ctx context.Context, headers http.Header, rawBody []byte, query url.Values) webhook.Result
}

// WebhookHandler exposes the WhatsApp webhook endpoint.
type WebhookHandler struct {
	logger  *slog.Logger
	service WebhookService
}

func NewWebhookHandler(log *slog.Logger, service WebhookService) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:  log.With(slog.String("handler", "whatsapp_webhook")),
		service: service,
	}
}

// NewWebhookServerHandler is the fx constructor taking the concrete service.
func NewWebhookServerHandler(log *slog.Logger, service *webhook.Service) *WebhookHandler {
	return NewWebhookHandler(log, service)
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhooks/whatsapp", h.Verify)
	e.POST("/webhooks/whatsapp", h.Receive)
}

// Verify answers the subscription handshake.
func (h *WebhookHandler) Verify(c echo.Context) error {
	res := h.service.HandleVerification(c.Request().Context(), c.QueryParams())
	return writeResult(c, res)
}

// Receive reads the raw body untouched so the signature can be checked.
func (h *WebhookHandler) Receive(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		h.logger.Warn("read webhook body failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}
	res := h.service.HandleDelivery(c.Request().Context(), c.Request().Header, payload, c.QueryParams())
	return writeResult(c, res)
}

func writeResult(c echo.Context, res webhook.Result) error {
	contentType := res.ContentType
	if contentType == "" {
		contentType = echo.MIMETextPlainCharsetUTF8
	}
	return c.Blob(res.Status, contentType, []byte(res.Body))
}
