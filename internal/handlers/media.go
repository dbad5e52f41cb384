package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/wagate/internal/config"
	"github.com/memohai/wagate/internal/media"
	"github.com/memohai/wagate/internal/media/providers/localfs"
	"github.com/memohai/wagate/internal/signedurl"
)

// MediaHandler serves stored media under media.URLPrefix, gated by signed
// URLs when they are required.
type MediaHandler struct {
	logger  *slog.Logger
	storage media.StorageProvider
	signer  *signedurl.Signer
	layout  media.Layout
	maxAge  time.Duration
}

func NewMediaHandler(log *slog.Logger, storage media.StorageProvider, signer *signedurl.Signer, maxAge time.Duration) *MediaHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MediaHandler{
		logger:  log.With(slog.String("handler", "media")),
		storage: storage,
		signer:  signer,
		maxAge:  maxAge,
	}
}

// NewMediaServerHandler is the fx constructor.
func NewMediaServerHandler(log *slog.Logger, cfg config.Config, storage *localfs.Provider, signer *signedurl.Signer) *MediaHandler {
	return NewMediaHandler(log, storage, signer, cfg.Media.CacheMaxAge)
}

func (h *MediaHandler) Register(e *echo.Echo) {
	e.GET(media.URLPrefix+"/*", h.Serve)
	e.HEAD(media.URLPrefix+"/*", h.Serve)
}

// Serve streams one stored file.
func (h *MediaHandler) Serve(c echo.Context) error {
	req := c.Request()
	if h.signer != nil {
		verdict := h.signer.Verify(req.URL.Path, req.URL.Query())
		if !verdict.Valid {
			return echo.NewHTTPError(verdict.Status, verdict.Message)
		}
	}
	key, err := h.layout.KeyFromURL(req.URL.Path)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "media not found")
	}
	rc, err := h.storage.Open(req.Context(), key)
	if err != nil {
		if errors.Is(err, media.ErrAssetNotFound) || errors.Is(err, media.ErrPathTraversal) {
			return echo.NewHTTPError(http.StatusNotFound, "media not found")
		}
		h.logger.Error("open media failed", slog.String("key", key), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open media")
	}
	defer rc.Close()

	contentType := media.MimeForExtension(path.Ext(key))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	header := c.Response().Header()
	header.Set(echo.HeaderCacheControl, fmt.Sprintf("private, max-age=%d", int(h.maxAge.Seconds())))
	header.Set(echo.HeaderXContentTypeOptions, "nosniff")
	if strings.HasPrefix(contentType, "image/") || contentType == "application/pdf" {
		header.Set(echo.HeaderContentDisposition, "inline")
	} else {
		header.Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	}
	if req.Method == http.MethodHead {
		return c.NoContent(http.StatusOK)
	}
	return c.Stream(http.StatusOK, contentType, rc)
}
