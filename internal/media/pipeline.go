package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

const terminalPersistTimeout = 10 * time.Second

// PipelineConfig carries the operator limits for media ingestion.
type PipelineConfig struct {
	MaxOriginalBytes int64
	Retry            RetryPolicy
	Thumbnail        ThumbnailOptions
	// IngestTimeout bounds one detached ingestion started by Enqueue.
	IngestTimeout time.Duration
}

// IngestRequest describes one ingestion of a message's media.
type IngestRequest struct {
	MessageID      string
	ConversationID string
	Descriptor     Descriptor
	Source         ProviderClient
	OnStatusChange StatusCallback
}

// Pipeline downloads provider media, stores the original, renders thumbnails
// and records the outcome on the owning message.
type Pipeline struct {
	store       Store
	storage     StorageProvider
	layout      Layout
	thumbnailer Thumbnailer
	cfg         PipelineConfig
	logger      *slog.Logger
	now         func() time.Time
	sleep       sleepFunc
	inflight    sync.WaitGroup
}

// PipelineOption customises a Pipeline.
type PipelineOption func(*Pipeline)

// WithThumbnailer replaces the default imaging-based thumbnailer.
func WithThumbnailer(t Thumbnailer) PipelineOption {
	return func(p *Pipeline) { p.thumbnailer = t }
}

// WithClock overrides the clock used for timestamps and storage layout.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline creates a media ingestion pipeline.
func NewPipeline(log *slog.Logger, store Store, storage StorageProvider, cfg PipelineConfig, opts ...PipelineOption) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxOriginalBytes <= 0 {
		cfg.MaxOriginalBytes = DefaultMaxOriginalBytes
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Thumbnail.MaxWidth <= 0 {
		cfg.Thumbnail.MaxWidth = 480
	}
	if cfg.Thumbnail.MaxHeight <= 0 {
		cfg.Thumbnail.MaxHeight = 480
	}
	p := &Pipeline{
		store:       store,
		storage:     storage,
		thumbnailer: ImagingThumbnailer{},
		cfg:         cfg,
		logger:      log.With(slog.String("service", "media_pipeline")),
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue runs Ingest on its own goroutine and returns immediately. The
// request context is not inherited; the task is bounded by IngestTimeout.
func (p *Pipeline) Enqueue(req IngestRequest) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		ctx := context.Background()
		if p.cfg.IngestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.cfg.IngestTimeout)
			defer cancel()
		}
		p.Ingest(ctx, req)
	}()
}

// Wait blocks until all enqueued ingestions finish or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ingest performs one ingestion attempt. Failures are recorded on the media
// record and logged; nothing is returned to the caller and the owning message
// is never rolled back.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) {
	logger := p.logger.With(
		slog.String("message_id", req.MessageID),
		slog.String("conversation_id", req.ConversationID),
		slog.String("media_id", req.Descriptor.MediaID),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("media ingestion panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	current, found, err := p.store.MessageMedia(ctx, req.MessageID)
	if err != nil {
		logger.Error("load message media failed", slog.Any("error", err))
		return
	}
	if !found {
		logger.Info("message no longer exists, skipping media ingestion")
		return
	}
	if current != nil && current.Status == StatusReady &&
		current.ProviderMediaID != "" && current.ProviderMediaID == req.Descriptor.MediaID {
		logger.Debug("media already ready, skipping")
		return
	}

	m := current.Clone()
	if m == nil {
		m = &MessageMedia{}
	}
	mergeDescriptor(m, req.Descriptor)
	m.DownloadAttempts++
	m.DownloadError = ""
	m.Status = StatusProcessing
	m.UpdatedAt = p.now()
	if err := p.persist(ctx, req, m); err != nil {
		logger.Error("persist processing state failed", slog.Any("error", err))
		return
	}

	written, err := p.process(ctx, req, m, logger)
	if err != nil {
		if len(written) > 0 {
			p.removeAll(written, logger)
			m.dropStoredFiles()
		}
		m.Status = StatusFailed
		m.DownloadError = describeFailure(err)
		m.UpdatedAt = p.now()
		logger.Warn("media ingestion failed", slog.Any("error", err))
		if perr := p.persistTerminal(ctx, req, m); perr != nil {
			logger.Error("persist failed state failed", slog.Any("error", perr))
		}
		return
	}

	m.Status = StatusReady
	m.DownloadError = ""
	m.UpdatedAt = p.now()
	if err := p.persistTerminal(ctx, req, m); err != nil {
		logger.Error("persist ready state failed", slog.Any("error", err))
		return
	}
	logger.Info("media ingested",
		slog.String("path", m.Storage.OriginalPath),
		slog.Int64("size_bytes", m.SizeBytes),
	)
}

func (p *Pipeline) process(ctx context.Context, req IngestRequest, m *MessageMedia, logger *slog.Logger) ([]string, error) {
	if req.Source == nil {
		return nil, Permanent(errors.New("no media provider client configured"))
	}
	if p.storage == nil {
		return nil, Permanent(ErrProviderUnavailable)
	}
	d := req.Descriptor
	maxBytes := p.cfg.MaxOriginalBytes
	if err := CheckDeclaredSize(d.SizeBytes, maxBytes); err != nil {
		return nil, err
	}

	remote := RemoteMedia{
		ID:        d.MediaID,
		URL:       d.URL,
		MimeType:  d.MimeType,
		SHA256:    d.SHA256,
		SizeBytes: d.SizeBytes,
	}
	switch {
	case d.MediaID != "":
		err := retry(ctx, p.cfg.Retry, p.sleep, logger, "fetch media metadata", func(int) error {
			got, err := req.Source.FetchMediaMetadata(ctx, d.MediaID)
			if err != nil {
				return err
			}
			remote = got
			return nil
		})
		if err != nil {
			return nil, err
		}
		if remote.URL == "" {
			remote.URL = d.URL
		}
	case d.URL == "":
		return nil, Permanent(ErrNoMediaSource)
	}
	if remote.URL == "" {
		return nil, Permanent(errors.New("provider returned no download url"))
	}
	if err := CheckDeclaredSize(remote.SizeBytes, maxBytes); err != nil {
		return nil, err
	}

	var dl Download
	err := retry(ctx, p.cfg.Retry, p.sleep, logger, "download media", func(int) error {
		got, err := req.Source.DownloadMedia(ctx, remote.URL)
		if err != nil {
			return err
		}
		dl = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	if int64(len(dl.Data)) > maxBytes {
		return nil, fmt.Errorf("%w: downloaded %d bytes exceeds max %d bytes", ErrAssetTooLarge, len(dl.Data), maxBytes)
	}
	if len(dl.Data) == 0 {
		return nil, errors.New("downloaded media is empty")
	}

	ext := ResolveExtension(ExtensionHints{
		ExplicitMime: d.MimeType,
		ContentType:  dl.ContentType,
		ProviderMime: remote.MimeType,
		Filename:     firstNonEmpty(m.Filename, d.Filename),
		Content:      dl.Data,
	})
	mime := firstNonEmpty(
		NormalizeMime(d.MimeType),
		NormalizeMime(dl.ContentType),
		NormalizeMime(remote.MimeType),
		MimeForExtension(ext),
		"application/octet-stream",
	)
	if m.Type == "" || m.Type == MediaTypeUnknown {
		m.Type = TypeForMime(mime)
	}
	filename := resolveFilename(m, d, ext)

	now := p.now()
	plan, err := p.layout.Plan(req.MessageID, filename, now)
	if err != nil {
		return nil, err
	}
	var written []string
	if err := p.storage.Put(ctx, plan.OriginalPath, bytes.NewReader(dl.Data)); err != nil {
		return written, fmt.Errorf("store original: %w", err)
	}
	written = append(written, plan.OriginalPath)

	sum := sha256.Sum256(dl.Data)
	downloadedAt := now
	m.Filename = filename
	m.Extension = ext
	m.MimeType = mime
	m.SizeBytes = int64(len(dl.Data))
	m.Checksum = hex.EncodeToString(sum[:])
	m.Storage = StorageRefs{OriginalPath: plan.OriginalPath}
	m.URL = p.layout.PublicURL(plan.OriginalPath)
	m.ThumbnailURL = ""
	m.PreviewURL = ""
	m.DownloadedAt = &downloadedAt
	m.ThumbnailGeneratedAt = nil
	m.Metadata = mergeMetadata(m.Metadata, providerMetadata(remote))

	if !WantsThumbnail(m.Type, ext) || p.thumbnailer == nil {
		return written, nil
	}
	thumb, err := p.thumbnailer.Generate(dl.Data, ext, p.cfg.Thumbnail)
	if err != nil {
		return written, fmt.Errorf("generate thumbnail: %w", err)
	}
	if err := p.storage.Put(ctx, plan.ThumbnailPath, bytes.NewReader(thumb.Data)); err != nil {
		return written, fmt.Errorf("store thumbnail: %w", err)
	}
	written = append(written, plan.ThumbnailPath)

	generatedAt := p.now()
	m.Storage.ThumbnailPath = plan.ThumbnailPath
	m.ThumbnailURL = p.layout.PublicURL(plan.ThumbnailPath)
	m.ThumbnailGeneratedAt = &generatedAt
	if thumb.SourceWidth > 0 && thumb.SourceHeight > 0 {
		m.Width = thumb.SourceWidth
		m.Height = thumb.SourceHeight
	}
	// Images preview as themselves; PDFs preview as their rendered first page.
	if m.Type == MediaTypeDocument {
		m.PageCount = thumb.PageCount
		m.Storage.PreviewPath = plan.ThumbnailPath
	} else {
		m.Storage.PreviewPath = plan.OriginalPath
	}
	m.PreviewURL = p.layout.PublicURL(m.Storage.PreviewPath)
	return written, nil
}

func (p *Pipeline) persist(ctx context.Context, req IngestRequest, m *MessageMedia) error {
	if err := p.store.UpdateMessageMedia(ctx, req.MessageID, m.Clone()); err != nil {
		return err
	}
	if req.OnStatusChange != nil {
		req.OnStatusChange(ctx, req.MessageID, req.ConversationID, m.Clone())
	}
	return nil
}

// persistTerminal records the final state even when the ingestion context
// has already expired.
func (p *Pipeline) persistTerminal(ctx context.Context, req IngestRequest, m *MessageMedia) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalPersistTimeout)
	defer cancel()
	return p.persist(ctx, req, m)
}

func (p *Pipeline) removeAll(keys []string, logger *slog.Logger) {
	for _, key := range keys {
		if err := p.storage.Delete(context.Background(), key); err != nil {
			logger.Warn("remove partial media failed", slog.String("path", key), slog.Any("error", err))
		}
	}
}

func mergeDescriptor(m *MessageMedia, d Descriptor) {
	if d.MediaID != "" && d.MediaID != m.ProviderMediaID {
		m.Storage = StorageRefs{}
		m.URL, m.ThumbnailURL, m.PreviewURL = "", "", ""
		m.ProviderMediaID = d.MediaID
	}
	if d.Provider != "" {
		m.Provider = d.Provider
	}
	if d.Type != "" && (d.Type != MediaTypeUnknown || m.Type == "") {
		m.Type = d.Type
	}
	if d.MimeType != "" {
		m.MimeType = NormalizeMime(d.MimeType)
	}
	if name := SanitizeFilename(d.Filename); name != "" {
		m.Filename = name
	}
	if d.SizeBytes > 0 {
		m.SizeBytes = d.SizeBytes
	}
	if d.Width > 0 && d.Height > 0 {
		m.Width, m.Height = d.Width, d.Height
	}
	if d.DurationSeconds > 0 {
		m.DurationSeconds = d.DurationSeconds
	}
	if d.PageCount > 0 {
		m.PageCount = d.PageCount
	}
	if d.SHA256 != "" {
		m.Metadata = mergeMetadata(m.Metadata, map[string]any{"provider_sha256": d.SHA256})
	}
	m.Metadata = mergeMetadata(m.Metadata, d.Metadata)
}

// resolveFilename prefers an existing sanitized name, then the provider's
// name, then a random one. The resolved extension is appended when the name
// has none.
func resolveFilename(m *MessageMedia, d Descriptor, ext string) string {
	for _, candidate := range []string{m.Filename, d.Filename} {
		name := SanitizeFilename(candidate)
		if name == "" {
			continue
		}
		if path.Ext(name) == "" {
			name = EnsureExtension(name, ext)
		}
		return name
	}
	return RandomFilename(m.Type, ext)
}

func providerMetadata(r RemoteMedia) map[string]any {
	out := map[string]any{}
	if r.SHA256 != "" {
		out["provider_sha256"] = r.SHA256
	}
	if r.MimeType != "" {
		out["provider_mime_type"] = r.MimeType
	}
	if r.SizeBytes > 0 {
		out["provider_size_bytes"] = r.SizeBytes
	}
	return out
}

func mergeMetadata(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func describeFailure(err error) string {
	switch {
	case errors.Is(err, ErrAssetTooLarge):
		return "Media exceeds the maximum allowed size: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "Media ingestion timed out"
	default:
		return "Media ingestion failed: " + err.Error()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
