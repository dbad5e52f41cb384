package media

import (
	"context"
	"io"
	"time"
)

// MediaType classifies the kind of media attached to a message.
type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeDocument MediaType = "document"
	MediaTypeUnknown  MediaType = "unknown"
)

// Status is the ingestion state of a MessageMedia.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Descriptor is a provider-shaped media reference before local ingestion.
type Descriptor struct {
	Provider        string         `json:"provider"`
	Type            MediaType      `json:"type"`
	MediaID         string         `json:"media_id,omitempty"`
	URL             string         `json:"url,omitempty"`
	MimeType        string         `json:"mime_type,omitempty"`
	Filename        string         `json:"filename,omitempty"`
	SHA256          string         `json:"sha256,omitempty"`
	SizeBytes       int64          `json:"size_bytes,omitempty"`
	Width           int            `json:"width,omitempty"`
	Height          int            `json:"height,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	PageCount       int            `json:"page_count,omitempty"`
	PreviewURL      string         `json:"preview_url,omitempty"`
	ThumbnailURL    string         `json:"thumbnail_url,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// StorageRefs holds paths relative to the media root.
type StorageRefs struct {
	OriginalPath  string `json:"original_path,omitempty"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
	PreviewPath   string `json:"preview_path,omitempty"`
}

// MessageMedia is the persisted media record owned by a single message.
// Status moves pending -> processing -> ready|failed; a failed record may be
// re-attempted, a ready one is terminal for its provider media id.
type MessageMedia struct {
	Status               Status         `json:"status"`
	Provider             string         `json:"provider"`
	ProviderMediaID      string         `json:"provider_media_id,omitempty"`
	Type                 MediaType      `json:"type"`
	MimeType             string         `json:"mime_type,omitempty"`
	Filename             string         `json:"filename,omitempty"`
	Extension            string         `json:"extension,omitempty"`
	SizeBytes            int64          `json:"size_bytes,omitempty"`
	Checksum             string         `json:"checksum,omitempty"`
	Width                int            `json:"width,omitempty"`
	Height               int            `json:"height,omitempty"`
	DurationSeconds      float64        `json:"duration_seconds,omitempty"`
	PageCount            int            `json:"page_count,omitempty"`
	Storage              StorageRefs    `json:"storage"`
	URL                  string         `json:"url,omitempty"`
	ThumbnailURL         string         `json:"thumbnail_url,omitempty"`
	PreviewURL           string         `json:"preview_url,omitempty"`
	DownloadAttempts     int            `json:"download_attempts"`
	DownloadError        string         `json:"download_error,omitempty"`
	DownloadedAt         *time.Time     `json:"downloaded_at,omitempty"`
	ThumbnailGeneratedAt *time.Time     `json:"thumbnail_generated_at,omitempty"`
	UpdatedAt            time.Time      `json:"updated_at"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy that callers may mutate freely.
func (m *MessageMedia) Clone() *MessageMedia {
	if m == nil {
		return nil
	}
	out := *m
	if m.DownloadedAt != nil {
		t := *m.DownloadedAt
		out.DownloadedAt = &t
	}
	if m.ThumbnailGeneratedAt != nil {
		t := *m.ThumbnailGeneratedAt
		out.ThumbnailGeneratedAt = &t
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// dropStoredFiles forgets every reference to files that have been removed
// from storage.
func (m *MessageMedia) dropStoredFiles() {
	m.Storage = StorageRefs{}
	m.URL = ""
	m.ThumbnailURL = ""
	m.PreviewURL = ""
	m.DownloadedAt = nil
	m.ThumbnailGeneratedAt = nil
}

// NewPlaceholder builds the pending record stored with a freshly inserted
// message. It performs no I/O.
func NewPlaceholder(d Descriptor, now time.Time) *MessageMedia {
	m := &MessageMedia{Status: StatusPending, UpdatedAt: now}
	mergeDescriptor(m, d)
	return m
}

// RemoteMedia is the provider's metadata for a media id.
type RemoteMedia struct {
	ID        string
	URL       string
	MimeType  string
	SHA256    string
	SizeBytes int64
}

// Download is a fetched media binary.
type Download struct {
	Data        []byte
	ContentType string
}

// ProviderClient fetches media from the messaging provider.
type ProviderClient interface {
	FetchMediaMetadata(ctx context.Context, mediaID string) (RemoteMedia, error)
	DownloadMedia(ctx context.Context, url string) (Download, error)
}

// Store is the slice of the message store the pipeline needs. found is false
// when the owning message no longer exists.
type Store interface {
	MessageMedia(ctx context.Context, messageID string) (current *MessageMedia, found bool, err error)
	UpdateMessageMedia(ctx context.Context, messageID string, m *MessageMedia) error
}

// StatusCallback is notified after every persisted media state change.
type StatusCallback func(ctx context.Context, messageID, conversationID string, m *MessageMedia)

// StorageProvider abstracts object storage operations.
type StorageProvider interface {
	// Put writes data to storage under the given key.
	Put(ctx context.Context, key string, reader io.Reader) error
	// Open returns a reader for the given storage key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
}
