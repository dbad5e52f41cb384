package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/memohai/wagate/internal/media"
)

const maxErrorBodyBytes = 64 * 1024

// ClientConfig configures the Graph API media client.
type ClientConfig struct {
	BaseURL          string
	APIVersion       string
	AccessToken      string
	Timeout          time.Duration
	MaxDownloadBytes int64
}

// APIError is a non-2xx Graph API response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("graph api: status %d: %s", e.StatusCode, e.Message)
}

// Client fetches media metadata and binaries from the WhatsApp Graph API.
type Client struct {
	baseURL          string
	apiVersion       string
	accessToken      string
	maxDownloadBytes int64
	http             *http.Client
	logger           *slog.Logger
}

// NewClient creates a Graph API client.
func NewClient(log *slog.Logger, cfg ClientConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.MaxDownloadBytes
	if maxBytes <= 0 {
		maxBytes = media.DefaultMaxOriginalBytes
	}
	return &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion:       strings.Trim(cfg.APIVersion, "/"),
		accessToken:      cfg.AccessToken,
		maxDownloadBytes: maxBytes,
		http:             &http.Client{Timeout: timeout},
		logger:           log.With(slog.String("service", "whatsapp_client")),
	}
}

// FetchMediaMetadata resolves a media id to its short-lived download URL.
func (c *Client) FetchMediaMetadata(ctx context.Context, mediaID string) (media.RemoteMedia, error) {
	mediaID = strings.TrimSpace(mediaID)
	if mediaID == "" {
		return media.RemoteMedia{}, media.Permanent(errors.New("media id is required"))
	}
	endpoint := c.baseURL + "/" + c.apiVersion + "/" + url.PathEscape(mediaID)
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return media.RemoteMedia{}, err
	}
	defer resp.Body.Close()

	var body struct {
		ID       string    `json:"id"`
		URL      string    `json:"url"`
		MimeType string    `json:"mime_type"`
		SHA256   string    `json:"sha256"`
		FileSize flexInt64 `json:"file_size"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBodyBytes)).Decode(&body); err != nil {
		return media.RemoteMedia{}, fmt.Errorf("decode media metadata: %w", err)
	}
	c.logger.Debug("media metadata fetched",
		slog.String("media_id", mediaID),
		slog.String("mime_type", body.MimeType),
		slog.Int64("file_size", int64(body.FileSize)),
	)
	return media.RemoteMedia{
		ID:        firstNonEmpty(body.ID, mediaID),
		URL:       body.URL,
		MimeType:  body.MimeType,
		SHA256:    body.SHA256,
		SizeBytes: int64(body.FileSize),
	}, nil
}

// DownloadMedia fetches a media binary. Bodies larger than the configured
// maximum fail with media.ErrAssetTooLarge.
func (c *Client) DownloadMedia(ctx context.Context, rawURL string) (media.Download, error) {
	if strings.TrimSpace(rawURL) == "" {
		return media.Download{}, media.Permanent(errors.New("download url is required"))
	}
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return media.Download{}, err
	}
	defer resp.Body.Close()

	if resp.ContentLength > c.maxDownloadBytes {
		return media.Download{}, media.CheckDeclaredSize(resp.ContentLength, c.maxDownloadBytes)
	}
	data, err := media.ReadAllWithLimit(resp.Body, c.maxDownloadBytes)
	if err != nil {
		return media.Download{}, fmt.Errorf("read media body: %w", err)
	}
	return media.Download{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, media.Permanent(fmt.Errorf("build request: %w", err))
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	if retryable(resp.StatusCode) {
		return nil, apiErr
	}
	return nil, media.Permanent(apiErr)
}

// retryable reports whether a Graph status code is worth another attempt.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= http.StatusInternalServerError
}

func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
