package media

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// URLPrefix is the public path under which stored media is served.
	URLPrefix = "/media"

	originalsDir   = "originals"
	thumbnailsDir  = "thumbnails"
	maxFilenameLen = 120
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Layout plans where media files live relative to the media root and maps
// them to public URLs.
type Layout struct{}

// Plan holds the relative storage keys for one ingested file.
type Plan struct {
	OriginalPath  string
	ThumbnailPath string
}

// Plan returns the keys for a message's media: originals/<yyyy>/<mm>/<message>/<file>
// with the thumbnail under thumbnails/ in the same shape.
func (Layout) Plan(messageID, filename string, now time.Time) (Plan, error) {
	messageID = SanitizeFilename(messageID)
	filename = SanitizeFilename(filename)
	if messageID == "" || filename == "" {
		return Plan{}, fmt.Errorf("message id and filename are required")
	}
	month := now.UTC().Format("2006/01")
	base := strings.TrimSuffix(filename, path.Ext(filename))
	return Plan{
		OriginalPath:  path.Join(originalsDir, month, messageID, filename),
		ThumbnailPath: path.Join(thumbnailsDir, month, messageID, base+"-thumb.jpg"),
	}, nil
}

// SanitizeFilename reduces name to a safe single path segment. It returns ""
// when nothing usable remains.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._-")
	if name == "" {
		return ""
	}
	if len(name) > maxFilenameLen {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:maxFilenameLen-len(ext)] + ext
	}
	return name
}

// EnsureExtension appends ext to name unless it already ends with it.
func EnsureExtension(name, ext string) string {
	ext = normalizeExt(ext)
	if ext == "" {
		return name
	}
	if strings.EqualFold(normalizeExt(path.Ext(name)), ext) {
		return name
	}
	return name + "." + ext
}

// RandomFilename builds a collision-free name for media that arrived without
// one.
func RandomFilename(mediaType MediaType, ext string) string {
	prefix := string(mediaType)
	if prefix == "" {
		prefix = string(MediaTypeUnknown)
	}
	return EnsureExtension(prefix+"-"+uuid.NewString(), ext)
}

// CleanKey validates a relative storage key. Absolute keys and keys escaping
// the root are rejected rather than clamped.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrPathTraversal)
	}
	if strings.HasPrefix(key, "/") || filepath.IsAbs(key) || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %s", ErrPathTraversal, key)
		}
	}
	clean := path.Clean(key)
	if clean == "." {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, key)
	}
	return clean, nil
}

// PublicURL maps a storage key to its unsigned public path.
func (Layout) PublicURL(key string) string {
	if key == "" {
		return ""
	}
	return URLPrefix + "/" + strings.TrimPrefix(key, "/")
}

// KeyFromURL maps a public media path (optionally carrying a query string)
// back to its storage key.
func (Layout) KeyFromURL(u string) (string, error) {
	if idx := strings.IndexByte(u, '?'); idx >= 0 {
		u = u[:idx]
	}
	if !strings.HasPrefix(u, URLPrefix+"/") {
		return "", fmt.Errorf("not a media url: %s", u)
	}
	return CleanKey(strings.TrimPrefix(u, URLPrefix+"/"))
}
