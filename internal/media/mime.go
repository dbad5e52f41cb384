package media

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultExtension is used when nothing else identifies the content.
const DefaultExtension = "bin"

var mimeToExt = map[string]string{
	"image/jpeg":               "jpg",
	"image/jpg":                "jpg",
	"image/png":                "png",
	"image/gif":                "gif",
	"image/webp":               "webp",
	"image/heic":               "heic",
	"audio/mpeg":               "mp3",
	"audio/mp3":                "mp3",
	"audio/mp4":                "m4a",
	"audio/aac":                "aac",
	"audio/amr":                "amr",
	"audio/ogg":                "ogg",
	"audio/opus":               "opus",
	"audio/wav":                "wav",
	"video/mp4":                "mp4",
	"video/3gpp":               "3gp",
	"video/quicktime":          "mov",
	"video/webm":               "webm",
	"application/pdf":          "pdf",
	"application/zip":          "zip",
	"application/msword":       "doc",
	"application/vnd.ms-excel": "xls",
	"application/vnd.ms-powerpoint": "ppt",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"text/plain": "txt",
	"text/csv":   "csv",
}

var extToMime = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"heic": "image/heic",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"aac":  "audio/aac",
	"amr":  "audio/amr",
	"ogg":  "audio/ogg",
	"opus": "audio/opus",
	"wav":  "audio/wav",
	"mp4":  "video/mp4",
	"3gp":  "video/3gpp",
	"mov":  "video/quicktime",
	"webm": "video/webm",
	"pdf":  "application/pdf",
	"zip":  "application/zip",
	"doc":  "application/msword",
	"xls":  "application/vnd.ms-excel",
	"ppt":  "application/vnd.ms-powerpoint",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"txt":  "text/plain",
	"csv":  "text/csv",
}

// NormalizeMime lowercases a MIME type and strips parameters such as
// "; codecs=opus".
func NormalizeMime(mime string) string {
	mime = strings.TrimSpace(mime)
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = mime[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

// ExtensionForMime returns the extension (without dot) for a MIME type, or ""
// when unknown.
func ExtensionForMime(mime string) string {
	return mimeToExt[NormalizeMime(mime)]
}

// MimeForExtension returns the MIME type for an extension with or without a
// leading dot, or "" when unknown.
func MimeForExtension(ext string) string {
	return extToMime[normalizeExt(ext)]
}

// ExtensionFromFilename returns the known extension of name, or "".
func ExtensionFromFilename(name string) string {
	ext := normalizeExt(filepath.Ext(strings.TrimSpace(name)))
	if _, ok := extToMime[ext]; ok {
		if ext == "jpeg" {
			return "jpg"
		}
		return ext
	}
	return ""
}

// TypeForMime maps a MIME type onto the coarse media type.
func TypeForMime(mime string) MediaType {
	mime = NormalizeMime(mime)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MediaTypeImage
	case strings.HasPrefix(mime, "video/"):
		return MediaTypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return MediaTypeAudio
	case mime == "":
		return MediaTypeUnknown
	default:
		return MediaTypeDocument
	}
}

// ExtensionHints are the candidate sources for a file extension, consulted in
// field order.
type ExtensionHints struct {
	ExplicitMime string
	ContentType  string
	ProviderMime string
	Filename     string
	Content      []byte
}

// ResolveExtension picks an extension from hints: explicit mimetype, then the
// download content-type header, then the provider-reported mimetype, then the
// filename, then sniffed content, then "bin".
func ResolveExtension(h ExtensionHints) string {
	for _, mime := range []string{h.ExplicitMime, h.ContentType, h.ProviderMime} {
		if ext := ExtensionForMime(mime); ext != "" {
			return ext
		}
	}
	if ext := ExtensionFromFilename(h.Filename); ext != "" {
		return ext
	}
	if len(h.Content) > 0 {
		if ext := sniffExtension(h.Content); ext != "" {
			return ext
		}
	}
	return DefaultExtension
}

func sniffExtension(data []byte) string {
	detected := mimetype.Detect(data)
	if detected == nil {
		return ""
	}
	if ext := ExtensionForMime(detected.String()); ext != "" {
		return ext
	}
	ext := normalizeExt(detected.Extension())
	if ext == "" || detected.Is("application/octet-stream") {
		return ""
	}
	return ext
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
