// Package signedurl signs and verifies time-limited media paths.
package signedurl

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

const (
	ParamExpires   = "expires"
	ParamSignature = "signature"
)

// ErrSecretMissing is returned when signing is required but no secret is set.
var ErrSecretMissing = errors.New("signed url secret is not configured")

// Config controls signing.
type Config struct {
	Required bool
	Secret   string
	TTL      time.Duration
}

// Verdict is the outcome of verifying a request for a media path. Status and
// Message are only meaningful when Valid is false.
type Verdict struct {
	Valid   bool
	Status  int
	Message string
}

// Signer builds and verifies signed media URLs.
type Signer struct {
	required bool
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// New creates a signer. A required signer without a secret is a
// configuration error.
func New(cfg Config) (*Signer, error) {
	s := newSigner(cfg)
	if s.required && len(s.secret) == 0 {
		return nil, ErrSecretMissing
	}
	return s, nil
}

func newSigner(cfg Config) *Signer {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{
		required: cfg.Required,
		secret:   []byte(strings.TrimSpace(cfg.Secret)),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Required reports whether unsigned requests are rejected.
func (s *Signer) Required() bool {
	return s.required
}

// TTL returns the default lifetime of signed paths.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// BuildSignedPath appends expires and signature parameters to a public media
// path. When signing is not required the path is returned unchanged. A ttl of
// zero uses the configured default.
func (s *Signer) BuildSignedPath(publicPath string, ttl time.Duration) (string, error) {
	if publicPath == "" {
		return "", nil
	}
	if !s.required {
		return publicPath, nil
	}
	if len(s.secret) == 0 {
		return "", ErrSecretMissing
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	canonical := canonicalPath(publicPath)
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set(ParamExpires, strconv.FormatInt(expires, 10))
	q.Set(ParamSignature, s.sign(canonical, expires))
	return canonical + "?" + q.Encode(), nil
}

// SignAll signs every non-empty path in place, stopping at the first error.
func (s *Signer) SignAll(paths ...*string) error {
	for _, p := range paths {
		if p == nil || *p == "" {
			continue
		}
		signed, err := s.BuildSignedPath(*p, 0)
		if err != nil {
			return err
		}
		*p = signed
	}
	return nil
}

// Verify checks the expires and signature parameters for a request path.
func (s *Signer) Verify(requestPath string, query url.Values) Verdict {
	if !s.required {
		return Verdict{Valid: true}
	}
	if len(s.secret) == 0 {
		return Verdict{Status: http.StatusInternalServerError, Message: ErrSecretMissing.Error()}
	}
	rawExpires := strings.TrimSpace(query.Get(ParamExpires))
	signature := strings.TrimSpace(query.Get(ParamSignature))
	if rawExpires == "" || signature == "" {
		return Verdict{Status: http.StatusUnauthorized, Message: "missing signature or expires parameter"}
	}
	expires, err := strconv.ParseInt(rawExpires, 10, 64)
	if err != nil || expires <= 0 {
		return Verdict{Status: http.StatusUnauthorized, Message: "malformed expires parameter"}
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return Verdict{Status: http.StatusUnauthorized, Message: "malformed signature parameter"}
	}
	if s.now().Unix() > expires {
		return Verdict{Status: http.StatusUnauthorized, Message: "signed url expired"}
	}
	want, _ := hex.DecodeString(s.sign(canonicalPath(requestPath), expires))
	if !hmac.Equal(got, want) {
		return Verdict{Status: http.StatusForbidden, Message: "signature mismatch"}
	}
	return Verdict{Valid: true}
}

func (s *Signer) sign(canonical string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", canonical, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalPath drops any query string and normalizes the path so that
// equivalent spellings sign identically.
func canonicalPath(p string) string {
	if idx := strings.IndexByte(p, '?'); idx >= 0 {
		p = p[:idx]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
