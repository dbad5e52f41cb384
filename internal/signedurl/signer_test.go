package signedurl

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T, now *time.Time) *Signer {
	t.Helper()
	s, err := New(Config{Required: true, Secret: "top-secret", TTL: time.Minute})
	require.NoError(t, err)
	s.now = func() time.Time { return *now }
	return s
}

func splitSigned(t *testing.T, signed string) (string, url.Values) {
	t.Helper()
	u, err := url.Parse(signed)
	require.NoError(t, err)
	return u.Path, u.Query()
}

func TestNew_RequiresSecret(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Required: true})
	assert.ErrorIs(t, err, ErrSecretMissing)

	s, err := New(Config{Required: false})
	require.NoError(t, err)
	assert.False(t, s.Required())
}

func TestSigner_RoundTrip(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	s := newTestSigner(t, &now)

	signed, err := s.BuildSignedPath("/media/originals/2026/03/msg-1/photo.jpg", 30*time.Second)
	require.NoError(t, err)
	p, q := splitSigned(t, signed)
	assert.Equal(t, "/media/originals/2026/03/msg-1/photo.jpg", p)
	assert.Equal(t, "1700000030", q.Get(ParamExpires))

	assert.True(t, s.Verify(p, q).Valid)

	now = now.Add(31 * time.Second)
	v := s.Verify(p, q)
	assert.False(t, v.Valid)
	assert.Equal(t, http.StatusUnauthorized, v.Status)
}

func TestSigner_TamperedSignature(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	s := newTestSigner(t, &now)

	signed, err := s.BuildSignedPath("/media/originals/a.jpg", 0)
	require.NoError(t, err)
	p, q := splitSigned(t, signed)

	sig := []byte(q.Get(ParamSignature))
	if sig[0] == 'a' {
		sig[0] = 'b'
	} else {
		sig[0] = 'a'
	}
	q.Set(ParamSignature, string(sig))

	v := s.Verify(p, q)
	assert.False(t, v.Valid)
	assert.Equal(t, http.StatusForbidden, v.Status)

	_, orig := splitSigned(t, signed)
	v = s.Verify("/media/originals/b.jpg", orig)
	assert.Equal(t, http.StatusForbidden, v.Status, "signature is bound to the path")
}

func TestSigner_VerifyRejectsMalformed(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	s := newTestSigner(t, &now)

	tests := []struct {
		name  string
		query url.Values
	}{
		{name: "missing both", query: url.Values{}},
		{name: "missing signature", query: url.Values{ParamExpires: {"1700000100"}}},
		{name: "missing expires", query: url.Values{ParamSignature: {"abcd"}}},
		{name: "non numeric expires", query: url.Values{ParamExpires: {"soon"}, ParamSignature: {"abcd"}}},
		{name: "non hex signature", query: url.Values{ParamExpires: {"1700000100"}, ParamSignature: {"zz"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := s.Verify("/media/originals/a.jpg", tt.query)
			assert.False(t, v.Valid)
			assert.Equal(t, http.StatusUnauthorized, v.Status)
			assert.NotEmpty(t, v.Message)
		})
	}
}

func TestSigner_NotRequired(t *testing.T) {
	t.Parallel()
	s, err := New(Config{})
	require.NoError(t, err)

	got, err := s.BuildSignedPath("/media/originals/a.jpg", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "/media/originals/a.jpg", got)
	assert.True(t, s.Verify("/media/originals/a.jpg", url.Values{}).Valid)
}

func TestSigner_MissingSecretAtUse(t *testing.T) {
	t.Parallel()
	s := newSigner(Config{Required: true})

	_, err := s.BuildSignedPath("/media/a.jpg", 0)
	assert.ErrorIs(t, err, ErrSecretMissing)

	v := s.Verify("/media/a.jpg", url.Values{ParamExpires: {"1"}, ParamSignature: {"ab"}})
	assert.Equal(t, http.StatusInternalServerError, v.Status)
}

func TestSigner_SignAll(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	s := newTestSigner(t, &now)

	a, b, empty := "/media/originals/a.jpg", "/media/thumbnails/a-thumb.jpg", ""
	require.NoError(t, s.SignAll(&a, &b, &empty, nil))
	assert.True(t, strings.HasPrefix(a, "/media/originals/a.jpg?"))
	assert.True(t, strings.HasPrefix(b, "/media/thumbnails/a-thumb.jpg?"))
	assert.Empty(t, empty)
}
