package whatsapp

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"entry":[]}`)
	valid := Sign("s3cret", body)

	tests := []struct {
		name   string
		secret string
		header string
		body   []byte
		want   bool
	}{
		{name: "no secret configured", secret: "", header: "", body: body, want: true},
		{name: "valid", secret: "s3cret", header: valid, body: body, want: true},
		{name: "valid without prefix", secret: "s3cret", header: strings.TrimPrefix(valid, "sha256="), body: body, want: true},
		{name: "missing header", secret: "s3cret", header: "", body: body, want: false},
		{name: "wrong secret", secret: "other", header: valid, body: body, want: false},
		{name: "body changed", secret: "s3cret", header: valid, body: []byte(`{"entry":[1]}`), want: false},
		{name: "wrong algorithm", secret: "s3cret", header: "sha1=" + strings.TrimPrefix(valid, "sha256="), body: body, want: false},
		{name: "not hex", secret: "s3cret", header: "sha256=zzzz", body: body, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := http.Header{}
			if tt.header != "" {
				h.Set(SignatureHeader, tt.header)
			}
			assert.Equal(t, tt.want, VerifySignature(tt.secret, h, tt.body))
		})
	}
}
