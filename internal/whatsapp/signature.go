package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// SignatureHeader carries the HMAC of the raw webhook body.
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature checks the webhook body against SignatureHeader using the
// app secret. An empty secret disables verification; with a secret set, a
// missing or malformed header fails.
func VerifySignature(secret string, header http.Header, rawBody []byte) bool {
	if secret == "" {
		return true
	}
	sig := strings.TrimSpace(header.Get(SignatureHeader))
	if sig == "" {
		return false
	}
	if idx := strings.IndexByte(sig, '='); idx >= 0 {
		if !strings.EqualFold(sig[:idx], "sha256") {
			return false
		}
		sig = sig[idx+1:]
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the SignatureHeader value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
