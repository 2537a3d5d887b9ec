package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// Header names carried on every delivery request.
const (
	HeaderSignature      = "X-Webhook-Signature"
	HeaderEvent          = "X-Webhook-Event"
	HeaderIdempotencyKey = "X-Webhook-Idempotency-Key"
)

// Sign computes the signature header value for a request body:
// "sha256=" followed by hex-encoded HMAC-SHA256 of the body keyed with
// the subscription secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret.
// Comparison is constant-time. Intended for receiver-side use and tests.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// NewSecret generates a random signing secret: 32 bytes, hex-encoded.
func NewSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("webhook: crypto/rand unavailable: " + err.Error())
	}
	return "whsec_" + hex.EncodeToString(b)
}
