// Package signature signs outbound webhook payloads and verifies them on the
// receiving side. The signature is the hex HMAC-SHA256 of the exact body bytes.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	Header = "X-Webhook-Signature"
	prefix = "sha256="
)

var ErrInvalidSignature = errors.New("invalid_signature")

func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader returns the header value, "sha256=<hex>".
func SignatureHeader(secret string, payload []byte) string {
	return prefix + Sign(secret, payload)
}

// Verify checks a received header value against payload.
func Verify(secret string, payload []byte, header string) error {
	header = strings.TrimSpace(header)
	if secret == "" || !strings.HasPrefix(header, prefix) {
		return ErrInvalidSignature
	}
	expected := Sign(secret, payload)
	if !hmac.Equal([]byte(strings.TrimPrefix(header, prefix)), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}
