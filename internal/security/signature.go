package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignPayload returns the hex HMAC-SHA256 of payload, sent with webhooks.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a value produced by SignPayload.
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}
