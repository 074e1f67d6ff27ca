// Package signer computes the message authentication code carried in the
// X-Webhook-Signature header. The signed input is "{timestamp}.{body}", so a
// receiver can recompute the MAC from the raw request bytes and the shared
// secret without re-serializing anything.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sign returns the hex-encoded HMAC-SHA256 of "{timestamp}.{body}" keyed by
// secret. The body bytes must be the exact bytes sent on the wire.
func Sign(secret string, body []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the MAC for (secret, body,
// timestamp). Comparison is constant-time.
func Verify(secret string, body []byte, timestamp int64, signature string) bool {
	want := Sign(secret, body, timestamp)
	return hmac.Equal([]byte(want), []byte(signature))
}
