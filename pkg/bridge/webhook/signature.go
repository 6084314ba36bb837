// Package webhook receives provider-signed call events: signature
// verification, the accept-call request back to the provider, and the
// ingress handler that creates and tears down call sessions.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/leaseline/voicebridge/pkg/core"
)

// DefaultTolerance bounds how stale a signed webhook may be.
const DefaultTolerance = 5 * time.Minute

// Sign computes the hex signature for a timestamped payload. Exposed for
// tests and for replaying captured events against a local bridge.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the webhook signature and timestamp freshness.
// The signed string is "{timestamp}.{raw body}".
func VerifySignature(secret, timestamp, signature string, body []byte, now time.Time, tolerance time.Duration) error {
	if timestamp == "" || signature == "" {
		return core.NewAuthenticationError("webhook signature headers missing")
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return core.NewAuthenticationError("webhook timestamp is not a unix time")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return core.NewAuthenticationError("webhook timestamp outside tolerance")
	}
	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return core.NewAuthenticationError("webhook signature mismatch")
	}
	return nil
}
