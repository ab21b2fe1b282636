// Package ingest orchestrates inbound provider webhook processing.
package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"gateway_server/pkg/apperr"
)

// =============================================================================
// Signature Verification
// =============================================================================

const secretPrefix = "whsec_"

// SignatureVerifier checks provider webhook signatures. The signed content
// is "id.timestamp.body", keyed by the per-domain secret; the signature
// header carries one or more space-separated "v1,<base64>" entries.
type SignatureVerifier struct {
	tolerance time.Duration
	now       func() time.Time
}

// NewSignatureVerifier creates a verifier with the given timestamp
// tolerance window.
func NewSignatureVerifier(tolerance time.Duration) *SignatureVerifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &SignatureVerifier{tolerance: tolerance, now: time.Now}
}

// Verify checks the signature over the raw body. It returns an AppError
// with an HTTP 400 status on any failure; no payload content may be
// trusted before this passes.
func (v *SignatureVerifier) Verify(secret, id, timestamp, signature string, body []byte) error {
	if id == "" {
		return apperr.MissingHeader("webhook-id")
	}
	if timestamp == "" {
		return apperr.MissingHeader("webhook-timestamp")
	}
	if signature == "" {
		return apperr.MissingHeader("webhook-signature")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return apperr.InvalidSignature("invalid timestamp")
	}
	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.tolerance || age < -v.tolerance {
		return apperr.InvalidSignature("timestamp outside tolerance")
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return apperr.InvalidSignature("malformed signing secret")
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, entry := range strings.Fields(signature) {
		version, sig, found := strings.Cut(entry, ",")
		if !found || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return apperr.InvalidSignature("no matching signature")
}

func decodeSecret(secret string) ([]byte, error) {
	raw := strings.TrimPrefix(secret, secretPrefix)
	return base64.StdEncoding.DecodeString(raw)
}
