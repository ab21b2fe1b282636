package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"gateway_server/pkg/apperr"
)

const testSecret = "whsec_dGVzdC1zaWduaW5nLWtleS0wMDE="

func signFor(t *testing.T, secret, id, timestamp string, body []byte) string {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString(secret[len("whsec_"):])
	if err != nil {
		t.Fatalf("bad test secret: %v", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id + "." + timestamp + "."))
	mac.Write(body)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyValidSignature(t *testing.T) {
	v := NewSignatureVerifier(5 * time.Minute)
	body := []byte(`{"type":"email.received"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := signFor(t, testSecret, "evt_1", ts, body)

	if err := v.Verify(testSecret, "evt_1", ts, sig, body); err != nil {
		t.Errorf("Verify rejected a valid signature: %v", err)
	}
}

func TestVerifyMultipleSignatureEntries(t *testing.T) {
	v := NewSignatureVerifier(5 * time.Minute)
	body := []byte(`{}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	valid := signFor(t, testSecret, "evt_2", ts, body)
	header := "v1,AAAAinvalidAAAA= " + valid

	if err := v.Verify(testSecret, "evt_2", ts, header, body); err != nil {
		t.Errorf("Verify rejected a header containing one valid entry: %v", err)
	}
}

func TestVerifyFailures(t *testing.T) {
	v := NewSignatureVerifier(5 * time.Minute)
	body := []byte(`{"type":"email.received"}`)
	now := strconv.FormatInt(time.Now().Unix(), 10)
	valid := signFor(t, testSecret, "evt_3", now, body)

	tests := []struct {
		name      string
		id        string
		timestamp string
		signature string
		body      []byte
	}{
		{"tampered body", "evt_3", now, valid, []byte(`{"type":"email.sent"}`)},
		{"wrong event id", "evt_other", now, valid, body},
		{"garbage signature", "evt_3", now, "v1,bm90LXRoZS1zaWc=", body},
		{"missing id", "", now, valid, body},
		{"missing timestamp", "evt_3", "", valid, body},
		{"missing signature", "evt_3", now, "", body},
		{"non-numeric timestamp", "evt_3", "yesterday", valid, body},
		{
			"stale timestamp", "evt_3",
			strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10),
			signFor(t, testSecret, "evt_3", strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10), body),
			body,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(testSecret, tt.id, tt.timestamp, tt.signature, tt.body)
			if err == nil {
				t.Fatal("Verify accepted an invalid request")
			}
			if apperr.GetHTTPStatus(err) != 400 {
				t.Errorf("error status = %d, want 400", apperr.GetHTTPStatus(err))
			}
		})
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	v := NewSignatureVerifier(5 * time.Minute)
	body := []byte(`{}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := signFor(t, testSecret, "evt_4", ts, body)

	other := "whsec_" + base64.StdEncoding.EncodeToString([]byte("a-different-key"))
	if err := v.Verify(other, "evt_4", ts, sig, body); err == nil {
		t.Error("Verify accepted a signature from another secret")
	}
}
