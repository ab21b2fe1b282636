package crypto

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestVault(t *testing.T, current, previous string) *Vault {
	t.Helper()
	var prev []byte
	if previous != "" {
		prev = []byte(previous)
	}
	v, err := NewVault([]byte(current), prev, nil)
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	return v
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t, "primary-key-001", "")

	tests := []struct {
		name      string
		plaintext string
	}{
		{"short secret", "whsec_abc123"},
		{"url", "https://tenant.example.com/hooks/inbound"},
		{"unicode", "시크릿 값 🔑"},
		{"long body", strings.Repeat("payload ", 500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted := v.Encrypt(tt.plaintext)
			if !IsEncrypted(encrypted) {
				t.Fatalf("Encrypt() = %q, missing sentinel", encrypted)
			}
			if encrypted == tt.plaintext {
				t.Fatal("ciphertext equals plaintext")
			}
			if got := v.Decrypt(encrypted); got != tt.plaintext {
				t.Errorf("Decrypt() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestEncryptEmptyString(t *testing.T) {
	v := newTestVault(t, "primary-key-001", "")
	if got := v.Encrypt(""); got != "" {
		t.Errorf("Encrypt(\"\") = %q, want empty", got)
	}
}

func TestDoubleEncryptionGuard(t *testing.T) {
	v := newTestVault(t, "primary-key-001", "")

	once := v.Encrypt("secret-value")
	twice := v.Encrypt(once)
	if once != twice {
		t.Fatal("re-encrypting a sentinel value changed it")
	}
	if got := v.Decrypt(twice); got != "secret-value" {
		t.Errorf("Decrypt() = %q, want %q", got, "secret-value")
	}
}

func TestLegacyPlaintextPassthrough(t *testing.T) {
	v := newTestVault(t, "primary-key-001", "")
	if got := v.Decrypt("plain-legacy-secret"); got != "plain-legacy-secret" {
		t.Errorf("Decrypt() = %q, want passthrough", got)
	}
}

func TestDualKeyRotationFallback(t *testing.T) {
	oldVault := newTestVault(t, "old-key-001", "")
	encrypted := oldVault.Encrypt("carried-over-secret")

	// New deployment: rotated key with the old one as previous
	newVault := newTestVault(t, "new-key-002", "old-key-001")
	if got := newVault.Decrypt(encrypted); got != "carried-over-secret" {
		t.Errorf("Decrypt() = %q, want %q", got, "carried-over-secret")
	}

	// Without the previous key, decryption fails open to the raw value
	orphanVault := newTestVault(t, "new-key-002", "")
	if got := orphanVault.Decrypt(encrypted); got != encrypted {
		t.Errorf("Decrypt() = %q, want raw ciphertext back", got)
	}
}

func TestEncryptDecryptJSON(t *testing.T) {
	v := newTestVault(t, "primary-key-001", "")

	type payload struct {
		Endpoint string `json:"endpoint"`
		Secret   string `json:"secret"`
	}
	in := payload{Endpoint: "https://example.com/hook", Secret: "whsec_x"}

	encrypted, err := v.EncryptJSON(in)
	if err != nil {
		t.Fatalf("EncryptJSON: %v", err)
	}
	var out payload
	if err := v.DecryptJSON(encrypted, &out); err != nil {
		t.Fatalf("DecryptJSON: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint([]byte("key-material"))
	b := Fingerprint([]byte("key-material"))
	c := Fingerprint([]byte("other-material"))
	if a != b {
		t.Error("fingerprint not deterministic")
	}
	if a == c {
		t.Error("distinct keys share a fingerprint")
	}
	if len(a) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(a))
	}
}

// fakeFingerprintStore is an in-memory key lock.
type fakeFingerprintStore struct {
	fingerprint string
	canary      string
	getErr      error
}

func (f *fakeFingerprintStore) GetFingerprint(ctx context.Context) (string, error) {
	return f.fingerprint, f.getErr
}

func (f *fakeFingerprintStore) SetFingerprint(ctx context.Context, fingerprint string) error {
	f.fingerprint = fingerprint
	return nil
}

func (f *fakeFingerprintStore) CanarySample(ctx context.Context) (string, error) {
	return f.canary, nil
}

func TestVerifyKeyIntegrityFirstRun(t *testing.T) {
	v := newTestVault(t, "primary-key-001", "")
	store := &fakeFingerprintStore{}

	if err := v.VerifyKeyIntegrity(context.Background(), store, false); err != nil {
		t.Fatalf("VerifyKeyIntegrity: %v", err)
	}
	if store.fingerprint != v.KeyFingerprint() {
		t.Errorf("stored fingerprint = %q, want %q", store.fingerprint, v.KeyFingerprint())
	}
}

func TestVerifyKeyIntegrityMismatch(t *testing.T) {
	v := newTestVault(t, "primary-key-001", "")
	store := &fakeFingerprintStore{fingerprint: "deadbeefdeadbeef"}

	err := v.VerifyKeyIntegrity(context.Background(), store, false)
	if !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("err = %v, want ErrKeyMismatch", err)
	}
	// The stale fingerprint must survive a refused boot
	if store.fingerprint != "deadbeefdeadbeef" {
		t.Error("fingerprint overwritten despite refused rotation")
	}
}

func TestVerifyKeyIntegrityRotationAllowed(t *testing.T) {
	v := newTestVault(t, "primary-key-002", "")
	store := &fakeFingerprintStore{fingerprint: "deadbeefdeadbeef"}

	if err := v.VerifyKeyIntegrity(context.Background(), store, true); err != nil {
		t.Fatalf("VerifyKeyIntegrity: %v", err)
	}
	if store.fingerprint != v.KeyFingerprint() {
		t.Errorf("stored fingerprint = %q, want %q", store.fingerprint, v.KeyFingerprint())
	}
}

func TestVerifyKeyIntegrityCanary(t *testing.T) {
	v := newTestVault(t, "primary-key-001", "")
	store := &fakeFingerprintStore{
		fingerprint: v.KeyFingerprint(),
		canary:      v.Encrypt("canary-value"),
	}
	if err := v.VerifyKeyIntegrity(context.Background(), store, false); err != nil {
		t.Fatalf("VerifyKeyIntegrity with valid canary: %v", err)
	}

	// A canary written under a different key must refuse the boot even
	// when the fingerprint record was force-updated.
	other := newTestVault(t, "some-other-key", "")
	store.canary = other.Encrypt("canary-value")
	if err := v.VerifyKeyIntegrity(context.Background(), store, false); err == nil {
		t.Fatal("expected canary failure")
	}
}
