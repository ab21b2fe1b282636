// Package crypto provides AES-256-GCM encryption of sensitive fields at
// rest, with dual-key rotation support.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"gateway_server/pkg/logger"
)

// SentinelPrefix marks a value as encrypted so callers can distinguish
// ciphertext from legacy plaintext already in the store.
const SentinelPrefix = "enc:"

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrKeyMismatch       = errors.New("encryption key fingerprint mismatch")
)

// Vault encrypts and decrypts sensitive fields. A current key is always
// present; an optional previous key enables zero-downtime re-encryption
// migrations: decrypt tries the current key first and transparently falls
// back to the previous one.
type Vault struct {
	current     cipher.AEAD
	previous    cipher.AEAD
	fingerprint string
	log         *logger.Logger
}

// NewVault creates a vault from the current key and an optional previous
// key. Keys of any length are accepted; non-32-byte keys are derived to
// 32 bytes with SHA-256 (AES-256).
func NewVault(currentKey, previousKey []byte, log *logger.Logger) (*Vault, error) {
	if len(currentKey) == 0 {
		return nil, errors.New("encryption key must not be empty")
	}
	if log == nil {
		log = logger.Default()
	}

	current, err := newAEAD(currentKey)
	if err != nil {
		return nil, fmt.Errorf("current key: %w", err)
	}

	v := &Vault{
		current:     current,
		fingerprint: Fingerprint(currentKey),
		log:         log.WithField("component", "crypto_vault"),
	}

	if len(previousKey) > 0 {
		previous, err := newAEAD(previousKey)
		if err != nil {
			return nil, fmt.Errorf("previous key: %w", err)
		}
		v.previous = previous
	}

	return v, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		hash := sha256.Sum256(key)
		key = hash[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return cipher.NewGCM(block)
}

// Fingerprint returns a short stable identifier for a key, compared at
// startup against the value persisted on first run.
func Fingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}

// KeyFingerprint returns the fingerprint of the active key.
func (v *Vault) KeyFingerprint() string {
	return v.fingerprint
}

// Encrypt encrypts plaintext and returns the sentinel-prefixed,
// base64-encoded nonce||ciphertext||tag packing. Values already carrying
// the sentinel are returned unchanged (double-encryption guard).
//
// Encryption fails open: on error the plaintext is returned so the write
// is never blocked, trading confidentiality for durability. The failure
// is logged loudly for alerting.
func (v *Vault) Encrypt(plaintext string) string {
	if plaintext == "" {
		return ""
	}
	if strings.HasPrefix(plaintext, SentinelPrefix) {
		return plaintext
	}

	nonce := make([]byte, v.current.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		v.log.WithError(err).Error("ENCRYPTION FAILED - storing plaintext")
		return plaintext
	}

	ciphertext := v.current.Seal(nonce, nonce, []byte(plaintext), nil)
	return SentinelPrefix + base64.StdEncoding.EncodeToString(ciphertext)
}

// Decrypt decrypts a sentinel-prefixed value. Values without the sentinel
// are legacy plaintext and returned unchanged.
//
// Decryption fails open: on any failure the raw stored value is returned
// rather than an error, because losing visibility into an undecryptable
// record is worse than a visibly broken field. Failures are logged loudly.
func (v *Vault) Decrypt(value string) string {
	plaintext, err := v.decrypt(value)
	if err != nil {
		v.log.WithError(err).Error("DECRYPTION FAILED - returning raw value")
		return value
	}
	return plaintext
}

func (v *Vault) decrypt(value string) (string, error) {
	if value == "" || !strings.HasPrefix(value, SentinelPrefix) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SentinelPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := v.current.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	nonce, encrypted := data[:nonceSize], data[nonceSize:]

	if plaintext, err := v.current.Open(nil, nonce, encrypted, nil); err == nil {
		return string(plaintext), nil
	}

	// Rotation fallback: records written before the last rotation still
	// authenticate under the previous key.
	if v.previous != nil {
		if plaintext, err := v.previous.Open(nil, nonce, encrypted, nil); err == nil {
			return string(plaintext), nil
		}
	}

	return "", ErrDecryptionFailed
}

// EncryptField is the null-safe single-field variant.
func (v *Vault) EncryptField(value *string) {
	if value == nil || *value == "" {
		return
	}
	*value = v.Encrypt(*value)
}

// DecryptField is the null-safe single-field variant.
func (v *Vault) DecryptField(value *string) {
	if value == nil || *value == "" {
		return
	}
	*value = v.Decrypt(*value)
}

// EncryptJSON marshals value and encrypts the resulting document.
func (v *Vault) EncryptJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal for encryption: %w", err)
	}
	return v.Encrypt(string(data)), nil
}

// DecryptJSON decrypts the value and unmarshals it into dest.
func (v *Vault) DecryptJSON(value string, dest any) error {
	plaintext, err := v.decrypt(value)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(plaintext), dest)
}

// IsEncrypted reports whether a stored value carries the sentinel prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, SentinelPrefix)
}

// FingerprintStore is the persisted key-lock record consulted at startup.
type FingerprintStore interface {
	GetFingerprint(ctx context.Context) (string, error)
	SetFingerprint(ctx context.Context, fingerprint string) error
	CanarySample(ctx context.Context) (string, error)
}

// VerifyKeyIntegrity is the startup guard. The active key's fingerprint
// is compared against the value persisted on first run; a mismatch without
// allowRotation set is fatal, because continuing with the wrong key would
// silently corrupt every future write. When a canary sample exists it must
// also decrypt cleanly.
func (v *Vault) VerifyKeyIntegrity(ctx context.Context, store FingerprintStore, allowRotation bool) error {
	stored, err := store.GetFingerprint(ctx)
	if err != nil {
		return fmt.Errorf("failed to read key fingerprint: %w", err)
	}

	switch {
	case stored == "":
		if err := store.SetFingerprint(ctx, v.fingerprint); err != nil {
			return fmt.Errorf("failed to persist key fingerprint: %w", err)
		}
		v.log.Info("Encryption key fingerprint registered: %s", v.fingerprint)
	case stored != v.fingerprint && !allowRotation:
		return fmt.Errorf("%w: stored=%s active=%s (set rotation flag if intentional)", ErrKeyMismatch, stored, v.fingerprint)
	case stored != v.fingerprint:
		if err := store.SetFingerprint(ctx, v.fingerprint); err != nil {
			return fmt.Errorf("failed to update key fingerprint: %w", err)
		}
		v.log.Warn("Encryption key rotated: fingerprint %s -> %s", stored, v.fingerprint)
	}

	sample, err := store.CanarySample(ctx)
	if err != nil {
		return fmt.Errorf("failed to load decryption canary: %w", err)
	}
	if sample != "" {
		if _, err := v.decrypt(sample); err != nil {
			return fmt.Errorf("decryption canary failed: %w", err)
		}
	}

	return nil
}
