package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeyEnv is the env var name for the export sealing secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	KeyEnv = "PAIRGATE_EXPORT_KEY"

	prefix = "v1."

	kdfSalt       = "pairgate/export/v1"
	kdfIterations = 2
	kdfMemoryKiB  = 32 * 1024
	kdfThreads    = 2
)

// KeyFromEnv returns the configured secret (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrKeyMissing.
// If too short -> ErrKeyTooShort.
func KeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(KeyEnv))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrKeyTooShort
	}
	return b, nil
}

// Enabled reports whether the env key is present (non-empty after trim).
// Note: This does not enforce minimum length. Use KeyFromEnv for policy checks.
func Enabled() bool {
	return strings.TrimSpace(os.Getenv(KeyEnv)) != ""
}

// Sealer seals and opens values with a key derived from one secret.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the AEAD key from secret.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, ErrKeyMissing
	}
	key := argon2.IDKey(secret, []byte(kdfSalt), kdfIterations, kdfMemoryKiB, kdfThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext; aad must be presented again to Open.
func (s *Sealer) Seal(plaintext, aad []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal: nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, plaintext, aad)
	return prefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Tampered or foreign values return ErrMalformed.
func (s *Sealer) Open(sealed string, aad []byte) ([]byte, error) {
	body, ok := strings.CutPrefix(sealed, prefix)
	if !ok {
		return nil, ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, ErrMalformed
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns+s.aead.Overhead() {
		return nil, ErrMalformed
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], aad)
	if err != nil {
		return nil, ErrMalformed
	}
	return plain, nil
}
