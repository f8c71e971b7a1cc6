package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/aretw0/wadialog/pkg/ports"
)

// ErrDecrypt is returned when no configured key opens a stored value.
var ErrDecrypt = errors.New("decryption failed with all available keys")

// EncryptionConfig holds the AES-256 keys of the session encryption layer.
type EncryptionConfig struct {
	// ActiveKey seals every new value. Must be 32 bytes.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot open a value,
	// so values sealed before a rotation stay readable.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	ports.SessionBackend
	active   cipher.AEAD
	fallback []cipher.AEAD
}

// NewEncryptionMiddleware seals every session value at rest with AES-GCM.
// Scopes and keys stay in clear so Keys and DeleteAll keep working; they are
// bound to the ciphertext as additional data, so a value copied to another
// session or key fails to open.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	active, err := newAEAD(config.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("active key: %w", err)
	}
	fallback := make([]cipher.AEAD, 0, len(config.FallbackKeys))
	for i, k := range config.FallbackKeys {
		aead, err := newAEAD(k)
		if err != nil {
			return nil, fmt.Errorf("fallback key %d: %w", i, err)
		}
		fallback = append(fallback, aead)
	}
	return func(next ports.SessionBackend) ports.SessionBackend {
		return &encryptionMiddleware{SessionBackend: next, active: active, fallback: fallback}
	}, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("must be 32 bytes (AES-256), got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func additionalData(scope, key string) []byte {
	return []byte(scope + "\x00" + key)
}

func (m *encryptionMiddleware) Set(ctx context.Context, scope, key string, value []byte) error {
	nonce := make([]byte, m.active.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to encrypt %q: %w", key, err)
	}
	sealed := m.active.Seal(nonce, nonce, value, additionalData(scope, key))
	return m.SessionBackend.Set(ctx, scope, key, sealed)
}

func (m *encryptionMiddleware) Get(ctx context.Context, scope, key string) ([]byte, error) {
	sealed, err := m.SessionBackend.Get(ctx, scope, key)
	if err != nil {
		return nil, err
	}
	ad := additionalData(scope, key)
	if plain, err := open(m.active, sealed, ad); err == nil {
		return plain, nil
	}
	for _, aead := range m.fallback {
		if plain, err := open(aead, sealed, ad); err == nil {
			return plain, nil
		}
	}
	return nil, fmt.Errorf("failed to decrypt %q: %w", key, ErrDecrypt)
}

func open(aead cipher.AEAD, sealed, ad []byte) ([]byte, error) {
	n := aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("ciphertext too short")
	}
	return aead.Open(nil, sealed[:n], sealed[n:], ad)
}
