package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidKey is returned when the sealing key is not a base64 encoded 32-byte key.
var ErrInvalidKey = errors.New("invalid key")

// ErrUnseal is returned when a sealed value cannot be authenticated or decoded.
var ErrUnseal = errors.New("unseal failed")

const sealedPrefix = "sealed:"

// Sealer encrypts small values with XChaCha20-Poly1305. A nil *Sealer passes values through unchanged.
type Sealer struct {
	key []byte
}

// NewSealer returns a Sealer for a base64 encoded 32-byte key. An empty key returns (nil, nil): values are stored in the clear.
func NewSealer(b64Key string) (*Sealer, error) {
	b64Key = strings.TrimSpace(b64Key)
	if b64Key == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext and returns "sealed:" followed by base64(nonce|ciphertext).
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil {
		return plaintext, nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the sealed prefix are returned as-is so that
// state written before a key was configured stays readable.
func (s *Sealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if s == nil {
		return "", ErrUnseal
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", ErrUnseal
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrUnseal
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrUnseal
	}
	return string(pt), nil
}
