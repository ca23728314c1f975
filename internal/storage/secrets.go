package storage

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/propsync-io/propsync/internal/config"
)

const (
	secretKeySize = 32
	nonceSize     = 24

	// SecretKeyEnvVar holds the hex-encoded 32-byte key used to seal connection secrets.
	SecretKeyEnvVar = "PROPSYNC_SECRET_KEY" // pragma: allowlist secret
)

var (
	// ErrInvalidSecretKey is returned when the key is not 32 bytes of hex.
	ErrInvalidSecretKey = errors.New("secret key must be 64 hex characters (32 bytes)")

	// ErrDecryptionFailed is returned when a sealed value was tampered with or sealed
	// under another key.
	ErrDecryptionFailed = errors.New("failed to decrypt secret")
)

// SecretBox seals API client secrets at rest with NaCl secretbox.
type SecretBox struct {
	key [secretKeySize]byte
}

// NewSecretBox creates a SecretBox from a hex-encoded 32-byte key.
func NewSecretBox(hexKey string) (*SecretBox, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil || len(raw) != secretKeySize {
		return nil, ErrInvalidSecretKey
	}

	box := &SecretBox{}
	copy(box.key[:], raw)

	return box, nil
}

// LoadSecretBox reads the key from PROPSYNC_SECRET_KEY.
func LoadSecretBox() (*SecretBox, error) {
	return NewSecretBox(config.GetEnvStr(SecretKeyEnvVar, ""))
}

// Encrypt seals plaintext and returns base64(nonce || box).
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (b *SecretBox) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}

	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecryptionFailed
	}

	return string(plain), nil
}
