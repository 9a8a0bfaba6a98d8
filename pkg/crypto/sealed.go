// Package crypto seals provider api keys kept in configuration files.
//
// A sealed value has the form "enc:" followed by base64 of
// nonce(12) + AES-256-GCM ciphertext + tag(16).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// SealedPrefix marks a sealed configuration value.
	SealedPrefix = "enc:"
	// KeyEnv names the environment variable holding the sealing key.
	KeyEnv = "RELAYLANE_CREDENTIAL_KEY"
)

var (
	// ErrInvalidKeySize 密钥长度无效错误
	ErrInvalidKeySize = errors.New("sealing key must be 32 bytes (256 bits)")
	// ErrInvalidCiphertext 密文格式无效错误
	ErrInvalidCiphertext = errors.New("invalid sealed value: too short or malformed")
	// ErrDecryptionFailed 解密失败错误
	ErrDecryptionFailed = errors.New("unseal failed: authentication failed")
	// ErrNoKey is returned when a sealed value is found but no key is configured.
	ErrNoKey = errors.New("sealed value found but " + KeyEnv + " is not set")
)

// IsSealed reports whether v carries the sealed prefix.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, SealedPrefix)
}

// Sealer seals and opens configuration secrets with one AES-256-GCM key.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer creates a Sealer. key must be 32 bytes.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// SealerFromEnv builds a Sealer from KeyEnv. The variable holds either 32 raw
// bytes or their standard base64 encoding. It returns nil, nil when unset.
func SealerFromEnv() (*Sealer, error) {
	raw := os.Getenv(KeyEnv)
	if raw == "" {
		return nil, nil
	}
	key := []byte(raw)
	if len(key) != 32 {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", KeyEnv, ErrInvalidKeySize)
		}
		key = decoded
	}
	return NewSealer(key)
}

// Seal encrypts plaintext and returns its prefixed form.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Values without the prefix are
// returned unchanged.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	// 验证密文长度（至少包含 nonce + tag）
	nonceSize := s.gcm.NonceSize()
	if len(decoded) < nonceSize+s.gcm.Overhead() {
		return "", ErrInvalidCiphertext
	}

	nonce, encrypted := decoded[:nonceSize], decoded[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

// Open unseals value with the key from the environment. Plain values pass through.
func Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	s, err := SealerFromEnv()
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", ErrNoKey
	}
	return s.Open(value)
}
