// Package atrest encrypts sensitive fields before they are persisted.
//
// Blobs are base64(nonce(12) || tag(16) || ciphertext) sealed with AES-256-GCM.
// Callers treat blobs as opaque strings.
package atrest

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	// KeySize is the required key length in bytes.
	KeySize   = 32
	nonceSize = 12
	tagSize   = 16
)

var (
	// ErrKeyLength is returned when the configured key is not exactly KeySize bytes.
	ErrKeyLength = errors.New("data key must decode to 32 bytes")
	// ErrIntegrity is returned for any blob that fails to decode or authenticate.
	ErrIntegrity = errors.New("ciphertext integrity check failed")
)

var hexKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Codec seals and opens field values with a single process-wide key.
type Codec struct {
	aead cipher.AEAD
	rand io.Reader
}

// New builds a codec for the given raw key.
func New(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrKeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Codec{aead: aead, rand: rand.Reader}, nil
}

// ParseKey decodes a configured key given as 64 hex characters or as
// standard / URL-safe base64. Surrounding quotes and whitespace are ignored.
func ParseKey(raw string) ([]byte, error) {
	clean := strings.Trim(strings.TrimSpace(raw), `"'`)
	if hexKeyPattern.MatchString(clean) {
		key, err := hex.DecodeString(clean)
		if err != nil {
			return nil, err
		}
		return key, nil
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		key, err := enc.DecodeString(clean)
		if err == nil {
			if len(key) != KeySize {
				return nil, fmt.Errorf("%w: got %d", ErrKeyLength, len(key))
			}
			return key, nil
		}
	}
	return nil, ErrKeyLength
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, nonceSize+tagSize+len(ct))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a blob produced by Encrypt. Every failure maps to ErrIntegrity.
func (c *Codec) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrIntegrity
	}
	if len(raw) < nonceSize+tagSize {
		return "", ErrIntegrity
	}

	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	ct := raw[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plain), nil
}
