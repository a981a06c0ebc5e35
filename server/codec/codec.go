// Package codec encrypts and decrypts the content fields written by the collector.
//
// Blobs are AES-256-GCM with a 16-byte nonce, laid out as
// nonce(16) || tag(16) || ciphertext and encoded with standard base64.
package codec

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ctolnik/office-insight/server/metrics"
	"github.com/ctolnik/office-insight/zapctx"
	"go.uber.org/zap"
)

const (
	KeySize   = 32
	NonceSize = 16
	TagSize   = 16
)

var ErrMalformed = errors.New("malformed ciphertext")

// Codec is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

func New(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("codec: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt returns the base64 blob for plaintext. Empty input yields empty output.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("codec: generate nonce: %w", err)
	}

	// Seal appends ct||tag; the stored layout puts the tag first.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	out := make([]byte, 0, NonceSize+TagSize+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts blob and reports any decoding or authentication failure.
func (c *Codec) Open(blob string) (string, error) {
	if blob == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(raw) < NonceSize+TagSize {
		return "", fmt.Errorf("%w: %d bytes", ErrMalformed, len(raw))
	}
	nonce := raw[:NonceSize]
	tag := raw[NonceSize : NonceSize+TagSize]
	ct := raw[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return string(plain), nil
}

// Decrypt is the fail-soft variant used on read paths: on failure the input
// is logged, counted and returned unchanged.
func (c *Codec) Decrypt(ctx context.Context, blob string) string {
	plain, err := c.Open(blob)
	if err != nil {
		metrics.DecryptFailures.Inc()
		zapctx.Warn(ctx, "Failed to decrypt field, returning raw value",
			zap.Error(err),
			zap.Int("length", len(blob)),
		)
		return blob
	}
	return plain
}
