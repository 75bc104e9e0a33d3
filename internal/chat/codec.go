package chat

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Codec transforms text content before it is stored. It is an obfuscation
// step for data at rest and carries no authorization meaning.
type Codec interface {
	Encode(plain string) (string, error)
	Decode(stored string) (string, error)
}

// ErrMalformed is returned when stored content cannot be decoded.
var ErrMalformed = errors.New("chat: malformed stored content")

// PlainCodec stores content unchanged.
type PlainCodec struct{}

func (PlainCodec) Encode(plain string) (string, error) { return plain, nil }

func (PlainCodec) Decode(stored string) (string, error) { return stored, nil }

// SealedCodec seals content with XChaCha20-Poly1305 under a key derived from
// a shared secret. Output is base64 of nonce || ciphertext.
type SealedCodec struct {
	aead cipher.AEAD
}

// NewSealedCodec derives the content key from secret.
func NewSealedCodec(secret string) (*SealedCodec, error) {
	if secret == "" {
		return nil, errors.New("chat: sealed codec requires a secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("nexus-social message content"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &SealedCodec{aead: aead}, nil
}

func (c *SealedCodec) Encode(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (c *SealedCodec) Decode(stored string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", ErrMalformed
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return string(plain), nil
}

// NewCodec builds the codec named by kind ("plain" or "sealed").
func NewCodec(kind, secret string) (Codec, error) {
	switch kind {
	case "", "plain":
		return PlainCodec{}, nil
	case "sealed":
		return NewSealedCodec(secret)
	default:
		return nil, fmt.Errorf("chat: unknown codec %q", kind)
	}
}
