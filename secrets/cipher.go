package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

var (
	// ErrMissingKey is returned when no key material is configured.
	ErrMissingKey = errors.New("secrets: encryption key material missing")
	// ErrWeakKey is returned when key material is below the entropy floor.
	ErrWeakKey = errors.New("secrets: encryption key material too weak")
	// ErrDecrypt is returned for malformed, tampered or wrong-key ciphertext.
	ErrDecrypt = errors.New("secrets: ciphertext rejected")
)

// Cipher is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New derives a key from material (see [DeriveKey]) and returns a Cipher.
func New(material string) (*Cipher, error) {
	key, err := DeriveKey(material)
	if err != nil {
		return nil, err
	}
	return NewFromKey(key)
}

// NewFromKey builds a Cipher from a raw 32-byte key.
func NewFromKey(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrWeakKey, KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// Seal returns payload ‖ tag; the stored layout puts the tag first.
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	payload := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	out := make([]byte, 0, NonceSize+TagSize+len(payload))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, payload...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// EncryptString is Encrypt for string values.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	return c.Encrypt([]byte(plaintext))
}

// Decrypt opens a value produced by Encrypt. Any failure is reported as
// ErrDecrypt and no partial plaintext is returned.
func (c *Cipher) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < NonceSize+TagSize {
		return nil, ErrDecrypt
	}

	nonce := raw[:NonceSize]
	tag := raw[NonceSize : NonceSize+TagSize]
	payload := raw[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(payload)+TagSize)
	sealed = append(sealed, payload...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// DecryptString is Decrypt for string values.
func (c *Cipher) DecryptString(ciphertext string) (string, error) {
	plaintext, err := c.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// ReEncrypt opens ciphertext with old and seals the plaintext under c.
func (c *Cipher) ReEncrypt(ciphertext string, old *Cipher) (string, error) {
	if old == nil {
		return "", ErrMissingKey
	}
	plaintext, err := old.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return c.Encrypt(plaintext)
}

// LooksLikeCiphertext reports whether s has the shape of a value produced
// by Encrypt. It does not authenticate s.
func LooksLikeCiphertext(s string) bool {
	if len(s)%4 != 0 {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	return len(raw) > NonceSize+TagSize
}
