// Package settings is the typed configuration store of the admin panel.
//
// Values are [Value]s resolved through a [CacheLayer] chain (process memory,
// Redis, then the relational table). Keys on the encrypted allow-list are
// sealed with a [secrets.Cipher] before they reach any layer, so no cache
// ever holds their plaintext.
//
// The store also owns two generated secrets: the obscured admin base path
// and the HMAC secret. Both are created on first access.
package settings

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/MrEthical07/panelauth/internal"
	"github.com/MrEthical07/panelauth/secrets"
)

const (
	KeyAdminBasePath = "admin_base_path"
	KeyHMACSecret    = "hmac_secret"
	KeyBackupSecret  = "backup_secret"
	KeyAPISecret     = "api_secret"
	KeyWebhookSecret = "webhook_secret"

	basePathPrefix   = "/x-"
	basePathHexBytes = 16
	hmacSecretBytes  = 32
	fingerprintBytes = 4
)

var (
	// ErrMissingCipher is returned when a Store is built without a cipher.
	ErrMissingCipher = errors.New("settings: cipher required")
	// ErrDecrypt is returned when an encrypted setting fails to open.
	ErrDecrypt = errors.New("settings: encrypted value rejected")

	basePathPattern = regexp.MustCompile(`^/x-[0-9a-f]{32}$`)
)

// DefaultEncryptedKeys are always stored encrypted.
var DefaultEncryptedKeys = []string{
	KeyAdminBasePath,
	KeyHMACSecret,
	KeyBackupSecret,
	KeyAPISecret,
	KeyWebhookSecret,
}

// Store is safe for concurrent use.
type Store struct {
	cache     *Layered
	cipher    *secrets.Cipher
	encrypted map[string]struct{}

	// genMu serialises first-access generation within this process; the
	// repository's insert-if-absent settles races between processes.
	genMu sync.Mutex
}

// NewStore wraps cache. extraEncrypted adds keys to the encrypted allow-list.
func NewStore(cache *Layered, cipher *secrets.Cipher, extraEncrypted ...string) (*Store, error) {
	if cache == nil {
		return nil, errors.New("settings: cache required")
	}
	if cipher == nil {
		return nil, ErrMissingCipher
	}

	encrypted := make(map[string]struct{}, len(DefaultEncryptedKeys)+len(extraEncrypted))
	for _, k := range DefaultEncryptedKeys {
		encrypted[k] = struct{}{}
	}
	for _, k := range extraEncrypted {
		encrypted[k] = struct{}{}
	}

	return &Store{cache: cache, cipher: cipher, encrypted: encrypted}, nil
}

// IsEncrypted reports whether key is on the encrypted allow-list.
func (s *Store) IsEncrypted(key string) bool {
	_, ok := s.encrypted[key]
	return ok
}

// Get returns the value for key or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (Value, error) {
	v, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, ErrNotFound
	}
	return s.open(key, v)
}

// Set stores value under key, encrypting it when key is on the allow-list.
func (s *Store) Set(ctx context.Context, key string, value Value) error {
	if !value.IsValid() {
		return ErrInvalidValue
	}
	sealed, err := s.seal(key, value)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, key, sealed)
}

// GetString is Get for string settings with a fallback for missing keys.
func (s *Store) GetString(ctx context.Context, key, fallback string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	str, ok := v.AsString()
	if !ok {
		return "", fmt.Errorf("%w: %s is %s", ErrInvalidValue, key, v.Kind())
	}
	return str, nil
}

// AdminBasePath returns the obscured admin base path, generating it on
// first access.
func (s *Store) AdminBasePath(ctx context.Context) (string, error) {
	path, err := s.GetString(ctx, KeyAdminBasePath, "")
	if err != nil {
		return "", err
	}
	if path != "" {
		if !ValidBasePath(path) {
			return "", fmt.Errorf("%w: stored admin base path is malformed", ErrInvalidValue)
		}
		return path, nil
	}

	s.genMu.Lock()
	defer s.genMu.Unlock()

	fresh, err := newBasePath()
	if err != nil {
		return "", err
	}
	stored, err := s.setIfAbsent(ctx, KeyAdminBasePath, StringValue(fresh))
	if err != nil {
		return "", err
	}
	path, _ = stored.AsString()
	if path == fresh {
		log.WithField("fingerprint", fingerprint(path)).Info("settings: generated admin base path")
	}
	return path, nil
}

// RotateAdminBasePath replaces the admin base path unconditionally and
// returns the new one. Only fingerprints of the old and new path are logged.
func (s *Store) RotateAdminBasePath(ctx context.Context) (string, error) {
	old, err := s.GetString(ctx, KeyAdminBasePath, "")
	if err != nil && !errors.Is(err, ErrDecrypt) {
		return "", err
	}

	fresh, err := newBasePath()
	if err != nil {
		return "", err
	}
	if err := s.Set(ctx, KeyAdminBasePath, StringValue(fresh)); err != nil {
		return "", err
	}

	log.WithFields(log.Fields{
		"old_fingerprint": fingerprint(old),
		"new_fingerprint": fingerprint(fresh),
	}).Warn("settings: admin base path rotated")
	return fresh, nil
}

// IsAdminPath reports whether path is the admin base path or below it.
// Lookup failures report false.
func (s *Store) IsAdminPath(ctx context.Context, path string) bool {
	base, err := s.AdminBasePath(ctx)
	if err != nil {
		log.WithError(err).Error("settings: admin base path unavailable")
		return false
	}
	if len(path) < len(base) {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(path[:len(base)]), []byte(base)) != 1 {
		return false
	}
	return len(path) == len(base) || path[len(base)] == '/'
}

// HMACSecret returns the 256-bit HMAC secret, generating it on first access.
func (s *Store) HMACSecret(ctx context.Context) ([]byte, error) {
	encoded, err := s.GetString(ctx, KeyHMACSecret, "")
	if err != nil {
		return nil, err
	}
	if encoded == "" {
		s.genMu.Lock()
		defer s.genMu.Unlock()

		fresh, err := internal.NewHex(hmacSecretBytes)
		if err != nil {
			return nil, err
		}
		stored, err := s.setIfAbsent(ctx, KeyHMACSecret, StringValue(fresh))
		if err != nil {
			return nil, err
		}
		encoded, _ = stored.AsString()
		if encoded == fresh {
			log.Info("settings: generated hmac secret")
		}
	}
	return decodeHex(encoded)
}

func (s *Store) setIfAbsent(ctx context.Context, key string, value Value) (Value, error) {
	sealed, err := s.seal(key, value)
	if err != nil {
		return Value{}, err
	}
	stored, err := s.cache.SetIfAbsent(ctx, key, sealed)
	if err != nil {
		return Value{}, err
	}
	return s.open(key, stored)
}

func (s *Store) seal(key string, value Value) (Value, error) {
	if !s.IsEncrypted(key) {
		return value, nil
	}
	ciphertext, err := s.cipher.EncryptString(marshalTagged(value))
	if err != nil {
		return Value{}, err
	}
	return StringValue(ciphertext), nil
}

func (s *Store) open(key string, stored Value) (Value, error) {
	if !s.IsEncrypted(key) {
		return stored, nil
	}
	ciphertext, ok := stored.AsString()
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrDecrypt, key)
	}
	plaintext, err := s.cipher.DecryptString(ciphertext)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %s", ErrDecrypt, key)
	}
	return unmarshalTagged(plaintext)
}

// ValidBasePath reports whether p has the /x-<32 hex> shape.
func ValidBasePath(p string) bool {
	return basePathPattern.MatchString(p)
}

func newBasePath() (string, error) {
	token, err := internal.NewHex(basePathHexBytes)
	if err != nil {
		return "", err
	}
	return basePathPrefix + token, nil
}

// fingerprint identifies a secret path in logs without revealing any of it.
func fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:fingerprintBytes])
}

func decodeHex(s string) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != hmacSecretBytes {
		return nil, fmt.Errorf("%w: hmac secret is malformed", ErrInvalidValue)
	}
	return raw, nil
}
