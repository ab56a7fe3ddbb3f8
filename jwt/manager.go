package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinKeyBytes is the shortest accepted HMAC key.
const MinKeyBytes = 32

var (
	// ErrInvalidGrant covers every parse or validation failure.
	ErrInvalidGrant = errors.New("invalid grant")
	// ErrWeakKey is returned when the key source yields fewer than
	// MinKeyBytes bytes.
	ErrWeakKey = errors.New("grant signing key too short")
)

// KeySource returns the current HMAC key.
type KeySource func(ctx context.Context) ([]byte, error)

// Config controls grant lifetime and validation.
type Config struct {
	TTL          time.Duration
	Issuer       string
	Audience     string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Manager signs and verifies grants.
type Manager struct {
	config Config
	key    KeySource
}

// GrantClaims identify the token holder. Generation is the CLI token
// generation the grant was issued against; callers compare it to the
// stored generation so a rotated token also invalidates its grants.
type GrantClaims struct {
	Class      string `json:"cls"`
	Generation int64  `json:"gen"`
	jwt.RegisteredClaims
}

func NewManager(cfg Config, key KeySource) (*Manager, error) {
	if key == nil {
		return nil, errors.New("grant key source required")
	}
	if cfg.TTL <= 0 || cfg.TTL > time.Hour {
		return nil, errors.New("invalid grant TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)

	return &Manager{config: cfg, key: key}, nil
}

// TTL returns the configured grant lifetime.
func (m *Manager) TTL() time.Duration { return m.config.TTL }

// Issue signs a grant for subject. It returns the token and its expiry.
func (m *Manager) Issue(ctx context.Context, subject, class string, generation int64) (string, time.Time, error) {
	if subject == "" || class == "" {
		return "", time.Time{}, errors.New("grant subject and class required")
	}
	key, err := m.signingKey(ctx)
	if err != nil {
		return "", time.Time{}, err
	}

	now := m.config.Now()
	expires := now.Add(m.config.TTL)
	claims := GrantClaims{
		Class:      class,
		Generation: generation,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign grant: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies signature, algorithm, time bounds, issuer and audience.
func (m *Manager) Parse(ctx context.Context, tokenStr string) (*GrantClaims, error) {
	key, err := m.signingKey(ctx)
	if err != nil {
		return nil, err
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &GrantClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}

	claims, ok := token.Claims.(*GrantClaims)
	if !ok || !token.Valid || claims.Subject == "" || claims.Class == "" {
		return nil, ErrInvalidGrant
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(m.config.Now().Add(m.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalidGrant)
	}

	return claims, nil
}

func (m *Manager) signingKey(ctx context.Context) ([]byte, error) {
	key, err := m.key(ctx)
	if err != nil {
		return nil, fmt.Errorf("grant key: %w", err)
	}
	if len(key) < MinKeyBytes {
		return nil, ErrWeakKey
	}
	return key, nil
}
