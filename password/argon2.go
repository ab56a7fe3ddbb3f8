package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// Cost floors for newly produced hashes.
	MinMemoryKB    uint32 = 64 * 1024
	MinTime        uint32 = 4
	MinParallelism uint8  = 3

	minSaltLength uint32 = 16
	minKeyLength  uint32 = 16

	// Stored hashes below these are treated as corrupt rather than legacy.
	legacyMinMemoryKB uint32 = 1024
	legacyMinTime     uint32 = 1

	// DefaultMaxSecretBytes bounds hashing work per call when
	// Config.MaxSecretBytes is zero.
	DefaultMaxSecretBytes = 1024

	algorithmID = "argon2id"
)

var (
	// ErrInvalidHash is returned when a stored hash cannot be parsed.
	ErrInvalidHash = errors.New("password: invalid PHC hash")
	// ErrEmptySecret is returned when hashing an empty secret.
	ErrEmptySecret = errors.New("password: empty secret")
	// ErrSecretTooLong is returned when a secret exceeds MaxSecretBytes.
	ErrSecretTooLong = errors.New("password: secret too long")
)

// Config holds Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MaxSecretBytes int
}

// DefaultConfig returns the cost floor: 64 MiB, 4 passes, 3 lanes.
func DefaultConfig() Config {
	return Config{
		Memory:      MinMemoryKB,
		Time:        MinTime,
		Parallelism: MinParallelism,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 is safe for concurrent use.
type Argon2 struct {
	config Config
	dummy  *parsedPHC
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

// NewArgon2 validates cfg against the cost floors and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.MaxSecretBytes <= 0 {
		cfg.MaxSecretBytes = DefaultMaxSecretBytes
	}

	salt := make([]byte, cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	return &Argon2{
		config: cfg,
		dummy: &parsedPHC{
			memory:      cfg.Memory,
			time:        cfg.Time,
			parallelism: cfg.Parallelism,
			salt:        salt,
			hash:        make([]byte, cfg.KeyLength),
			keyLength:   cfg.KeyLength,
		},
	}, nil
}

// Hash returns a PHC-encoded Argon2id hash of secret. The secret's bytes
// are used exactly as given.
func (a *Argon2) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if len(secret) > a.config.MaxSecretBytes {
		return "", ErrSecretTooLong
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey(
		[]byte(secret),
		salt,
		a.config.Time,
		a.config.Memory,
		a.config.Parallelism,
		a.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify reports whether secret matches encodedHash. The comparison is
// constant-time; a parse failure returns ErrInvalidHash.
func (a *Argon2) Verify(secret string, encodedHash string) (bool, error) {
	if len(secret) > a.config.MaxSecretBytes {
		return false, ErrSecretTooLong
	}
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return verifyParsed(secret, parsed), nil
}

// Burn spends the same work as a Verify against a current-cost hash and
// discards the result. Callers use it when no stored hash exists.
func (a *Argon2) Burn(secret string) {
	if len(secret) > a.config.MaxSecretBytes {
		secret = secret[:a.config.MaxSecretBytes]
	}
	_ = verifyParsed(secret, a.dummy)
}

// NeedsRehash reports whether encodedHash was produced with weaker
// parameters than the configured ones.
func (a *Argon2) NeedsRehash(encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	switch {
	case a.config.Memory > parsed.memory,
		a.config.Time > parsed.time,
		a.config.Parallelism > parsed.parallelism,
		a.config.KeyLength != parsed.keyLength:
		return true, nil
	}
	return false, nil
}

func verifyParsed(secret string, parsed *parsedPHC) bool {
	computed := argon2.IDKey(
		[]byte(secret),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1
}

func parsePHC(encodedHash string) (*parsedPHC, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, fmt.Errorf("%w: format", ErrInvalidHash)
	}
	if parts[1] != algorithmID {
		return nil, fmt.Errorf("%w: unsupported algorithm", ErrInvalidHash)
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return nil, fmt.Errorf("%w: version", ErrInvalidHash)
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := decodeSegment(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: salt", ErrInvalidHash)
	}
	hash, err := decodeSegment(parts[5])
	if err != nil || len(hash) < int(minKeyLength) {
		return nil, fmt.Errorf("%w: digest", ErrInvalidHash)
	}

	return &parsedPHC{
		memory:      params.memory,
		time:        params.time,
		parallelism: params.parallelism,
		salt:        salt,
		hash:        hash,
		keyLength:   uint32(len(hash)),
	}, nil
}

// decodeSegment accepts both unpadded (PHC canonical) and padded base64.
func decodeSegment(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

type parsedParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parseParams(part string) (*parsedParams, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, fmt.Errorf("%w: parameters", ErrInvalidHash)
	}

	var (
		memorySet, timeSet, parallelismSet bool
		params                             parsedParams
	)

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: parameter entry", ErrInvalidHash)
		}

		switch key {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(legacyMinMemoryKB) {
				return nil, fmt.Errorf("%w: memory", ErrInvalidHash)
			}
			params.memory = uint32(v)
			memorySet = true
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(legacyMinTime) {
				return nil, fmt.Errorf("%w: time", ErrInvalidHash)
			}
			params.time = uint32(v)
			timeSet = true
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v < 1 {
				return nil, fmt.Errorf("%w: parallelism", ErrInvalidHash)
			}
			params.parallelism = uint8(v)
			parallelismSet = true
		default:
			return nil, fmt.Errorf("%w: unsupported parameter", ErrInvalidHash)
		}
	}

	if !memorySet || !timeSet || !parallelismSet {
		return nil, fmt.Errorf("%w: missing parameters", ErrInvalidHash)
	}

	return &params, nil
}

func validateConfig(cfg Config) error {
	if cfg.Memory < MinMemoryKB {
		return fmt.Errorf("password memory must be >= %d KiB", MinMemoryKB)
	}
	if cfg.Time < MinTime {
		return fmt.Errorf("password time must be >= %d", MinTime)
	}
	if cfg.Parallelism < MinParallelism {
		return fmt.Errorf("password parallelism must be >= %d", MinParallelism)
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	return nil
}
