package secrets

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	minMaterialLength = 32
	minEntropyBits    = 128.0
	hkdfInfo          = "panelauth/secrets/v1"
)

// DeriveKey turns operator-supplied key material into a 256-bit key.
//
// Material that already encodes exactly 32 bytes (64 hex characters or
// base64) is used as-is. Anything else is stretched with HKDF-SHA256.
// Material shorter than 32 characters, or whose estimated entropy is below
// 128 bits, is rejected with [ErrWeakKey].
func DeriveKey(material string) ([]byte, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, ErrMissingKey
	}

	if raw, ok := decodeRawKey(material); ok {
		if estimateEntropyBits(raw) < minEntropyBits {
			return nil, fmt.Errorf("%w: decoded key is low entropy", ErrWeakKey)
		}
		return raw, nil
	}

	if len(material) < minMaterialLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrWeakKey, minMaterialLength)
	}
	if estimateEntropyBits([]byte(material)) < minEntropyBits {
		return nil, fmt.Errorf("%w: estimated entropy below %.0f bits", ErrWeakKey, minEntropyBits)
	}

	reader := hkdf.New(sha256.New, []byte(material), nil, []byte(hkdfInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func decodeRawKey(material string) ([]byte, bool) {
	if len(material) == hex.EncodedLen(KeySize) {
		if raw, err := hex.DecodeString(material); err == nil {
			return raw, true
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(material); err == nil && len(raw) == KeySize {
			return raw, true
		}
	}
	return nil, false
}

// estimateEntropyBits is the Shannon entropy of b's symbol distribution
// multiplied by its length. It is an upper bound and only catches obviously
// weak material such as repeated characters.
func estimateEntropyBits(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	var counts [256]int
	for _, c := range b {
		counts[c]++
	}
	n := float64(len(b))
	perSymbol := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		perSymbol -= p * math.Log2(p)
	}
	return perSymbol * n
}
