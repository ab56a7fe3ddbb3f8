package internal

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

const (
	// SessionIDBytes gives session identifiers 256 bits of entropy.
	SessionIDBytes = 32

	// codeAlphabet omits I, L, O, 0 and 1 so codes survive being read aloud
	// or copied by hand.
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// NewSessionID returns a base64url session identifier.
func NewSessionID() (string, error) {
	return NewToken(SessionIDBytes)
}

// NewToken returns n random bytes, base64url without padding.
func NewToken(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// NewHex returns n random bytes, hex encoded.
func NewHex(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// NewOTP returns a numeric code with the given number of digits.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}
	return randomFrom("0123456789", digits, 0, 0)
}

// NewGroupedCode returns groups of groupLen characters from an unambiguous
// alphabet joined by dashes, e.g. "K7M2Q-9XW4T".
func NewGroupedCode(groups, groupLen int) (string, error) {
	if groups <= 0 || groupLen <= 0 {
		return "", errors.New("invalid code shape")
	}
	return randomFrom(codeAlphabet, groups*groupLen, groupLen, '-')
}

// NormalizeGroupedCode upper-cases s and strips separators and spaces so a
// transcribed code compares equal to the issued one.
func NormalizeGroupedCode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		switch r {
		case '-', ' ', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func randomFrom(alphabet string, n, groupLen int, sep byte) (string, error) {
	var b strings.Builder
	b.Grow(n + n/max(groupLen, 1))

	limit := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		if groupLen > 0 && i > 0 && i%groupLen == 0 {
			b.WriteByte(sep)
		}
		v, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[v.Int64()])
	}
	return b.String(), nil
}
