// Package totp implements RFC 6238 time-based codes with the parameters
// authenticator apps expect: SHA1, 6 digits, 30-second steps. Verification
// accepts the previous, current and next step.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	Digits      = 6
	Period      = 30
	Skew        = 1
	SecretBytes = 20

	minSecretBytes = 10
)

// ErrInvalidSecret is returned for secrets that are not Base32 or are too
// short to be a real enrollment.
var ErrInvalidSecret = errors.New("totp: invalid secret")

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a new 160-bit secret, Base32 without padding.
func GenerateSecret() (string, error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return encoding.EncodeToString(raw), nil
}

// DecodeSecret decodes a Base32 secret, tolerating lower case, spaces and
// trailing padding as typed by users or exported by other tools.
func DecodeSecret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	normalized = strings.TrimRight(normalized, "=")
	raw, err := encoding.DecodeString(normalized)
	if err != nil || len(raw) < minSecretBytes {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}

// ValidSecret reports whether secret decodes as a usable Base32 secret.
func ValidSecret(secret string) bool {
	_, err := DecodeSecret(secret)
	return err == nil
}

// Code returns the code for the step containing t.
func Code(secret string, t time.Time) (string, error) {
	raw, err := DecodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(raw, t.Unix()/Period, Digits), nil
}

// Verify reports whether code is valid for secret at now.
func Verify(secret, code string, now time.Time) bool {
	_, ok := Match(secret, code, now)
	return ok
}

// Match is Verify that also returns the matched step counter so callers
// can reject a code that was already accepted.
func Match(secret, code string, now time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != Digits || !isNumeric(code) {
		return 0, false
	}
	raw, err := DecodeSecret(secret)
	if err != nil {
		return 0, false
	}

	base := now.Unix() / Period
	var (
		matched int64
		found   int
	)
	// Every step in the window is computed so timing does not reveal which
	// step matched.
	for step := int64(-Skew); step <= Skew; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		eq := subtle.ConstantTimeCompare([]byte(hotp(raw, counter, Digits)), []byte(code))
		if eq == 1 && found == 0 {
			matched = counter
		}
		found |= eq
	}
	return matched, found == 1
}

// ProvisioningURI builds the otpauth:// URI encoded into enrollment QR codes.
func ProvisioningURI(issuer, label, secret string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("algorithm", "SHA1")
	v.Set("digits", strconv.Itoa(Digits))
	v.Set("period", strconv.Itoa(Period))

	return "otpauth://totp/" + url.PathEscape(issuer+":"+label) + "?" + v.Encode()
}

func hotp(secret []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
