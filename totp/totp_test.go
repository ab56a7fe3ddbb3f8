package totp

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestHOTPRFC6238VectorsSHA1(t *testing.T) {
	secret := []byte("12345678901234567890")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}

	for _, tc := range cases {
		if got := hotp(secret, tc.ts/Period, 8); got != tc.code {
			t.Fatalf("t=%d: got %s want %s", tc.ts, got, tc.code)
		}
	}
}

func TestVerifyWindow(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret error: %v", err)
	}

	at := time.Unix(1_700_000_010, 0)
	code, err := Code(secret, at)
	if err != nil {
		t.Fatalf("Code error: %v", err)
	}

	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		if !Verify(secret, code, at.Add(offset)) {
			t.Fatalf("expected code to verify at offset %v", offset)
		}
	}
	for _, offset := range []time.Duration{-90 * time.Second, 90 * time.Second} {
		if Verify(secret, code, at.Add(offset)) {
			t.Fatalf("expected code to fail at offset %v", offset)
		}
	}
}

func TestMatchReturnsStep(t *testing.T) {
	secret, _ := GenerateSecret()
	at := time.Unix(1_700_000_000, 0)
	code, _ := Code(secret, at)

	counter, ok := Match(secret, code, at.Add(30*time.Second))
	if !ok {
		t.Fatal("expected match")
	}
	if counter != at.Unix()/Period {
		t.Fatalf("unexpected counter %d", counter)
	}
}

func TestVerifyRejectsMalformedCodes(t *testing.T) {
	secret, _ := GenerateSecret()
	now := time.Now()

	for _, code := range []string{"", "12345", "1234567", "12a456", "      "} {
		if Verify(secret, code, now) {
			t.Fatalf("expected %q to be rejected", code)
		}
	}
	if Verify("not base32!", "123456", now) {
		t.Fatal("expected invalid secret to be rejected")
	}
}

func TestDecodeSecretTolerance(t *testing.T) {
	secret, _ := GenerateSecret()
	spaced := strings.ToLower(secret[:8] + " " + secret[8:])

	a, err := DecodeSecret(secret)
	if err != nil {
		t.Fatalf("DecodeSecret error: %v", err)
	}
	b, err := DecodeSecret(spaced + "====")
	if err != nil {
		t.Fatalf("DecodeSecret tolerant error: %v", err)
	}
	if string(a) != string(b) {
		t.Fatal("expected identical decoded secrets")
	}

	if ValidSecret("AAAA") {
		t.Fatal("expected short secret to be invalid")
	}
}

func TestProvisioningURI(t *testing.T) {
	uri := ProvisioningURI("Panel", "admin@example.com", "JBSWY3DPEHPK3PXP")

	u, err := url.Parse(uri)
	if err != nil {
		t.Fatalf("parse uri: %v", err)
	}
	if u.Scheme != "otpauth" || u.Host != "totp" {
		t.Fatalf("unexpected uri %s", uri)
	}
	q := u.Query()
	if q.Get("secret") != "JBSWY3DPEHPK3PXP" || q.Get("digits") != "6" || q.Get("period") != "30" || q.Get("algorithm") != "SHA1" {
		t.Fatalf("unexpected query %v", q)
	}
	if !strings.HasPrefix(u.Path, "/Panel:admin@example.com") {
		t.Fatalf("unexpected label %s", u.Path)
	}
}
