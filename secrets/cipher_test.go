package secrets

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

const testMaterial = "k7Vq2#pL9xW!mZ4rT8yB1nC6dF0gH3jS"

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()

	c, err := New(testMaterial)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestCipherRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	inputs := [][]byte{
		{},
		[]byte("a"),
		[]byte("JBSWY3DPEHPK3PXP"),
		bytes.Repeat([]byte{0xff, 0x00, 0x7f}, 300),
	}
	for _, in := range inputs {
		ct, err := c.Encrypt(in)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		out, err := c.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if !bytes.Equal(in, out) {
			t.Fatalf("round trip mismatch: got %x want %x", out, in)
		}
	}
}

func TestCipherLayout(t *testing.T) {
	c := newTestCipher(t)

	ct, err := c.EncryptString("hello")
	if err != nil {
		t.Fatalf("EncryptString failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(ct)
	if err != nil {
		t.Fatalf("ciphertext is not base64: %v", err)
	}
	if len(raw) != NonceSize+TagSize+len("hello") {
		t.Fatalf("unexpected ciphertext length %d", len(raw))
	}
}

func TestCipherFreshNonce(t *testing.T) {
	c := newTestCipher(t)

	a, _ := c.EncryptString("same")
	b, _ := c.EncryptString("same")
	if a == b {
		t.Fatal("expected distinct ciphertexts for repeated plaintext")
	}
}

func TestCipherEveryBitFlipRejected(t *testing.T) {
	c := newTestCipher(t)

	ct, err := c.EncryptString("2fa-secret")
	if err != nil {
		t.Fatalf("EncryptString failed: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(ct)

	for i := 0; i < len(raw)*8; i++ {
		mutated := append([]byte(nil), raw...)
		mutated[i/8] ^= 1 << (i % 8)

		out, err := c.Decrypt(base64.StdEncoding.EncodeToString(mutated))
		if !errors.Is(err, ErrDecrypt) {
			t.Fatalf("bit %d: expected ErrDecrypt, got %v", i, err)
		}
		if out != nil {
			t.Fatalf("bit %d: plaintext released on failure", i)
		}
	}
}

func TestCipherWrongKeyRejected(t *testing.T) {
	c := newTestCipher(t)
	other, err := New(strings.Repeat("Zq8", 4) + testMaterial)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ct, _ := c.EncryptString("value")
	if _, err := other.Decrypt(ct); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestCipherMalformedInput(t *testing.T) {
	c := newTestCipher(t)

	for _, in := range []string{"", "not base64!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := c.Decrypt(in); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("input %q: expected ErrDecrypt, got %v", in, err)
		}
	}
}

func TestReEncrypt(t *testing.T) {
	oldCipher := newTestCipher(t)
	key := bytes.Repeat([]byte{0}, KeySize)
	for i := range key {
		key[i] = byte(i*7 + 3)
	}
	newCipher, err := New(hex.EncodeToString(key))
	if err != nil {
		t.Fatalf("New with hex key failed: %v", err)
	}

	ct, _ := oldCipher.EncryptString("rotate me")
	rotated, err := newCipher.ReEncrypt(ct, oldCipher)
	if err != nil {
		t.Fatalf("ReEncrypt failed: %v", err)
	}
	if _, err := oldCipher.Decrypt(rotated); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("old key must not open rotated ciphertext, got %v", err)
	}
	got, err := newCipher.DecryptString(rotated)
	if err != nil || got != "rotate me" {
		t.Fatalf("unexpected rotated plaintext %q err=%v", got, err)
	}

	if _, err := newCipher.ReEncrypt(ct, newCipher); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt with wrong old key, got %v", err)
	}
}

func TestDeriveKeyRejectsWeakMaterial(t *testing.T) {
	cases := map[string]error{
		"":                       ErrMissingKey,
		"   ":                    ErrMissingKey,
		"short-key":              ErrWeakKey,
		strings.Repeat("a", 64):  ErrWeakKey,
		strings.Repeat("ab", 40): ErrWeakKey,
		hex.EncodeToString(make([]byte, KeySize)): ErrWeakKey,
	}
	for material, want := range cases {
		if _, err := DeriveKey(material); !errors.Is(err, want) {
			t.Fatalf("material %q: expected %v, got %v", material, want, err)
		}
	}
}

func TestDeriveKeyStretchesPassphrase(t *testing.T) {
	a, err := DeriveKey(testMaterial)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	b, _ := DeriveKey(testMaterial)
	if len(a) != KeySize || !bytes.Equal(a, b) {
		t.Fatal("expected deterministic 32-byte key")
	}
}

func TestLooksLikeCiphertext(t *testing.T) {
	c := newTestCipher(t)
	ct, _ := c.EncryptString("x")

	if !LooksLikeCiphertext(ct) {
		t.Fatal("expected ciphertext shape to be recognised")
	}
	for _, legacy := range []string{"JBSWY3DPEHPK3PXP", "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", ""} {
		if LooksLikeCiphertext(legacy) {
			t.Fatalf("legacy base32 secret %q misclassified as ciphertext", legacy)
		}
	}
}
