package secrets

import "testing"

func BenchmarkEncrypt(b *testing.B) {
	c, err := New(testMaterial)
	if err != nil {
		b.Fatalf("New failed: %v", err)
	}
	plain := []byte("JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP")
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := c.Encrypt(plain); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecrypt(b *testing.B) {
	c, err := New(testMaterial)
	if err != nil {
		b.Fatalf("New failed: %v", err)
	}
	ct, err := c.Encrypt([]byte("JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"))
	if err != nil {
		b.Fatalf("Encrypt failed: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := c.Decrypt(ct); err != nil {
			b.Fatal(err)
		}
	}
}
