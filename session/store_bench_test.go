package session_test

import (
	"context"
	"testing"

	"github.com/MrEthical07/panelauth/internal/memstore"
	"github.com/MrEthical07/panelauth/session"
)

func BenchmarkValidateParallel(b *testing.B) {
	store, err := session.NewStore(memstore.New(), session.DefaultConfig())
	if err != nil {
		b.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()

	ids := make([]string, 1024)
	for i := range ids {
		sess, err := store.Create(ctx, "u1", "10.0.0.1", "bench")
		if err != nil {
			b.Fatalf("Create: %v", err)
		}
		ids[i] = sess.ID
	}
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := store.Validate(ctx, ids[i%len(ids)]); err != nil {
				b.Fatal(err)
			}
			i++
		}
	})
}
