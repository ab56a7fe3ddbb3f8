package settings

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("settings: key not found")

// CacheLayer is one tier of the settings lookup chain.
type CacheLayer interface {
	Get(ctx context.Context, key string) (Value, bool, error)
	Set(ctx context.Context, key string, value Value) error
	Invalidate(ctx context.Context, key string) error
}

// absentSetter is implemented by layers that can store a value only when
// the key is unset, returning whichever value ends up stored.
type absentSetter interface {
	SetIfAbsent(ctx context.Context, key string, value Value) (Value, error)
}

// Layered composes layers ordered fastest first. Reads fall through until a
// layer hits and back-fill the layers above it. Writes go to the last layer
// and invalidate the others.
type Layered struct {
	layers []CacheLayer
}

// NewLayered panics if no layers are given.
func NewLayered(layers ...CacheLayer) *Layered {
	if len(layers) == 0 {
		panic("settings: NewLayered needs at least one layer")
	}
	return &Layered{layers: layers}
}

func (l *Layered) Get(ctx context.Context, key string) (Value, bool, error) {
	last := len(l.layers) - 1
	for i, layer := range l.layers {
		v, ok, err := layer.Get(ctx, key)
		if err != nil {
			if i == last {
				return Value{}, false, err
			}
			log.WithError(err).WithField("key", key).Warn("settings: cache layer read failed")
			continue
		}
		if !ok {
			continue
		}
		for j := 0; j < i; j++ {
			if err := l.layers[j].Set(ctx, key, v); err != nil {
				log.WithError(err).WithField("key", key).Warn("settings: cache back-fill failed")
			}
		}
		return v, true, nil
	}
	return Value{}, false, nil
}

func (l *Layered) Set(ctx context.Context, key string, value Value) error {
	last := len(l.layers) - 1
	if err := l.layers[last].Set(ctx, key, value); err != nil {
		return err
	}
	l.invalidateAbove(ctx, key, last)
	return nil
}

func (l *Layered) Invalidate(ctx context.Context, key string) error {
	var firstErr error
	for _, layer := range l.layers {
		if err := layer.Invalidate(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetIfAbsent stores value unless the key already has one and returns the
// stored value. It is atomic when the last layer supports it.
func (l *Layered) SetIfAbsent(ctx context.Context, key string, value Value) (Value, error) {
	last := len(l.layers) - 1
	if setter, ok := l.layers[last].(absentSetter); ok {
		stored, err := setter.SetIfAbsent(ctx, key, value)
		if err != nil {
			return Value{}, err
		}
		l.invalidateAbove(ctx, key, last)
		return stored, nil
	}

	existing, ok, err := l.layers[last].Get(ctx, key)
	if err != nil {
		return Value{}, err
	}
	if ok {
		return existing, nil
	}
	if err := l.Set(ctx, key, value); err != nil {
		return Value{}, err
	}
	return value, nil
}

func (l *Layered) invalidateAbove(ctx context.Context, key string, idx int) {
	for i := 0; i < idx; i++ {
		if err := l.layers[i].Invalidate(ctx, key); err != nil {
			log.WithError(err).WithField("key", key).Warn("settings: cache invalidation failed")
		}
	}
}

// MemoryLayer is a process-local cache with a fixed TTL. A zero TTL keeps
// entries until invalidated.
type MemoryLayer struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   Value
	expires time.Time
}

func NewMemoryLayer(ttl time.Duration) *MemoryLayer {
	return &MemoryLayer{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (m *MemoryLayer) Get(_ context.Context, key string) (Value, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return Value{}, false, nil
	}
	if !entry.expires.IsZero() && !m.now().Before(entry.expires) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return Value{}, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryLayer) Set(_ context.Context, key string, value Value) error {
	entry := memoryEntry{value: value}
	if m.ttl > 0 {
		entry.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryLayer) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}
