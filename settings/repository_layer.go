package settings

import (
	"context"
	"errors"
)

// Repository is the durable key/value table behind the caches.
type Repository interface {
	LoadSetting(ctx context.Context, key string) (Kind, string, error)
	SaveSetting(ctx context.Context, key string, kind Kind, raw string) error
	// SaveSettingIfAbsent inserts the value unless the key exists and
	// returns the value that is stored afterwards.
	SaveSettingIfAbsent(ctx context.Context, key string, kind Kind, raw string) (Kind, string, error)
}

// RepositoryLayer adapts a Repository to CacheLayer. It is the source of
// truth, so Invalidate is a no-op.
type RepositoryLayer struct {
	repo Repository
}

func NewRepositoryLayer(repo Repository) *RepositoryLayer {
	return &RepositoryLayer{repo: repo}
}

func (r *RepositoryLayer) Get(ctx context.Context, key string) (Value, bool, error) {
	kind, raw, err := r.repo.LoadSetting(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Value{}, false, nil
		}
		return Value{}, false, err
	}
	v, err := Decode(kind, raw)
	if err != nil {
		return Value{}, false, err
	}
	return v, true, nil
}

func (r *RepositoryLayer) Set(ctx context.Context, key string, value Value) error {
	kind, raw := value.Encode()
	return r.repo.SaveSetting(ctx, key, kind, raw)
}

func (r *RepositoryLayer) Invalidate(context.Context, string) error { return nil }

func (r *RepositoryLayer) SetIfAbsent(ctx context.Context, key string, value Value) (Value, error) {
	kind, raw := value.Encode()
	storedKind, storedRaw, err := r.repo.SaveSettingIfAbsent(ctx, key, kind, raw)
	if err != nil {
		return Value{}, err
	}
	return Decode(storedKind, storedRaw)
}
