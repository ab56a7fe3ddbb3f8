package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis transport errors.
var ErrRedisUnavailable = errors.New("settings: redis unavailable")

// RedisLayer shares cached settings between processes.
type RedisLayer struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisLayer caches under prefix+key for ttl.
func NewRedisLayer(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLayer {
	if prefix == "" {
		prefix = "panelauth:settings:"
	}
	return &RedisLayer{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisLayer) Get(ctx context.Context, key string) (Value, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Value{}, false, nil
		}
		return Value{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	v, err := unmarshalTagged(raw)
	if err != nil {
		// A corrupt cache entry is dropped and treated as a miss.
		_ = r.client.Del(ctx, r.prefix+key).Err()
		return Value{}, false, nil
	}
	return v, true, nil
}

func (r *RedisLayer) Set(ctx context.Context, key string, value Value) error {
	if err := r.client.Set(ctx, r.prefix+key, marshalTagged(value), r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (r *RedisLayer) Invalidate(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
