package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter budgets. A zero budget disables that limiter.
type Config struct {
	MaxLoginPerIP int
	LoginWindow   time.Duration
	MaxTokenPerIP int
	TokenWindow   time.Duration
	MaxOTPSends   int
	OTPSendWindow time.Duration
	// FailOpen lets requests through when Redis is unreachable.
	FailOpen bool
}

// Limiter enforces per-IP and per-user budgets with Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin reports ErrRateLimited when ip has spent its login budget.
func (l *Limiter) CheckLogin(ctx context.Context, ip string) error {
	if l == nil || l.config.MaxLoginPerIP <= 0 || ip == "" {
		return nil
	}
	return l.guard(l.checkCounter(ctx, loginIPKey(ip), l.config.MaxLoginPerIP))
}

// IncrementLogin records a failed login from ip.
func (l *Limiter) IncrementLogin(ctx context.Context, ip string) error {
	if l == nil || l.config.MaxLoginPerIP <= 0 || ip == "" {
		return nil
	}
	_, err := l.incrementWithTTL(ctx, loginIPKey(ip), l.config.LoginWindow)
	return l.guard(err)
}

// ResetLogin clears ip's login counter after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, ip string) error {
	if l == nil || l.config.MaxLoginPerIP <= 0 || ip == "" {
		return nil
	}
	if err := l.redis.Del(ctx, loginIPKey(ip)).Err(); err != nil {
		return l.guard(fmt.Errorf("%w: %v", ErrRedisUnavailable, err))
	}
	return nil
}

// HitToken counts one token verification from ip and reports
// ErrRateLimited once the budget is exceeded.
func (l *Limiter) HitToken(ctx context.Context, ip string) error {
	if l == nil || l.config.MaxTokenPerIP <= 0 || ip == "" {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, tokenIPKey(ip), l.config.TokenWindow)
	if err != nil {
		return l.guard(err)
	}
	if count > int64(l.config.MaxTokenPerIP) {
		return ErrRateLimited
	}
	return nil
}

// HitOTPSend counts one code delivery for userID.
func (l *Limiter) HitOTPSend(ctx context.Context, userID string) error {
	if l == nil || l.config.MaxOTPSends <= 0 || userID == "" {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, otpSendKey(userID), l.config.OTPSendWindow)
	if err != nil {
		return l.guard(err)
	}
	if count > int64(l.config.MaxOTPSends) {
		return ErrRateLimited
	}
	return nil
}

// LoginAttempts returns ip's current counter. Missing keys return zero.
func (l *Limiter) LoginAttempts(ctx context.Context, ip string) (int, error) {
	count, err := l.redis.Get(ctx, loginIPKey(ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) guard(err error) error {
	if err != nil && l.config.FailOpen && errors.Is(err, ErrRedisUnavailable) {
		return nil
	}
	return err
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: only the first hit sets the TTL.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func loginIPKey(ip string) string   { return "pa:ip:" + ip }
func tokenIPKey(ip string) string   { return "pa:tok:" + ip }
func otpSendKey(user string) string { return "pa:otp:" + user }
