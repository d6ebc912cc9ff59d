package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/copydesk/internal/config"
	"go.uber.org/zap"
)

const defaultLockTTL = 30 * time.Second

// CheckoutLimiter throttles checkout-session creation per user and keeps a
// user from running two checkouts at once. A nil limiter allows everything.
type CheckoutLimiter struct {
	client *redis.Client
	bucket bucket
	lock   userLock
}

// NewCheckoutLimiter returns nil when rate limiting is disabled.
func NewCheckoutLimiter(cfg config.Config, log *zap.Logger) (*CheckoutLimiter, error) {
	rl := cfg.RateLimit
	if !rl.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(rl.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if rl.CheckoutRate <= 0 || rl.CheckoutBurst <= 0 {
		return nil, errors.New("checkout rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(rl.RedisPassword),
		DB:       rl.RedisDB,
	})
	log.Named("ratelimit").Info("checkout rate limit enabled",
		zap.String("redis_addr", addr),
		zap.Float64("rate", rl.CheckoutRate),
		zap.Int("burst", rl.CheckoutBurst),
	)
	return newCheckoutLimiter(client, rl.CheckoutRate, rl.CheckoutBurst, rl.CheckoutLockTTL), nil
}

func newCheckoutLimiter(client *redis.Client, rate float64, burst int, lockTTL time.Duration) *CheckoutLimiter {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &CheckoutLimiter{
		client: client,
		bucket: bucket{client: client, rate: rate, burst: burst},
		lock:   userLock{client: client, ttl: lockTTL},
	}
}

func (l *CheckoutLimiter) Enabled() bool {
	return l != nil
}

func (l *CheckoutLimiter) AllowUser(ctx context.Context, userID string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	return l.bucket.take(ctx, "checkout:user:"+userID)
}

// TryLockUser returns a token to release with, and false when another
// checkout of the same user holds the lock.
func (l *CheckoutLimiter) TryLockUser(ctx context.Context, userID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.lock.acquire(ctx, "checkout:lock:"+userID)
}

func (l *CheckoutLimiter) ReleaseUser(ctx context.Context, userID, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.lock.release(ctx, "checkout:lock:"+userID, token)
}

func (l *CheckoutLimiter) Close() error {
	if !l.Enabled() {
		return nil
	}
	return l.client.Close()
}
