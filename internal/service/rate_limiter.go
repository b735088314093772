package service

import (
	"context"
	"time"

	"github.com/sentra-io/devicetrust/internal/repository"
	"github.com/sentra-io/devicetrust/internal/util/logger"
)

// Default sliding-window attempt bounds per fingerprint.
const (
	DefaultHourlyAttemptLimit = 10
	DefaultDailyAttemptLimit  = 25
)

// rateCounter is the subset of the Redis client the limiter relies on for
// its advisory fast path. Nil disables the fast path entirely.
type rateCounter interface {
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RateLimitResult reports the trailing-window counts for one fingerprint.
type RateLimitResult struct {
	Exceeded bool
	Hourly   int
	Daily    int
}

// RateLimiter computes sliding hourly/daily attempt windows from the
// append-only attempts log. The log is authoritative; Redis counters are an
// advisory short-circuit that degrades to the store on any failure. No
// attempt row is ever deleted here.
type RateLimiter struct {
	store       repository.Store
	counter     rateCounter
	hourlyLimit int
	dailyLimit  int
	now         func() time.Time
}

func NewRateLimiter(store repository.Store, counter rateCounter, hourlyLimit, dailyLimit int) *RateLimiter {
	if hourlyLimit <= 0 {
		hourlyLimit = DefaultHourlyAttemptLimit
	}
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyAttemptLimit
	}
	return &RateLimiter{
		store:       store,
		counter:     counter,
		hourlyLimit: hourlyLimit,
		dailyLimit:  dailyLimit,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Observe bumps the advisory Redis counters for an observed attempt.
// Best effort: a Redis failure is logged and ignored.
func (l *RateLimiter) Observe(ctx context.Context, fingerprintID string) {
	if l.counter == nil {
		return
	}
	if _, err := l.counter.IncrementWithTTL(ctx, "ratewin:h:"+fingerprintID, time.Hour); err != nil {
		logger.Debug("rate window counter unavailable: %v", err)
		return
	}
	_, _ = l.counter.IncrementWithTTL(ctx, "ratewin:d:"+fingerprintID, 24*time.Hour)
}

// Check counts attempts in the trailing hour and day. Exceeded is true when
// either count reaches its limit (>=, not >).
func (l *RateLimiter) Check(ctx context.Context, fingerprintID string) (RateLimitResult, error) {
	now := l.now()

	hourly, err := l.store.CountAttemptsSince(ctx, fingerprintID, now.Add(-time.Hour))
	if err != nil {
		return RateLimitResult{}, err
	}
	daily, err := l.store.CountAttemptsSince(ctx, fingerprintID, now.Add(-24*time.Hour))
	if err != nil {
		return RateLimitResult{}, err
	}

	return RateLimitResult{
		Exceeded: hourly >= l.hourlyLimit || daily >= l.dailyLimit,
		Hourly:   hourly,
		Daily:    daily,
	}, nil
}
