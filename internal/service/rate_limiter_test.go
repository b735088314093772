package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra-io/devicetrust/internal/models"
	"github.com/sentra-io/devicetrust/internal/repository"
)

func insertAttempts(t *testing.T, store repository.Store, fingerprintID string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := store.InsertAttempt(context.Background(), &models.LoginAttempt{
			ID:            uuid.NewString(),
			FingerprintID: fingerprintID,
			CreatedAt:     at,
		})
		require.NoError(t, err)
	}
}

func TestRateLimiterUnderLimit(t *testing.T) {
	store := repository.NewMemoryStore()
	limiter := NewRateLimiter(store, nil, 0, 0)

	now := time.Now().UTC()
	limiter.now = func() time.Time { return now }

	insertAttempts(t, store, "fp1", 9, now.Add(-time.Minute))

	res, err := limiter.Check(context.Background(), "fp1")
	require.NoError(t, err)
	assert.False(t, res.Exceeded)
	assert.Equal(t, 9, res.Hourly)
}

func TestRateLimiterHourlyBoundary(t *testing.T) {
	store := repository.NewMemoryStore()
	limiter := NewRateLimiter(store, nil, 0, 0)

	now := time.Now().UTC()
	limiter.now = func() time.Time { return now }

	// The 10th attempt inside the hour trips the limit (>=, not >).
	insertAttempts(t, store, "fp1", 10, now.Add(-time.Minute))

	res, err := limiter.Check(context.Background(), "fp1")
	require.NoError(t, err)
	assert.True(t, res.Exceeded)
	assert.Equal(t, 10, res.Hourly)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	store := repository.NewMemoryStore()
	limiter := NewRateLimiter(store, nil, 0, 0)

	now := time.Now().UTC()
	limiter.now = func() time.Time { return now }

	// Attempts older than an hour leave the hourly window but stay in the
	// daily one.
	insertAttempts(t, store, "fp1", 10, now.Add(-2*time.Hour))
	insertAttempts(t, store, "fp1", 5, now.Add(-time.Minute))

	res, err := limiter.Check(context.Background(), "fp1")
	require.NoError(t, err)
	assert.False(t, res.Exceeded)
	assert.Equal(t, 5, res.Hourly)
	assert.Equal(t, 15, res.Daily)
}

func TestRateLimiterDailyLimit(t *testing.T) {
	store := repository.NewMemoryStore()
	limiter := NewRateLimiter(store, nil, 0, 0)

	now := time.Now().UTC()
	limiter.now = func() time.Time { return now }

	// Spread below the hourly limit but past the daily one.
	insertAttempts(t, store, "fp1", 9, now.Add(-20*time.Hour))
	insertAttempts(t, store, "fp1", 9, now.Add(-10*time.Hour))
	insertAttempts(t, store, "fp1", 7, now.Add(-time.Minute))

	res, err := limiter.Check(context.Background(), "fp1")
	require.NoError(t, err)
	assert.True(t, res.Exceeded)
	assert.Equal(t, 25, res.Daily)
}

func TestRateLimiterPerFingerprintIsolation(t *testing.T) {
	store := repository.NewMemoryStore()
	limiter := NewRateLimiter(store, nil, 0, 0)

	now := time.Now().UTC()
	limiter.now = func() time.Time { return now }

	insertAttempts(t, store, "fp1", 20, now.Add(-time.Minute))

	res, err := limiter.Check(context.Background(), "fp2")
	require.NoError(t, err)
	assert.False(t, res.Exceeded)
	assert.Zero(t, res.Hourly)
}

type countingCounter struct {
	keys []string
}

func (c *countingCounter) IncrementWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.keys = append(c.keys, key)
	return int64(len(c.keys)), nil
}

func TestRateLimiterObserve(t *testing.T) {
	store := repository.NewMemoryStore()
	counter := &countingCounter{}
	limiter := NewRateLimiter(store, counter, 0, 0)

	limiter.Observe(context.Background(), "fp1")
	require.Len(t, counter.keys, 2)
	assert.Equal(t, "ratewin:h:fp1", counter.keys[0])
	assert.Equal(t, "ratewin:d:fp1", counter.keys[1])

	// Nil counter is a no-op.
	NewRateLimiter(store, nil, 0, 0).Observe(context.Background(), "fp1")
}
