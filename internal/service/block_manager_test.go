package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra-io/devicetrust/internal/detect"
	"github.com/sentra-io/devicetrust/internal/models"
	"github.com/sentra-io/devicetrust/internal/repository"
)

func TestDecidePriorityOrder(t *testing.T) {
	m := NewBlockManager(repository.NewMemoryStore(), nil, BlockDurations{})

	// Critical risk outranks everything, automation tags included.
	dec := m.Decide(models.RiskCritical, detect.NewTagSet(detect.TagWebdriver), true)
	require.NotNil(t, dec)
	assert.Equal(t, models.BlockCritical, dec.Type)
	assert.Equal(t, 168*time.Hour, dec.Duration)

	// Automation outranks rate exhaustion.
	dec = m.Decide(models.RiskMedium, detect.NewTagSet(detect.TagSelenium), true)
	require.NotNil(t, dec)
	assert.Equal(t, models.BlockLong, dec.Type)
	assert.Equal(t, 48*time.Hour, dec.Duration)
	assert.Equal(t, models.EventAutomationDetected, dec.Trigger)

	// Rate exhaustion alone earns the short tier.
	dec = m.Decide(models.RiskLow, detect.NewTagSet(), true)
	require.NotNil(t, dec)
	assert.Equal(t, models.BlockShort, dec.Type)
	assert.Equal(t, 6*time.Hour, dec.Duration)
	assert.Equal(t, models.EventRateLimitExceeded, dec.Trigger)
}

func TestDecideHighRiskNeedsEnoughTags(t *testing.T) {
	m := NewBlockManager(repository.NewMemoryStore(), nil, BlockDurations{})

	two := detect.NewTagSet(detect.TagVPN, detect.TagInvalidScreen)
	assert.Nil(t, m.Decide(models.RiskHigh, two, false))

	three := detect.NewTagSet(detect.TagVPN, detect.TagInvalidScreen, detect.TagLimitedFonts)
	dec := m.Decide(models.RiskHigh, three, false)
	require.NotNil(t, dec)
	assert.Equal(t, models.BlockShort, dec.Type)
}

func TestDecideNoRuleFires(t *testing.T) {
	m := NewBlockManager(repository.NewMemoryStore(), nil, BlockDurations{})
	assert.Nil(t, m.Decide(models.RiskMedium, detect.NewTagSet(detect.TagVPN), false))
	assert.Nil(t, m.Decide(models.RiskLow, detect.NewTagSet(), false))
}

func TestApplyBlocksDevice(t *testing.T) {
	store := repository.NewMemoryStore()
	m := NewBlockManager(store, nil, BlockDurations{})
	ctx := context.Background()

	seedFingerprint(t, store, "fp1")

	dec := m.Decide(models.RiskLow, detect.NewTagSet(), true)
	require.NotNil(t, dec)

	governing, err := m.Apply(ctx, "fp1", dec)
	require.NoError(t, err)
	require.NotNil(t, governing)
	assert.Equal(t, models.BlockShort, governing.BlockType)

	rec, err := store.GetFingerprint(ctx, "fp1")
	require.NoError(t, err)
	assert.True(t, rec.IsBlocked)
	require.NotNil(t, rec.BlockedUntil)
	assert.Equal(t, governing.BlockedUntil, *rec.BlockedUntil)

	events, err := store.ListEvents(ctx, "fp1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventRateLimitExceeded, events[0].EventType)
	assert.Equal(t, "device_blocked", events[0].ActionTaken)
}

func TestApplyRaceAdoptsStricterBlock(t *testing.T) {
	store := repository.NewMemoryStore()
	m := NewBlockManager(store, nil, BlockDurations{})
	ctx := context.Background()

	seedFingerprint(t, store, "fp1")

	// A concurrent evaluation already placed a longer block.
	longer := &models.DeviceBlock{
		ID:            uuid.NewString(),
		FingerprintID: "fp1",
		BlockType:     models.BlockCritical,
		Reason:        "Critical risk assessment for this device",
		BlockedUntil:  time.Now().UTC().Add(168 * time.Hour),
		IsActive:      true,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.InsertBlock(ctx, longer))

	dec := m.Decide(models.RiskLow, detect.NewTagSet(), true)
	governing, err := m.Apply(ctx, "fp1", dec)
	require.ErrorIs(t, err, ErrRaceLost)
	require.NotNil(t, governing)
	assert.Equal(t, longer.ID, governing.ID)

	// The denormalized view reflects the winning block.
	rec, err := store.GetFingerprint(ctx, "fp1")
	require.NoError(t, err)
	require.NotNil(t, rec.BlockedUntil)
	assert.Equal(t, longer.BlockedUntil, *rec.BlockedUntil)
}

func TestEffectiveIgnoresExpiredBlocks(t *testing.T) {
	store := repository.NewMemoryStore()
	m := NewBlockManager(store, nil, BlockDurations{})
	ctx := context.Background()

	expired := &models.DeviceBlock{
		ID:            uuid.NewString(),
		FingerprintID: "fp1",
		BlockType:     models.BlockShort,
		BlockedUntil:  time.Now().UTC().Add(-time.Hour),
		IsActive:      true,
		CreatedAt:     time.Now().UTC().Add(-7 * time.Hour),
	}
	require.NoError(t, store.InsertBlock(ctx, expired))

	governing, err := m.Effective(ctx, "fp1")
	require.NoError(t, err)
	assert.Nil(t, governing)
}

func TestUnblockIdempotent(t *testing.T) {
	store := repository.NewMemoryStore()
	m := NewBlockManager(store, nil, BlockDurations{})
	ctx := context.Background()

	seedFingerprint(t, store, "fp1")
	require.NoError(t, store.SetRiskLevel(ctx, "fp1", models.RiskCritical))

	dec := m.Decide(models.RiskCritical, detect.NewTagSet(), false)
	_, err := m.Apply(ctx, "fp1", dec)
	require.NoError(t, err)

	require.NoError(t, m.Unblock(ctx, "fp1"))

	rec, err := store.GetFingerprint(ctx, "fp1")
	require.NoError(t, err)
	assert.False(t, rec.IsBlocked)
	assert.Nil(t, rec.BlockedUntil)
	assert.Equal(t, models.RiskLow, rec.RiskLevel)

	governing, err := m.Effective(ctx, "fp1")
	require.NoError(t, err)
	assert.Nil(t, governing)

	// One device_blocked, one device_unblocked.
	events, err := store.ListEvents(ctx, "fp1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "device_unblocked", events[0].ActionTaken)

	// A second unblock succeeds without recording another event.
	require.NoError(t, m.Unblock(ctx, "fp1"))
	events, err = store.ListEvents(ctx, "fp1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func seedFingerprint(t *testing.T, store repository.Store, id string) {
	t.Helper()
	_, err := store.UpsertFingerprint(context.Background(), &models.DeviceFingerprint{
		FingerprintID: id,
		Components:    []string{"version=v1"},
		FirstSeen:     time.Now().UTC(),
		LastSeen:      time.Now().UTC(),
		RiskLevel:     models.RiskLow,
	})
	require.NoError(t, err)
}
