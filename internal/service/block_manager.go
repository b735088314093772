package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sentra-io/devicetrust/internal/detect"
	"github.com/sentra-io/devicetrust/internal/models"
	"github.com/sentra-io/devicetrust/internal/repository"
	"github.com/sentra-io/devicetrust/internal/util/logger"
)

// ErrRaceLost signals that a concurrent evaluation created a more
// restrictive block while this one was being applied. Callers should adopt
// the returned governing block rather than treat this as a failure.
var ErrRaceLost = errors.New("superseded by a more restrictive concurrent block")

// BlockDurations are the three duration tiers.
type BlockDurations struct {
	Short    time.Duration
	Long     time.Duration
	Critical time.Duration
}

// DefaultBlockDurations returns the standard tiers.
func DefaultBlockDurations() BlockDurations {
	return BlockDurations{
		Short:    6 * time.Hour,
		Long:     48 * time.Hour,
		Critical: 168 * time.Hour,
	}
}

// BlockDecision describes a pending transition into the blocked state.
type BlockDecision struct {
	Type     models.BlockType
	Duration time.Duration
	Reason   string
	Trigger  models.EventType
}

// BlockManager owns the Unblocked -> Blocked -> Unblocked state machine.
// It is the only component that creates or mutates DeviceBlock rows.
// Expiry is a read-time projection: an expired block is simply ignored at
// evaluation time, its row is never rewritten.
type BlockManager struct {
	store     repository.Store
	events    *eventLog
	durations BlockDurations
	now       func() time.Time
}

func NewBlockManager(store repository.Store, sink EventSink, durations BlockDurations) *BlockManager {
	if durations.Short <= 0 {
		durations.Short = 6 * time.Hour
	}
	if durations.Long <= 0 {
		durations.Long = 48 * time.Hour
	}
	if durations.Critical <= 0 {
		durations.Critical = 168 * time.Hour
	}
	return &BlockManager{
		store:     store,
		events:    newEventLog(store, sink),
		durations: durations,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// minSuspiciousTags is the tag count that, combined with high risk, earns a
// short block.
const minSuspiciousTags = 3

// Decide evaluates the blocking rules in fixed priority order and returns
// the first that fires, or nil. Rules never combine.
func (m *BlockManager) Decide(risk models.RiskLevel, tags detect.TagSet, rateExceeded bool) *BlockDecision {
	switch {
	case risk == models.RiskCritical:
		return &BlockDecision{
			Type:     models.BlockCritical,
			Duration: m.durations.Critical,
			Reason:   "Critical risk assessment for this device",
			Trigger:  models.EventSuspiciousBehavior,
		}
	case tags.HasAny(detect.AutomationTags...):
		return &BlockDecision{
			Type:     models.BlockLong,
			Duration: m.durations.Long,
			Reason:   "Automated browsing tooling detected",
			Trigger:  models.EventAutomationDetected,
		}
	case rateExceeded:
		return &BlockDecision{
			Type:     models.BlockShort,
			Duration: m.durations.Short,
			Reason:   "Too many attempts from this device",
			Trigger:  models.EventRateLimitExceeded,
		}
	case risk == models.RiskHigh && len(tags) >= minSuspiciousTags:
		return &BlockDecision{
			Type:     models.BlockShort,
			Duration: m.durations.Short,
			Reason:   "Multiple suspicious signals from this device",
			Trigger:  models.EventSuspiciousBehavior,
		}
	}
	return nil
}

// Effective returns the governing block for the fingerprint: the active,
// non-expired block with the latest blocked_until, or nil when the device
// is effectively unblocked.
func (m *BlockManager) Effective(ctx context.Context, fingerprintID string) (*models.DeviceBlock, error) {
	blocks, err := m.store.ListActiveBlocks(ctx, fingerprintID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var governing *models.DeviceBlock
	for i := range blocks {
		b := &blocks[i]
		if b.Expired(now) {
			continue
		}
		if governing == nil || b.BlockedUntil.After(governing.BlockedUntil) {
			governing = b
		}
	}
	return governing, nil
}

// Apply transitions the fingerprint into the blocked state: it inserts the
// block, re-reads the active set to settle concurrent races, updates the
// denormalized view, and records the device_blocked event. The returned
// block is the governing one; when a concurrent evaluation won with a more
// restrictive block, that block is returned along with ErrRaceLost.
func (m *BlockManager) Apply(ctx context.Context, fingerprintID string, dec *BlockDecision) (*models.DeviceBlock, error) {
	now := m.now()
	block := &models.DeviceBlock{
		ID:            uuid.NewString(),
		FingerprintID: fingerprintID,
		BlockType:     dec.Type,
		Reason:        dec.Reason,
		BlockedUntil:  now.Add(dec.Duration),
		IsActive:      true,
		CreatedAt:     now,
	}
	if err := m.store.InsertBlock(ctx, block); err != nil {
		return nil, err
	}

	// Insert-then-re-check: if a parallel evaluation created a block with a
	// later blocked_until, that one governs.
	governing, err := m.Effective(ctx, fingerprintID)
	if err != nil {
		return nil, err
	}
	if governing == nil {
		governing = block
	}

	until := governing.BlockedUntil
	if err := m.store.SetBlockState(ctx, fingerprintID, true, &until, governing.Reason); err != nil {
		return nil, err
	}

	m.logTransition(ctx, fingerprintID, dec, governing)

	if governing.ID != block.ID {
		return governing, ErrRaceLost
	}
	return governing, nil
}

// Unblock lifts every active block for the fingerprint and resets the cached
// risk level to low. Idempotent: unblocking an unblocked device is a no-op
// that still succeeds.
func (m *BlockManager) Unblock(ctx context.Context, fingerprintID string) error {
	now := m.now()
	n, err := m.store.DeactivateBlocks(ctx, fingerprintID, now)
	if err != nil {
		return err
	}
	if err := m.store.SetBlockState(ctx, fingerprintID, false, nil, ""); err != nil {
		return err
	}
	if err := m.store.SetRiskLevel(ctx, fingerprintID, models.RiskLow); err != nil {
		return err
	}
	if n > 0 {
		m.events.Record(ctx, &models.SecurityEvent{
			ID:            uuid.NewString(),
			FingerprintID: fingerprintID,
			EventType:     models.EventSuspiciousBehavior,
			Severity:      models.RiskLow,
			Description:   "Device unblocked by administrator",
			ActionTaken:   "device_unblocked",
			CreatedAt:     now,
		})
	}
	return nil
}

func (m *BlockManager) logTransition(ctx context.Context, fingerprintID string, dec *BlockDecision, governing *models.DeviceBlock) {
	m.events.Record(ctx, &models.SecurityEvent{
		ID:            uuid.NewString(),
		FingerprintID: fingerprintID,
		EventType:     dec.Trigger,
		Severity:      severityFor(dec.Type),
		Description:   dec.Reason,
		ActionTaken:   "device_blocked",
		CreatedAt:     m.now(),
	})
	logger.Info("device %s blocked (%s) until %s", fingerprintID, governing.BlockType, governing.BlockedUntil.Format(time.RFC3339))
}

func severityFor(t models.BlockType) models.RiskLevel {
	switch t {
	case models.BlockCritical:
		return models.RiskCritical
	case models.BlockLong:
		return models.RiskHigh
	default:
		return models.RiskMedium
	}
}
