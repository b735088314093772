package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/sentra-io/devicetrust/internal/detect"
	"github.com/sentra-io/devicetrust/internal/fingerprint"
	"github.com/sentra-io/devicetrust/internal/models"
	"github.com/sentra-io/devicetrust/internal/repository"
	"github.com/sentra-io/devicetrust/internal/util/logger"
)

// RedisCacher is the subset of the Redis client used for record caching.
// Nil disables caching; every decision re-verifies against the store anyway.
type RedisCacher interface {
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
}

const fingerprintCachePrefix = "df:"

// Decision is the outcome of one device-security evaluation.
type Decision struct {
	Allowed       bool             `json:"allowed"`
	Reason        string           `json:"reason,omitempty"`
	RiskLevel     models.RiskLevel `json:"risk_level"`
	BlockedUntil  *time.Time       `json:"blocked_until,omitempty"`
	FingerprintID string           `json:"fingerprint_id"`
}

// SecurityConfig tunes the evaluation pipeline.
type SecurityConfig struct {
	HourlyAttemptLimit int
	DailyAttemptLimit  int
	// CompareSampleSize bounds how many recently seen fingerprints are
	// compared against for near-duplicate detection.
	CompareSampleSize int
	BlockDurations    BlockDurations
	// StoreTimeout bounds every persistence call made inside an evaluation.
	StoreTimeout time.Duration
	CacheTTL     time.Duration
	// ExtraVPNRanges extends the built-in datacenter CIDR list.
	ExtraVPNRanges []string
}

func (c *SecurityConfig) applyDefaults() {
	if c.CompareSampleSize <= 0 {
		c.CompareSampleSize = 20
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 3 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
}

// SecurityService is the decision engine gating sensitive account actions
// behind a device-trust evaluation. It is explicitly constructed with its
// collaborators; there is no process-wide instance.
type SecurityService struct {
	store     repository.Store
	limiter   *RateLimiter
	blocks    *BlockManager
	scorer    RiskScorer
	detectors []detect.Detector
	events    *eventLog
	rdb       RedisCacher
	cfg       SecurityConfig
	now       func() time.Time
}

// NewSecurityService wires the engine. rdb and sink may be nil.
func NewSecurityService(store repository.Store, rdb RedisCacher, sink EventSink, cfg SecurityConfig) *SecurityService {
	cfg.applyDefaults()

	var counter rateCounter
	if rdb != nil {
		if rc, ok := rdb.(rateCounter); ok {
			counter = rc
		}
	}

	return &SecurityService{
		store:     store,
		limiter:   NewRateLimiter(store, counter, cfg.HourlyAttemptLimit, cfg.DailyAttemptLimit),
		blocks:    NewBlockManager(store, sink, cfg.BlockDurations),
		detectors: detect.Defaults(cfg.ExtraVPNRanges),
		events:    newEventLog(store, sink),
		rdb:       rdb,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate runs the full decision pipeline for one sensitive action.
//
// Any internal persistence failure fails open: the action is allowed with a
// forced medium risk level and a logged event. An error is itself
// suspicious, so the fail-open path never reports low risk.
func (s *SecurityService) Evaluate(ctx context.Context, email string, signals fingerprint.SignalSet, ip string) (*Decision, error) {
	fp := fingerprint.Build(signals)

	dec, err := s.evaluate(ctx, email, fp, signals, ip)
	if err != nil {
		return s.failOpen(ctx, fp.ID, err), nil
	}
	return dec, nil
}

func (s *SecurityService) evaluate(ctx context.Context, email string, fp fingerprint.Fingerprint, signals fingerprint.SignalSet, ip string) (*Decision, error) {
	now := s.now()

	rec, err := s.upsertRecord(ctx, fp, now)
	if err != nil {
		return nil, err
	}

	// An active, non-expired block short-circuits everything else.
	if governing, err := s.effectiveBlock(ctx, fp.ID); err != nil {
		return nil, err
	} else if governing != nil {
		return s.denied(rec.RiskLevel, fp.ID, governing), nil
	}

	if err := s.recordAttempt(ctx, fp.ID, email, now); err != nil {
		return nil, err
	}

	tags := s.detectTags(ctx, fp, signals, ip)

	risk := s.scorer.Score(tags, History{
		FailedAttempts:  rec.FailedAttempts,
		StoredRiskLevel: rec.RiskLevel,
	})
	if err := s.setRiskLevel(ctx, fp.ID, risk); err != nil {
		return nil, err
	}

	rate, err := s.checkRate(ctx, fp.ID)
	if err != nil {
		return nil, err
	}

	if blockDec := s.blocks.Decide(risk, tags, rate.Exceeded); blockDec != nil {
		governing, err := s.applyBlock(ctx, fp.ID, blockDec)
		if err != nil {
			return nil, err
		}
		return s.denied(risk, fp.ID, governing), nil
	}

	if email != "" {
		if err := s.addEmail(ctx, fp.ID, email); err != nil {
			return nil, err
		}
	}
	s.cacheSet(ctx, rec)

	return &Decision{
		Allowed:       true,
		RiskLevel:     risk,
		FingerprintID: fp.ID,
	}, nil
}

// ReportOutcome records the caller's outcome of the gated action.
func (s *SecurityService) ReportOutcome(ctx context.Context, fingerprintID string, success bool) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.RecordAttemptOutcome(ctx, fingerprintID, success)
}

// Unblock administratively lifts all active blocks for the fingerprint.
// Idempotent.
func (s *SecurityService) Unblock(ctx context.Context, fingerprintID string) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.blocks.Unblock(ctx, fingerprintID)
}

// Status returns the stored record, preferring the cache.
func (s *SecurityService) Status(ctx context.Context, fingerprintID string) (*models.DeviceFingerprint, error) {
	if s.rdb != nil {
		var cached models.DeviceFingerprint
		if err := s.rdb.GetJSON(ctx, fingerprintCachePrefix+fingerprintID, &cached); err == nil && cached.FingerprintID != "" {
			return &cached, nil
		}
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.GetFingerprint(ctx, fingerprintID)
}

// Events lists recent security events for a fingerprint.
func (s *SecurityService) Events(ctx context.Context, fingerprintID string, limit int) ([]models.SecurityEvent, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.ListEvents(ctx, fingerprintID, limit)
}

// --- pipeline steps ---

func (s *SecurityService) upsertRecord(ctx context.Context, fp fingerprint.Fingerprint, now time.Time) (*models.DeviceFingerprint, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.UpsertFingerprint(ctx, &models.DeviceFingerprint{
		FingerprintID: fp.ID,
		Components:    fp.Strings(),
		FirstSeen:     now,
		LastSeen:      now,
		RiskLevel:     models.RiskLow,
	})
}

func (s *SecurityService) effectiveBlock(ctx context.Context, fingerprintID string) (*models.DeviceBlock, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.blocks.Effective(ctx, fingerprintID)
}

func (s *SecurityService) recordAttempt(ctx context.Context, fingerprintID, email string, now time.Time) error {
	s.limiter.Observe(ctx, fingerprintID)
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.InsertAttempt(ctx, &models.LoginAttempt{
		ID:            uuid.NewString(),
		FingerprintID: fingerprintID,
		Email:         email,
		CreatedAt:     now,
	})
}

// detectTags runs the detector chain and the near-duplicate comparison
// against a bounded sample of other stored fingerprints, logging one event
// per detected tag. Detection is best effort and never fails the pipeline.
func (s *SecurityService) detectTags(ctx context.Context, fp fingerprint.Fingerprint, signals fingerprint.SignalSet, ip string) detect.TagSet {
	tags := detect.NewTagSet()
	in := detect.Input{Signals: signals, IP: ip}
	for _, d := range s.detectors {
		tags.Add(d(in)...)
	}

	var nearDupCtx json.RawMessage
	sampleCtx, cancel := s.storeCtx(ctx)
	sample, err := s.store.ListRecentFingerprints(sampleCtx, s.cfg.CompareSampleSize, fp.ID)
	cancel()
	if err != nil {
		logger.Warn("near-duplicate sample unavailable for %s: %v", fp.ID, err)
	} else {
		for i := range sample {
			other := fingerprint.FromStored(sample[i].FingerprintID, sample[i].Components)
			res := fingerprint.Compare(fp, other)
			if res.NearDuplicate() {
				tags.Add(detect.TagNearDuplicate)
				nearDupCtx, _ = json.Marshal(map[string]any{
					"similarity":        res.Similarity,
					"other_fingerprint": other.ID,
				})
				break
			}
		}
	}

	for _, tag := range tags.List() {
		evType, severity := detect.EventFor(tag)
		evt := &models.SecurityEvent{
			ID:            uuid.NewString(),
			FingerprintID: fp.ID,
			EventType:     evType,
			Severity:      severity,
			Description:   "Suspicious activity detected: " + string(tag),
			CreatedAt:     s.now(),
		}
		if tag == detect.TagNearDuplicate {
			evt.Context = nearDupCtx
		}
		s.events.Record(ctx, evt)
	}
	return tags
}

func (s *SecurityService) setRiskLevel(ctx context.Context, fingerprintID string, risk models.RiskLevel) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.SetRiskLevel(ctx, fingerprintID, risk)
}

func (s *SecurityService) checkRate(ctx context.Context, fingerprintID string) (RateLimitResult, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.limiter.Check(ctx, fingerprintID)
}

func (s *SecurityService) applyBlock(ctx context.Context, fingerprintID string, dec *BlockDecision) (*models.DeviceBlock, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	governing, err := s.blocks.Apply(ctx, fingerprintID, dec)
	if errors.Is(err, ErrRaceLost) {
		// A parallel evaluation created a more restrictive block; adopt it.
		return governing, nil
	}
	return governing, err
}

func (s *SecurityService) addEmail(ctx context.Context, fingerprintID, email string) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.AddAssociatedEmail(ctx, fingerprintID, email)
}

// denied builds the user-visible denial. The reason only states the
// remaining time, never internal tag names or thresholds.
func (s *SecurityService) denied(risk models.RiskLevel, fingerprintID string, governing *models.DeviceBlock) *Decision {
	until := governing.BlockedUntil
	remaining := int(math.Ceil(until.Sub(s.now()).Hours()))
	if remaining < 1 {
		remaining = 1
	}
	return &Decision{
		Allowed:       false,
		Reason:        fmt.Sprintf("Access temporarily blocked. Try again in %d hour(s).", remaining),
		RiskLevel:     risk,
		BlockedUntil:  &until,
		FingerprintID: fingerprintID,
	}
}

// failOpen converts an internal failure into an allow with forced medium
// risk plus a logged event. Gating must never hard-crash the caller's flow.
func (s *SecurityService) failOpen(ctx context.Context, fingerprintID string, cause error) *Decision {
	logger.Error("device evaluation failed for %s, failing open: %v", fingerprintID, cause)
	s.events.Record(ctx, &models.SecurityEvent{
		ID:            uuid.NewString(),
		FingerprintID: fingerprintID,
		EventType:     models.EventSuspiciousBehavior,
		Severity:      models.RiskMedium,
		Description:   "Evaluation error; risk forced to medium",
		ActionTaken:   "evaluation_error",
		CreatedAt:     s.now(),
	})
	return &Decision{
		Allowed:       true,
		RiskLevel:     models.RiskMedium,
		FingerprintID: fingerprintID,
	}
}

func (s *SecurityService) cacheSet(ctx context.Context, rec *models.DeviceFingerprint) {
	if s.rdb == nil || rec == nil {
		return
	}
	_ = s.rdb.SetJSON(ctx, fingerprintCachePrefix+rec.FingerprintID, rec, s.cfg.CacheTTL)
}

func (s *SecurityService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}
