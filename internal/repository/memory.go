package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sentra-io/devicetrust/internal/models"
)

// MemoryStore is an in-process Store used for development mode and tests.
// It honors the same atomicity contract as the Postgres store: every mutation
// happens under one lock acquisition.
type MemoryStore struct {
	mu           sync.RWMutex
	fingerprints map[string]*models.DeviceFingerprint
	events       []models.SecurityEvent
	blocks       []models.DeviceBlock
	attempts     []models.LoginAttempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		fingerprints: make(map[string]*models.DeviceFingerprint),
	}
}

func (s *MemoryStore) GetFingerprint(_ context.Context, fingerprintID string) (*models.DeviceFingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.fingerprints[fingerprintID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneFingerprint(fp)
	return &cp, nil
}

func (s *MemoryStore) UpsertFingerprint(_ context.Context, fp *models.DeviceFingerprint) (*models.DeviceFingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.fingerprints[fp.FingerprintID]
	if !ok {
		cp := cloneFingerprint(fp)
		if cp.RiskLevel == "" {
			cp.RiskLevel = models.RiskLow
		}
		cp.FirstSeen = fp.LastSeen
		s.fingerprints[fp.FingerprintID] = &cp
		out := cloneFingerprint(&cp)
		return &out, nil
	}
	if fp.LastSeen.After(existing.LastSeen) {
		existing.LastSeen = fp.LastSeen
	}
	out := cloneFingerprint(existing)
	return &out, nil
}

func (s *MemoryStore) RecordAttemptOutcome(_ context.Context, fingerprintID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.fingerprints[fingerprintID]
	if !ok {
		return nil
	}
	fp.TotalAttempts++
	if success {
		fp.SuccessfulAttempts++
	} else {
		fp.FailedAttempts++
	}
	return nil
}

func (s *MemoryStore) AddAssociatedEmail(_ context.Context, fingerprintID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.fingerprints[fingerprintID]
	if !ok {
		return nil
	}
	for _, e := range fp.AssociatedEmails {
		if e == email {
			return nil
		}
	}
	fp.AssociatedEmails = append(fp.AssociatedEmails, email)
	return nil
}

func (s *MemoryStore) SetRiskLevel(_ context.Context, fingerprintID string, level models.RiskLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fp, ok := s.fingerprints[fingerprintID]; ok {
		fp.RiskLevel = level
	}
	return nil
}

func (s *MemoryStore) SetBlockState(_ context.Context, fingerprintID string, blocked bool, until *time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fp, ok := s.fingerprints[fingerprintID]; ok {
		fp.IsBlocked = blocked
		fp.BlockedUntil = until
		fp.BlockReason = reason
	}
	return nil
}

func (s *MemoryStore) ListRecentFingerprints(_ context.Context, limit int, excludeID string) ([]models.DeviceFingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DeviceFingerprint, 0, len(s.fingerprints))
	for id, fp := range s.fingerprints {
		if id == excludeID {
			continue
		}
		out = append(out, cloneFingerprint(fp))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, evt *models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *evt)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, fingerprintID string, limit int) ([]models.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SecurityEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].FingerprintID == fingerprintID {
			out = append(out, s.events[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertBlock(_ context.Context, b *models.DeviceBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, *b)
	return nil
}

func (s *MemoryStore) ListActiveBlocks(_ context.Context, fingerprintID string) ([]models.DeviceBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DeviceBlock
	for _, b := range s.blocks {
		if b.FingerprintID == fingerprintID && b.IsActive {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockedUntil.After(out[j].BlockedUntil) })
	return out, nil
}

func (s *MemoryStore) DeactivateBlocks(_ context.Context, fingerprintID string, liftedAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.blocks {
		if s.blocks[i].FingerprintID == fingerprintID && s.blocks[i].IsActive {
			s.blocks[i].IsActive = false
			t := liftedAt
			s.blocks[i].LiftedAt = &t
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) InsertAttempt(_ context.Context, a *models.LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *a)
	return nil
}

func (s *MemoryStore) CountAttemptsSince(_ context.Context, fingerprintID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.attempts {
		if a.FingerprintID == fingerprintID && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func cloneFingerprint(fp *models.DeviceFingerprint) models.DeviceFingerprint {
	cp := *fp
	cp.Components = append([]string(nil), fp.Components...)
	cp.AssociatedEmails = append([]string(nil), fp.AssociatedEmails...)
	if fp.BlockedUntil != nil {
		t := *fp.BlockedUntil
		cp.BlockedUntil = &t
	}
	return cp
}
