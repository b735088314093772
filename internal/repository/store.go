package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sentra-io/devicetrust/internal/models"
)

var (
	// ErrNotFound indicates the fingerprint record does not exist.
	ErrNotFound = errors.New("not found")
)

// Store is the persistence collaborator for the risk engine. The concrete
// backend is abstracted behind it: the engine only relies on lookup-by-key,
// insert, and atomic-update semantics.
//
// Counter mutations and email appends must be atomic at the store (a single
// statement), never read-modify-write in application code.
type Store interface {
	// Fingerprints
	GetFingerprint(ctx context.Context, fingerprintID string) (*models.DeviceFingerprint, error)
	// UpsertFingerprint inserts the record if absent, otherwise advances
	// last_seen, and returns the current row.
	UpsertFingerprint(ctx context.Context, fp *models.DeviceFingerprint) (*models.DeviceFingerprint, error)
	// RecordAttemptOutcome bumps total and the success/failure counter.
	RecordAttemptOutcome(ctx context.Context, fingerprintID string, success bool) error
	AddAssociatedEmail(ctx context.Context, fingerprintID, email string) error
	SetRiskLevel(ctx context.Context, fingerprintID string, level models.RiskLevel) error
	// SetBlockState maintains the denormalized block view on the record.
	SetBlockState(ctx context.Context, fingerprintID string, blocked bool, until *time.Time, reason string) error
	// ListRecentFingerprints returns up to limit records other than
	// excludeID, most recently seen first.
	ListRecentFingerprints(ctx context.Context, limit int, excludeID string) ([]models.DeviceFingerprint, error)

	// Security events (append-only)
	InsertEvent(ctx context.Context, evt *models.SecurityEvent) error
	ListEvents(ctx context.Context, fingerprintID string, limit int) ([]models.SecurityEvent, error)

	// Blocks
	InsertBlock(ctx context.Context, b *models.DeviceBlock) error
	ListActiveBlocks(ctx context.Context, fingerprintID string) ([]models.DeviceBlock, error)
	// DeactivateBlocks flips is_active off for every active block of the
	// fingerprint and reports how many rows changed.
	DeactivateBlocks(ctx context.Context, fingerprintID string, liftedAt time.Time) (int, error)

	// Login attempts (append-only)
	InsertAttempt(ctx context.Context, a *models.LoginAttempt) error
	CountAttemptsSince(ctx context.Context, fingerprintID string, since time.Time) (int, error)
}
