package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/sentra-io/devicetrust/internal/models"
	"github.com/sentra-io/devicetrust/internal/util/logger"
)

const fingerprintColumns = `
fingerprint_id, components, first_seen, last_seen,
total_attempts, failed_attempts, successful_attempts,
risk_level, associated_emails, is_blocked, blocked_until, block_reason`

// PostgresStore is the production Store implementation. Security events are
// buffered and flushed in batches; everything else is written synchronously.
type PostgresStore struct {
	db *sql.DB

	evMu     sync.Mutex
	evBuf    []models.SecurityEvent
	evSize   int
	evTicker *time.Ticker
}

// NewPostgresStore wraps an open database handle with tuned pooling.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{
		db:       db,
		evBuf:    make([]models.SecurityEvent, 0, 1024),
		evSize:   500,
		evTicker: time.NewTicker(2 * time.Second),
	}
}

// EnsureSchema creates the four engine tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS device_fingerprints (
			fingerprint_id       TEXT PRIMARY KEY,
			components           TEXT[] NOT NULL,
			first_seen           TIMESTAMPTZ NOT NULL,
			last_seen            TIMESTAMPTZ NOT NULL,
			total_attempts       INT NOT NULL DEFAULT 0,
			failed_attempts      INT NOT NULL DEFAULT 0,
			successful_attempts  INT NOT NULL DEFAULT 0,
			risk_level           TEXT NOT NULL DEFAULT 'low',
			associated_emails    TEXT[] NOT NULL DEFAULT '{}',
			is_blocked           BOOLEAN NOT NULL DEFAULT FALSE,
			blocked_until        TIMESTAMPTZ,
			block_reason         TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS security_events (
			id              UUID PRIMARY KEY,
			fingerprint_id  TEXT NOT NULL,
			event_type      TEXT NOT NULL,
			severity        TEXT NOT NULL,
			description     TEXT NOT NULL,
			context         JSONB,
			action_taken    TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_security_events_fp
			ON security_events (fingerprint_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS device_blocks (
			id              UUID PRIMARY KEY,
			fingerprint_id  TEXT NOT NULL,
			block_type      TEXT NOT NULL,
			reason          TEXT NOT NULL,
			blocked_until   TIMESTAMPTZ NOT NULL,
			is_active       BOOLEAN NOT NULL DEFAULT TRUE,
			created_at      TIMESTAMPTZ NOT NULL,
			lifted_at       TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_device_blocks_fp
			ON device_blocks (fingerprint_id) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS login_attempts (
			id              UUID PRIMARY KEY,
			fingerprint_id  TEXT NOT NULL,
			email           TEXT NOT NULL DEFAULT '',
			success         BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_login_attempts_fp
			ON login_attempts (fingerprint_id, created_at DESC)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetFingerprint(ctx context.Context, fingerprintID string) (*models.DeviceFingerprint, error) {
	q := `SELECT ` + fingerprintColumns + ` FROM device_fingerprints WHERE fingerprint_id = $1`
	row := s.db.QueryRowContext(ctx, q, fingerprintID)
	fp, err := scanFingerprint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fp, nil
}

// UpsertFingerprint inserts a new record or advances last_seen; counters and
// risk state are never overwritten by the upsert.
func (s *PostgresStore) UpsertFingerprint(ctx context.Context, fp *models.DeviceFingerprint) (*models.DeviceFingerprint, error) {
	q := `
INSERT INTO device_fingerprints (fingerprint_id, components, first_seen, last_seen, risk_level, associated_emails)
VALUES ($1, $2, $3, $3, $4, $5)
ON CONFLICT (fingerprint_id) DO UPDATE
SET last_seen = GREATEST(device_fingerprints.last_seen, EXCLUDED.last_seen)
RETURNING ` + fingerprintColumns

	emails := fp.AssociatedEmails
	if emails == nil {
		emails = []string{}
	}
	level := fp.RiskLevel
	if level == "" {
		level = models.RiskLow
	}
	row := s.db.QueryRowContext(ctx, q,
		fp.FingerprintID, pq.Array(fp.Components), fp.LastSeen, string(level), pq.Array(emails),
	)
	return scanFingerprint(row)
}

func (s *PostgresStore) RecordAttemptOutcome(ctx context.Context, fingerprintID string, success bool) error {
	const q = `
UPDATE device_fingerprints
SET total_attempts = total_attempts + 1,
    successful_attempts = successful_attempts + CASE WHEN $2 THEN 1 ELSE 0 END,
    failed_attempts = failed_attempts + CASE WHEN $2 THEN 0 ELSE 1 END
WHERE fingerprint_id = $1
`
	_, err := s.db.ExecContext(ctx, q, fingerprintID, success)
	return err
}

func (s *PostgresStore) AddAssociatedEmail(ctx context.Context, fingerprintID, email string) error {
	const q = `
UPDATE device_fingerprints
SET associated_emails = array_append(associated_emails, $2)
WHERE fingerprint_id = $1 AND NOT ($2 = ANY(associated_emails))
`
	_, err := s.db.ExecContext(ctx, q, fingerprintID, email)
	return err
}

func (s *PostgresStore) SetRiskLevel(ctx context.Context, fingerprintID string, level models.RiskLevel) error {
	const q = `UPDATE device_fingerprints SET risk_level = $2 WHERE fingerprint_id = $1`
	_, err := s.db.ExecContext(ctx, q, fingerprintID, string(level))
	return err
}

func (s *PostgresStore) SetBlockState(ctx context.Context, fingerprintID string, blocked bool, until *time.Time, reason string) error {
	const q = `
UPDATE device_fingerprints
SET is_blocked = $2, blocked_until = $3, block_reason = $4
WHERE fingerprint_id = $1
`
	var nt sql.NullTime
	if until != nil {
		nt = sql.NullTime{Time: *until, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, q, fingerprintID, blocked, nt, reason)
	return err
}

func (s *PostgresStore) ListRecentFingerprints(ctx context.Context, limit int, excludeID string) ([]models.DeviceFingerprint, error) {
	q := `SELECT ` + fingerprintColumns + `
FROM device_fingerprints
WHERE fingerprint_id <> $1
ORDER BY last_seen DESC
LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DeviceFingerprint
	for rows.Next() {
		fp, err := scanFingerprint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *fp)
	}
	return out, rows.Err()
}

// InsertEvent enqueues the event for batched insertion. Events are facts:
// the flush path runs on a detached context, so an aborted request never
// takes its events with it.
func (s *PostgresStore) InsertEvent(_ context.Context, evt *models.SecurityEvent) error {
	s.evMu.Lock()
	s.evBuf = append(s.evBuf, *evt)
	flush := len(s.evBuf) >= s.evSize
	s.evMu.Unlock()

	if flush {
		return s.FlushEvents(context.Background())
	}
	return nil
}

// StartEventWorker flushes queued events on a fixed interval until the
// context is cancelled, then drains once more.
func (s *PostgresStore) StartEventWorker(ctx context.Context) {
	go func() {
		for {
			select {
			case <-s.evTicker.C:
				if err := s.FlushEvents(context.Background()); err != nil {
					logger.Error("security event flush failed: %v", err)
				}
			case <-ctx.Done():
				s.evTicker.Stop()
				_ = s.FlushEvents(context.Background())
				return
			}
		}
	}()
}

// FlushEvents writes all queued events in one multi-row insert.
func (s *PostgresStore) FlushEvents(ctx context.Context) error {
	s.evMu.Lock()
	if len(s.evBuf) == 0 {
		s.evMu.Unlock()
		return nil
	}
	batch := make([]models.SecurityEvent, len(s.evBuf))
	copy(batch, s.evBuf)
	s.evBuf = s.evBuf[:0]
	s.evMu.Unlock()

	const base = `
INSERT INTO security_events (id, fingerprint_id, event_type, severity, description, context, action_taken, created_at)
VALUES `
	args := make([]any, 0, len(batch)*8)
	values := make([]string, 0, len(batch))
	i := 1
	for _, e := range batch {
		values = append(values, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			i, i+1, i+2, i+3, i+4, i+5, i+6, i+7))
		args = append(args,
			e.ID, e.FingerprintID, string(e.EventType), string(e.Severity),
			e.Description, nullableJSON(e.Context), e.ActionTaken, e.CreatedAt)
		i += 8
	}
	_, err := s.db.ExecContext(ctx, base+strings.Join(values, ","), args...)
	return err
}

func (s *PostgresStore) ListEvents(ctx context.Context, fingerprintID string, limit int) ([]models.SecurityEvent, error) {
	const q = `
SELECT id, fingerprint_id, event_type, severity, description, context, action_taken, created_at
FROM security_events
WHERE fingerprint_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := s.db.QueryContext(ctx, q, fingerprintID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SecurityEvent
	for rows.Next() {
		var e models.SecurityEvent
		var evType, severity string
		var rawCtx []byte
		if err := rows.Scan(&e.ID, &e.FingerprintID, &evType, &severity,
			&e.Description, &rawCtx, &e.ActionTaken, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EventType = models.EventType(evType)
		e.Severity = models.RiskLevel(severity)
		if len(rawCtx) > 0 {
			e.Context = json.RawMessage(rawCtx)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertBlock(ctx context.Context, b *models.DeviceBlock) error {
	const q = `
INSERT INTO device_blocks (id, fingerprint_id, block_type, reason, blocked_until, is_active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	_, err := s.db.ExecContext(ctx, q,
		b.ID, b.FingerprintID, string(b.BlockType), b.Reason, b.BlockedUntil, b.IsActive, b.CreatedAt)
	return err
}

func (s *PostgresStore) ListActiveBlocks(ctx context.Context, fingerprintID string) ([]models.DeviceBlock, error) {
	const q = `
SELECT id, fingerprint_id, block_type, reason, blocked_until, is_active, created_at, lifted_at
FROM device_blocks
WHERE fingerprint_id = $1 AND is_active
ORDER BY blocked_until DESC
`
	rows, err := s.db.QueryContext(ctx, q, fingerprintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DeviceBlock
	for rows.Next() {
		var b models.DeviceBlock
		var blockType string
		var lifted sql.NullTime
		if err := rows.Scan(&b.ID, &b.FingerprintID, &blockType, &b.Reason,
			&b.BlockedUntil, &b.IsActive, &b.CreatedAt, &lifted); err != nil {
			return nil, err
		}
		b.BlockType = models.BlockType(blockType)
		if lifted.Valid {
			t := lifted.Time
			b.LiftedAt = &t
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeactivateBlocks(ctx context.Context, fingerprintID string, liftedAt time.Time) (int, error) {
	const q = `
UPDATE device_blocks
SET is_active = FALSE, lifted_at = $2
WHERE fingerprint_id = $1 AND is_active
`
	res, err := s.db.ExecContext(ctx, q, fingerprintID, liftedAt)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) InsertAttempt(ctx context.Context, a *models.LoginAttempt) error {
	const q = `
INSERT INTO login_attempts (id, fingerprint_id, email, success, created_at)
VALUES ($1, $2, $3, $4, $5)
`
	_, err := s.db.ExecContext(ctx, q, a.ID, a.FingerprintID, a.Email, a.Success, a.CreatedAt)
	return err
}

func (s *PostgresStore) CountAttemptsSince(ctx context.Context, fingerprintID string, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM login_attempts WHERE fingerprint_id = $1 AND created_at >= $2`
	var n int
	if err := s.db.QueryRowContext(ctx, q, fingerprintID, since).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFingerprint(row rowScanner) (*models.DeviceFingerprint, error) {
	var fp models.DeviceFingerprint
	var level string
	var blockedUntil sql.NullTime
	err := row.Scan(
		&fp.FingerprintID, pq.Array(&fp.Components), &fp.FirstSeen, &fp.LastSeen,
		&fp.TotalAttempts, &fp.FailedAttempts, &fp.SuccessfulAttempts,
		&level, pq.Array(&fp.AssociatedEmails), &fp.IsBlocked, &blockedUntil, &fp.BlockReason,
	)
	if err != nil {
		return nil, err
	}
	fp.RiskLevel = models.RiskLevel(level)
	if blockedUntil.Valid {
		t := blockedUntil.Time
		fp.BlockedUntil = &t
	}
	return &fp, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
