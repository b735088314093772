package models

import (
	"encoding/json"
	"time"
)

// RiskLevel is the four-tier classification driving blocking decisions.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels so callers can compare severity.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// EventType classifies a security event.
type EventType string

const (
	EventVPNDetected         EventType = "vpn_detected"
	EventProxyDetected       EventType = "proxy_detected"
	EventAutomationDetected  EventType = "automation_detected"
	EventFingerprintMismatch EventType = "fingerprint_mismatch"
	EventSuspiciousBehavior  EventType = "suspicious_behavior"
	EventRateLimitExceeded   EventType = "rate_limit_exceeded"
)

// BlockType names the duration tier of a device block.
type BlockType string

const (
	BlockShort    BlockType = "short"
	BlockLong     BlockType = "long"
	BlockCritical BlockType = "critical"
)

// DeviceFingerprint is the persisted record for one unique fingerprint hash.
// FingerprintID is a pure function of Components; identical components hash
// identically across sessions and restarts.
type DeviceFingerprint struct {
	FingerprintID      string    `json:"fingerprint_id"`
	Components         []string  `json:"components"`
	FirstSeen          time.Time `json:"first_seen"`
	LastSeen           time.Time `json:"last_seen"`
	TotalAttempts      int       `json:"total_attempts"`
	FailedAttempts     int       `json:"failed_attempts"`
	SuccessfulAttempts int       `json:"successful_attempts"`
	RiskLevel          RiskLevel `json:"risk_level"`
	AssociatedEmails   []string  `json:"associated_emails"`

	// Denormalized view of the latest active block.
	IsBlocked    bool       `json:"is_blocked"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	BlockReason  string     `json:"block_reason,omitempty"`
}

// SecurityEvent is an append-only audit record. Rows are never mutated or
// deleted by normal flow.
type SecurityEvent struct {
	ID            string          `json:"id"`
	FingerprintID string          `json:"fingerprint_id"`
	EventType     EventType       `json:"event_type"`
	Severity      RiskLevel       `json:"severity"`
	Description   string          `json:"description"`
	Context       json.RawMessage `json:"context,omitempty"`
	ActionTaken   string          `json:"action_taken,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// DeviceBlock is a time-boxed deny state attached to a fingerprint.
// IsActive flips to false only via explicit unblock; natural expiry is a
// read-time projection, never written back to the row.
type DeviceBlock struct {
	ID            string     `json:"id"`
	FingerprintID string     `json:"fingerprint_id"`
	BlockType     BlockType  `json:"block_type"`
	Reason        string     `json:"reason"`
	BlockedUntil  time.Time  `json:"blocked_until"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	LiftedAt      *time.Time `json:"lifted_at,omitempty"`
}

// Expired reports whether the block has lapsed at the given instant.
func (b *DeviceBlock) Expired(now time.Time) bool {
	return now.After(b.BlockedUntil)
}

// LoginAttempt is one row in the append-only attempts log used for
// sliding-window rate calculations. Rows are never deleted by the engine.
type LoginAttempt struct {
	ID            string    `json:"id"`
	FingerprintID string    `json:"fingerprint_id"`
	Email         string    `json:"email,omitempty"`
	Success       bool      `json:"success"`
	CreatedAt     time.Time `json:"created_at"`
}
