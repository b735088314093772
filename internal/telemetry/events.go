package telemetry

import (
	"encoding/json"
	"time"

	"github.com/sentra-io/devicetrust/internal/models"
)

// SecurityEventRecord is the wire form of a security event on the Kafka
// topic. Field names match the stored rows so downstream consumers can join
// the two.
type SecurityEventRecord struct {
	Timestamp     time.Time       `json:"@timestamp"`
	ID            string          `json:"id"`
	FingerprintID string          `json:"fingerprint_id"`
	EventType     string          `json:"event_type"`
	Severity      string          `json:"severity"`
	Description   string          `json:"description,omitempty"`
	Context       json.RawMessage `json:"context,omitempty"`
	ActionTaken   string          `json:"action_taken,omitempty"`
}

func recordFromEvent(evt models.SecurityEvent) SecurityEventRecord {
	ts := evt.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return SecurityEventRecord{
		Timestamp:     ts,
		ID:            evt.ID,
		FingerprintID: evt.FingerprintID,
		EventType:     string(evt.EventType),
		Severity:      string(evt.Severity),
		Description:   evt.Description,
		Context:       evt.Context,
		ActionTaken:   evt.ActionTaken,
	}
}
