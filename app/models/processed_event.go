package models

import "time"

// ProcessedEvent is one idempotency ledger entry per externally delivered
// webhook event. Entries are written once and reclaimed by the table TTL on
// ExpiresAt (epoch seconds).
type ProcessedEvent struct {
	EventID     string    `dynamodbav:"eventId" json:"event_id"`
	EventType   string    `dynamodbav:"eventType" json:"event_type"`
	ProcessedAt time.Time `dynamodbav:"processedAt" json:"processed_at"`
	ExpiresAt   int64     `dynamodbav:"expiresAt" json:"expires_at"`
}

// NewProcessedEvent stamps an entry that expires after retention.
func NewProcessedEvent(eventID, eventType string, now time.Time, retention time.Duration) *ProcessedEvent {
	return &ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: now,
		ExpiresAt:   now.Add(retention).Unix(),
	}
}

// Expired reports whether the entry is past its retention window.
func (e *ProcessedEvent) Expired(now time.Time) bool {
	return e.ExpiresAt > 0 && now.Unix() >= e.ExpiresAt
}
