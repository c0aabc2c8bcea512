package models

import (
	"fmt"
	"strings"
)

// CounterField is the closed set of usage counters stored on an account.
// The string value is the stored attribute name.
type CounterField string

const (
	CounterOCR        CounterField = "ocrQuotaUsed"
	CounterAIRequests CounterField = "aiRequestsUsed"
	CounterWorkouts   CounterField = "workoutsSaved"
)

// CounterFields lists every known counter in display order.
var CounterFields = []CounterField{CounterOCR, CounterAIRequests, CounterWorkouts}

// Valid reports whether f is a known counter.
func (f CounterField) Valid() bool {
	switch f {
	case CounterOCR, CounterAIRequests, CounterWorkouts:
		return true
	default:
		return false
	}
}

// ResetField is the attribute holding the counter's last reset time.
func (f CounterField) ResetField() string {
	switch f {
	case CounterOCR:
		return "ocrQuotaResetDate"
	case CounterAIRequests:
		return "lastAiRequestReset"
	case CounterWorkouts:
		return "workoutsResetDate"
	default:
		return ""
	}
}

// Key is the short name used in snapshots and APIs.
func (f CounterField) Key() string {
	switch f {
	case CounterOCR:
		return "ocr"
	case CounterAIRequests:
		return "ai_requests"
	case CounterWorkouts:
		return "workouts"
	default:
		return string(f)
	}
}

// ParseCounterField accepts either the short key or the stored attribute name.
func ParseCounterField(raw string) (CounterField, error) {
	v := strings.TrimSpace(raw)
	for _, f := range CounterFields {
		if v == string(f) || strings.EqualFold(v, f.Key()) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown counter field %q", raw)
}
