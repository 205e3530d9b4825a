package keypool

import (
	"time"
)

// DefaultWeight is assigned to keys whose source line carries no weight or an
// unparsable one.
const DefaultWeight = 1.0

type Status int

const (
	StatusAvailable   Status = iota // Selectable at full standing
	StatusDegraded                  // Selectable, recent failures reduced its weight
	StatusUnavailable               // Excluded from selection until an explicit reset
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "AVAILABLE"
	case StatusDegraded:
		return "DEGRADED"
	case StatusUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// Provenance tags recorded on a key when it enters the pool.
const (
	SourceImported = "imported"
	SourceManual   = "manual"
)

// KeyRecord tracks one API key: the secret value, the current selection
// weight and the health bookkeeping driven by reported call outcomes.
// Records carry no locking of their own; the owning service serializes
// all access behind its mutation lock.
type KeyRecord struct {
	Value                string
	Weight               float64
	InitialWeight        float64
	Status               Status
	ConsecutiveErrors    int
	ConsecutiveSuccesses int
	TotalErrors          int
	LastUsedAt           *time.Time
	LastErrorAt          *time.Time
	LastErrorCode        int
	Source               string
	AddedAt              time.Time
}

// NewKeyRecord creates an available record. Weights at or below zero fall
// back to DefaultWeight; the configured weight also becomes the record's
// InitialWeight, the ceiling that success-driven recovery grows back to.
func NewKeyRecord(value string, weight float64, source string) *KeyRecord {
	if weight <= 0 {
		weight = DefaultWeight
	}

	return &KeyRecord{
		Value:         value,
		Weight:        weight,
		InitialWeight: weight,
		Status:        StatusAvailable,
		Source:        source,
		AddedAt:       time.Now(),
	}
}

// Selectable reports whether the key may appear in a selection batch.
// Only unavailable keys are excluded; a selectable key with zero weight
// is still counted against the requested batch size.
func (r *KeyRecord) Selectable() bool {
	return r.Status != StatusUnavailable
}

// Reset restores the record to its configured standing: initial weight,
// available status, cleared streak counters. Cumulative telemetry
// (TotalErrors, timestamps) is preserved.
func (r *KeyRecord) Reset() {
	r.Weight = r.InitialWeight
	r.Status = StatusAvailable
	r.ConsecutiveErrors = 0
	r.ConsecutiveSuccesses = 0
}

// Rebase replaces the record's configured weight, typically after the key
// source declared a new one on reload. Both InitialWeight and the current
// Weight move to the new value; status and counters are untouched.
func (r *KeyRecord) Rebase(weight float64) {
	if weight <= 0 {
		weight = DefaultWeight
	}

	r.InitialWeight = weight
	r.Weight = weight
}

// Redact returns a display-safe form of a key value: the last four
// characters prefixed with "...". Values of four characters or fewer are
// fully masked. Secrets must never reach logs or CLI output whole.
func Redact(value string) string {
	if len(value) <= 4 {
		return "****"
	}

	return "..." + value[len(value)-4:]
}
