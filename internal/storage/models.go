package storage

import (
	"time"

	"github.com/angeloszaimis/key-balancer/internal/keypool"
)

// KeyState is the durable mirror of one key's in-memory record, one row
// per key.
type KeyState struct {
	Value                string  `gorm:"primaryKey;size:512"`
	Weight               float64 `gorm:"not null"`
	InitialWeight        float64 `gorm:"not null"`
	Status               int     `gorm:"not null;index"`
	ConsecutiveErrors    int     `gorm:"not null;default:0"`
	ConsecutiveSuccesses int     `gorm:"not null;default:0"`
	TotalErrors          int     `gorm:"not null;default:0"`
	LastUsedAt           *time.Time
	LastErrorAt          *time.Time
	LastErrorCode        int
	Source               string `gorm:"size:32"`
	AddedAt              time.Time
	UpdatedAt            time.Time
}

func (KeyState) TableName() string {
	return "key_states"
}

// ImportRecord is one key accepted during a source import. Rows from the
// same import call share a BatchID.
type ImportRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	BatchID   string `gorm:"size:36;index;not null"`
	Value     string `gorm:"size:512;not null"`
	Source    string `gorm:"size:32"`
	Weight    float64
	CreatedAt time.Time
}

func (ImportRecord) TableName() string {
	return "import_history"
}

// Usage outcomes recorded in usage_history.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// UsageRecord is one observed call outcome. Write-only telemetry; nothing
// in the selection path reads it back.
type UsageRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Value     string `gorm:"size:512;index;not null"`
	Outcome   string `gorm:"size:16;not null"`
	Code      int
	CreatedAt time.Time
}

func (UsageRecord) TableName() string {
	return "usage_history"
}

// StateFromRecord snapshots an in-memory record into its durable form.
func StateFromRecord(r *keypool.KeyRecord) KeyState {
	return KeyState{
		Value:                r.Value,
		Weight:               r.Weight,
		InitialWeight:        r.InitialWeight,
		Status:               int(r.Status),
		ConsecutiveErrors:    r.ConsecutiveErrors,
		ConsecutiveSuccesses: r.ConsecutiveSuccesses,
		TotalErrors:          r.TotalErrors,
		LastUsedAt:           r.LastUsedAt,
		LastErrorAt:          r.LastErrorAt,
		LastErrorCode:        r.LastErrorCode,
		Source:               r.Source,
		AddedAt:              r.AddedAt,
	}
}

// ToRecord rebuilds the in-memory record a state row mirrors.
func (s KeyState) ToRecord() *keypool.KeyRecord {
	return &keypool.KeyRecord{
		Value:                s.Value,
		Weight:               s.Weight,
		InitialWeight:        s.InitialWeight,
		Status:               keypool.Status(s.Status),
		ConsecutiveErrors:    s.ConsecutiveErrors,
		ConsecutiveSuccesses: s.ConsecutiveSuccesses,
		TotalErrors:          s.TotalErrors,
		LastUsedAt:           s.LastUsedAt,
		LastErrorAt:          s.LastErrorAt,
		LastErrorCode:        s.LastErrorCode,
		Source:               s.Source,
		AddedAt:              s.AddedAt,
	}
}
