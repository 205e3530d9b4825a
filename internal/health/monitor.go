package health

import (
	"log/slog"
	"time"

	"github.com/angeloszaimis/key-balancer/internal/keypool"
)

const (
	successGrowth    = 1.1
	rateLimitedDecay = 0.8
	transientDecay   = 0.9
	recoveryStreak   = 3
)

// Monitor applies reported outcomes to key records. It does not lock;
// the owning service calls it with the mutation lock held.
type Monitor struct {
	log *slog.Logger
}

func NewMonitor(log *slog.Logger) *Monitor {
	return &Monitor{log: log}
}

// RecordSuccess grows the key's weight back toward its configured value
// and recovers a degraded key after enough consecutive successes. Reports
// whether selection-relevant state changed, so the caller knows to
// invalidate the cumulative table.
func (m *Monitor) RecordSuccess(record *keypool.KeyRecord) bool {
	record.ConsecutiveErrors = 0
	record.ConsecutiveSuccesses++

	// An unavailable key stays frozen until an explicit reset
	if record.Status == keypool.StatusUnavailable {
		return false
	}

	changed := false

	grown := record.Weight * successGrowth
	if grown > record.InitialWeight {
		grown = record.InitialWeight
	}
	if grown != record.Weight {
		record.Weight = grown
		changed = true
	}

	if record.Status == keypool.StatusDegraded && record.ConsecutiveSuccesses >= recoveryStreak {
		record.Status = keypool.StatusAvailable
		changed = true

		m.log.Info("key recovered",
			slog.String("key", keypool.Redact(record.Value)),
			slog.Float64("weight", record.Weight),
		)
	}

	return changed
}

// RecordError classifies err, charges it against the key and applies the
// transition for its class. Returns the class and whether
// selection-relevant state changed.
func (m *Monitor) RecordError(record *keypool.KeyRecord, err error) (Class, bool) {
	class, code := Classify(err)

	now := time.Now()
	record.ConsecutiveSuccesses = 0
	record.ConsecutiveErrors++
	record.TotalErrors++
	record.LastErrorAt = &now
	record.LastErrorCode = code

	// Counters and timestamps keep tracking, but a disabled key's weight
	// and status stay frozen until an explicit reset
	if record.Status == keypool.StatusUnavailable {
		return class, false
	}

	switch class {
	case ClassAuth:
		record.Weight = 0
		record.Status = keypool.StatusUnavailable

		m.log.Warn("key disabled after auth failure",
			slog.String("key", keypool.Redact(record.Value)),
			slog.Int("code", code),
			slog.Int("consecutive_errors", record.ConsecutiveErrors),
		)
	case ClassRateLimited:
		record.Weight *= rateLimitedDecay
		m.degrade(record, code)
	default:
		record.Weight *= transientDecay
		m.degrade(record, code)
	}

	return class, true
}

func (m *Monitor) degrade(record *keypool.KeyRecord, code int) {
	if record.Status != keypool.StatusAvailable {
		return
	}

	record.Status = keypool.StatusDegraded

	m.log.Info("key degraded",
		slog.String("key", keypool.Redact(record.Value)),
		slog.Int("code", code),
		slog.Float64("weight", record.Weight),
	)
}
