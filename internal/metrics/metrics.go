package metrics

import (
	"sync"
	"time"
)

// Metrics is the in-memory aggregate behind the collector. Thread-safe;
// the collector goroutine writes, snapshot readers come from anywhere.
type Metrics struct {
	mutex           sync.RWMutex
	selections      map[string]int64
	successes       map[string]int64
	failures        map[string]map[string]int64
	statuses        map[string]string
	totalSelections int64
	totalCalls      int64
	startTime       time.Time
}

type Snapshot struct {
	TotalSelections int64                 `json:"total_selections"`
	TotalCalls      int64                 `json:"total_calls"`
	Uptime          time.Duration         `json:"uptime"`
	Keys            map[string]KeyMetrics `json:"keys"`
}

// KeyMetrics aggregates one key's observed activity, indexed by the
// redacted display value.
type KeyMetrics struct {
	Selections int64            `json:"selections"`
	Successes  int64            `json:"successes"`
	Failures   map[string]int64 `json:"failures,omitempty"`
	Status     string           `json:"status,omitempty"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		selections: make(map[string]int64),
		successes:  make(map[string]int64),
		failures:   make(map[string]map[string]int64),
		statuses:   make(map[string]string),
		startTime:  time.Now(),
	}
}

func (m *Metrics) RecordSelection(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.selections[key]++
	m.totalSelections++
}

func (m *Metrics) RecordSuccess(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.successes[key]++
	m.totalCalls++
}

func (m *Metrics) RecordFailure(key, class string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.failures[key] == nil {
		m.failures[key] = make(map[string]int64)
	}
	m.failures[key][class]++
	m.totalCalls++
}

func (m *Metrics) RecordStatus(key, status string) {
	if key == "" {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.statuses[key] = status
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		TotalSelections: m.totalSelections,
		TotalCalls:      m.totalCalls,
		Uptime:          time.Since(m.startTime),
		Keys:            make(map[string]KeyMetrics),
	}

	allKeys := make(map[string]bool)
	for key := range m.selections {
		allKeys[key] = true
	}
	for key := range m.successes {
		allKeys[key] = true
	}
	for key := range m.failures {
		allKeys[key] = true
	}
	for key := range m.statuses {
		allKeys[key] = true
	}

	for key := range allKeys {
		km := KeyMetrics{
			Selections: m.selections[key],
			Successes:  m.successes[key],
			Status:     m.statuses[key],
		}

		if classes := m.failures[key]; len(classes) > 0 {
			km.Failures = make(map[string]int64, len(classes))
			for class, count := range classes {
				km.Failures[class] = count
			}
		}

		snap.Keys[key] = km
	}

	return snap
}
