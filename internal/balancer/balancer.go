package balancer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/angeloszaimis/key-balancer/internal/health"
	"github.com/angeloszaimis/key-balancer/internal/keypool"
	"github.com/angeloszaimis/key-balancer/internal/metrics"
	"github.com/angeloszaimis/key-balancer/internal/selector"
	"github.com/angeloszaimis/key-balancer/internal/storage"
)

// ErrKeyNotFound is returned by operations addressing a key the pool does
// not hold.
var ErrKeyNotFound = errors.New("key not found")

const defaultMetricsBuffer = 1000

// Options configures a Balancer.
type Options struct {
	// KeySourcePath is merged into the pool at startup and on Reload.
	// Empty means the pool runs purely off persisted state.
	KeySourcePath string

	// CacheCapacity overrides the pool-size-derived recency capacity.
	// Zero keeps the derived policy.
	CacheCapacity int

	// FlushInterval paces the storage writer.
	FlushInterval time.Duration

	// MinSelectionInterval throttles selections globally. Zero disables.
	MinSelectionInterval time.Duration

	// MetricsBuffer sizes the telemetry event channel.
	MetricsBuffer int

	Retry RetryPolicy
}

// Balancer owns the key pool and everything derived from it. Safe for
// concurrent use.
type Balancer struct {
	mu       sync.Mutex
	pool     *keypool.Pool
	selector *selector.WeightedSelector
	cache    *selector.RecencyCache
	monitor  *health.Monitor

	store     storage.Store
	writer    *storage.Writer
	collector *metrics.Collector
	limiter   *rate.Limiter

	retry RetryPolicy
	opts  Options
	log   *slog.Logger

	statusCounts [3]int
	selections   int64

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New builds the balancer: persisted key states are loaded first, the key
// source (when configured) is merged on top, then the background writer
// and metrics collector start. The balancer owns the store and closes it.
func New(opts Options, store storage.Store, log *slog.Logger) (*Balancer, error) {
	b := &Balancer{
		pool:     keypool.NewPool(),
		selector: selector.New(),
		monitor:  health.NewMonitor(log),
		store:    store,
		retry:    opts.Retry.normalized(),
		opts:     opts,
		log:      log,
	}

	states, err := store.LoadKeyStates()
	if err != nil {
		return nil, fmt.Errorf("load persisted keys: %w", err)
	}
	for _, state := range states {
		record := state.ToRecord()
		if err := b.pool.Add(record); err != nil {
			return nil, fmt.Errorf("restore key state: %w", err)
		}
		b.statusCounts[record.Status]++
	}

	b.writer = storage.NewWriter(store, opts.FlushInterval, log)

	if opts.KeySourcePath != "" {
		parsed, stats, err := keypool.ParseFile(opts.KeySourcePath, log)
		if err != nil {
			return nil, err
		}

		added, updated, _ := b.mergeParsed(parsed, keypool.SourceImported)
		log.Info("key source merged",
			slog.String("path", opts.KeySourcePath),
			slog.Int("added", added),
			slog.Int("updated", updated),
			slog.Int("invalid_lines", stats.Invalid),
		)
	}

	capacity := opts.CacheCapacity
	if capacity <= 0 {
		capacity = selector.CapacityForPool(b.pool.Len())
	}
	b.cache = selector.NewRecencyCache(capacity)

	if opts.MinSelectionInterval > 0 {
		b.limiter = rate.NewLimiter(rate.Every(opts.MinSelectionInterval), 1)
	}

	buffer := opts.MetricsBuffer
	if buffer <= 0 {
		buffer = defaultMetricsBuffer
	}
	b.collector = metrics.NewCollector(buffer, log)

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.writer.Start(ctx)
	b.collector.Start(ctx)

	b.emitComposition("")

	log.Info("balancer ready",
		slog.Int("keys", b.pool.Len()),
		slog.Int("cache_capacity", capacity),
	)

	return b, nil
}

// Close flushes pending durable writes, stops the background goroutines
// and closes the store.
func (b *Balancer) Close() error {
	var err error

	b.closeOnce.Do(func() {
		b.cancel()
		b.writer.Wait()
		err = b.store.Close()
	})

	return err
}

// Flush pushes all pending durable writes through synchronously.
func (b *Balancer) Flush() error {
	return b.writer.Flush()
}

// Collector exposes the telemetry pipeline, for the stats endpoints.
func (b *Balancer) Collector() *metrics.Collector {
	return b.collector
}

// SelectOne picks a single key value.
func (b *Balancer) SelectOne() (string, error) {
	values, err := b.Select(1)
	if err != nil {
		return "", err
	}

	return values[0], nil
}

// Select picks n distinct key values, weighted by current standing and
// biased away from recently used keys. Chosen keys are stamped, cached as
// recent, queued for persistence and reported to telemetry.
func (b *Balancer) Select(n int) ([]string, error) {
	if b.limiter != nil {
		// Throttle before taking the lock so waiting selections do not
		// serialize the pool
		_ = b.limiter.Wait(context.Background())
	}

	b.mu.Lock()

	records, err := b.selector.Draw(b.pool.Records(), b.cache, n)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}

	values := make([]string, len(records))
	now := time.Now()

	for i, record := range records {
		values[i] = record.Value

		stamp := now
		record.LastUsedAt = &stamp

		b.cache.Touch(record.Value)
		b.writer.EnqueueState(storage.StateFromRecord(record))
	}

	b.selections += int64(len(records))
	hitRate := b.cache.HitRate()
	depth := b.writer.Pending()

	b.mu.Unlock()

	for _, value := range values {
		b.collector.TryEmit(metrics.Event{
			Type:       metrics.EventKeySelected,
			Key:        keypool.Redact(value),
			HitRate:    hitRate,
			QueueDepth: depth,
		})
	}

	return values, nil
}

// ReportSuccess records a successful call on the key, growing its weight
// back toward the configured value.
func (b *Balancer) ReportSuccess(value string) {
	b.mu.Lock()

	record := b.pool.Get(value)
	if record == nil {
		b.mu.Unlock()
		b.log.Warn("success reported for unknown key", slog.String("key", keypool.Redact(value)))
		return
	}

	prev := record.Status
	if b.monitor.RecordSuccess(record) {
		b.selector.Invalidate()
	}
	b.trackTransition(record, prev)

	b.writer.EnqueueState(storage.StateFromRecord(record))
	b.writer.EnqueueUsage(storage.UsageRecord{
		Value:     record.Value,
		Outcome:   storage.OutcomeSuccess,
		CreatedAt: time.Now(),
	})

	status := record.Status
	b.mu.Unlock()

	b.collector.TryEmit(metrics.Event{
		Type: metrics.EventCallSucceeded,
		Key:  keypool.Redact(value),
	})
	if prev != status {
		b.emitComposition(value)
	}
}

// ReportError classifies err, records it against the key and applies the
// weight and status penalty for its class. Returns the class the error
// resolved to.
func (b *Balancer) ReportError(value string, err error) health.Class {
	b.mu.Lock()

	record := b.pool.Get(value)
	if record == nil {
		b.mu.Unlock()
		b.log.Warn("error reported for unknown key", slog.String("key", keypool.Redact(value)))
		class, _ := health.Classify(err)
		return class
	}

	prev := record.Status
	class, changed := b.monitor.RecordError(record, err)
	if changed {
		b.selector.Invalidate()
	}
	b.trackTransition(record, prev)

	b.writer.EnqueueState(storage.StateFromRecord(record))
	b.writer.EnqueueUsage(storage.UsageRecord{
		Value:     record.Value,
		Outcome:   storage.OutcomeError,
		Code:      record.LastErrorCode,
		CreatedAt: time.Now(),
	})

	status := record.Status
	code := record.LastErrorCode
	b.mu.Unlock()

	b.collector.TryEmit(metrics.Event{
		Type:  metrics.EventCallFailed,
		Key:   keypool.Redact(value),
		Class: class.String(),
		Code:  code,
	})
	if prev != status {
		b.emitComposition(value)
	}

	return class
}

// trackTransition keeps the running status counts in step with a record
// whose status may have moved. Callers hold b.mu.
func (b *Balancer) trackTransition(record *keypool.KeyRecord, prev keypool.Status) {
	if record.Status == prev {
		return
	}

	b.statusCounts[prev]--
	b.statusCounts[record.Status]++
}

// Snapshot is the aggregate view of the pool.
type Snapshot struct {
	Total         int     `json:"total"`
	Available     int     `json:"available"`
	Degraded      int     `json:"degraded"`
	Unavailable   int     `json:"unavailable"`
	AverageWeight float64 `json:"average_weight"`
	CacheSize     int     `json:"cache_size"`
	CacheCapacity int     `json:"cache_capacity"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	Selections    int64   `json:"selections"`
}

// KeyStatus is the per-key view, with the key value redacted.
type KeyStatus struct {
	Key               string     `json:"key"`
	Status            string     `json:"status"`
	Weight            float64    `json:"weight"`
	InitialWeight     float64    `json:"initial_weight"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	TotalErrors       int        `json:"total_errors"`
	LastErrorCode     int        `json:"last_error_code,omitempty"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
	LastErrorAt       *time.Time `json:"last_error_at,omitempty"`
	Source            string     `json:"source"`
}

// Stats returns the aggregate pool view.
func (b *Balancer) Stats() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := Snapshot{
		Total:         b.pool.Len(),
		Available:     b.statusCounts[keypool.StatusAvailable],
		Degraded:      b.statusCounts[keypool.StatusDegraded],
		Unavailable:   b.statusCounts[keypool.StatusUnavailable],
		CacheSize:     b.cache.Len(),
		CacheCapacity: b.cache.Capacity(),
		CacheHitRate:  b.cache.HitRate(),
		Selections:    b.selections,
	}

	if snapshot.Total > 0 {
		sum := lo.SumBy(b.pool.Records(), func(r *keypool.KeyRecord) float64 {
			return r.Weight
		})
		snapshot.AverageWeight = sum / float64(snapshot.Total)
	}

	return snapshot
}

// KeyStatuses returns the per-key view in pool order.
func (b *Balancer) KeyStatuses() []KeyStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	statuses := make([]KeyStatus, 0, b.pool.Len())
	for _, record := range b.pool.Records() {
		statuses = append(statuses, KeyStatus{
			Key:               keypool.Redact(record.Value),
			Status:            record.Status.String(),
			Weight:            record.Weight,
			InitialWeight:     record.InitialWeight,
			ConsecutiveErrors: record.ConsecutiveErrors,
			TotalErrors:       record.TotalErrors,
			LastErrorCode:     record.LastErrorCode,
			LastUsedAt:        record.LastUsedAt,
			LastErrorAt:       record.LastErrorAt,
			Source:            record.Source,
		})
	}

	return statuses
}

// emitComposition publishes the pool's status makeup, keyed to the record
// that triggered the change when there is one.
func (b *Balancer) emitComposition(value string) {
	b.mu.Lock()
	available := b.statusCounts[keypool.StatusAvailable]
	degraded := b.statusCounts[keypool.StatusDegraded]
	unavailable := b.statusCounts[keypool.StatusUnavailable]
	var status string
	if value != "" {
		if record := b.pool.Get(value); record != nil {
			status = record.Status.String()
		}
	}
	b.mu.Unlock()

	event := metrics.Event{
		Type:        metrics.EventStatusChanged,
		Available:   available,
		Degraded:    degraded,
		Unavailable: unavailable,
		Status:      status,
	}
	if value != "" {
		event.Key = keypool.Redact(value)
	}

	b.collector.TryEmit(event)
}
