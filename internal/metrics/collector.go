package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventKeySelected     EventType = "key_selected"
	EventCallSucceeded   EventType = "call_succeeded"
	EventCallFailed      EventType = "call_failed"
	EventStatusChanged   EventType = "status_changed"
	EventExecuteFinished EventType = "execute_finished"
)

// Event carries one observation from the balancer. Fields beyond Type are
// populated per event kind; Key is always the redacted display form.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Key       string
	Class     string
	Code      int
	Status    string

	// Pool composition, sent with status changes
	Available   int
	Degraded    int
	Unavailable int

	// Selection-time gauges
	QueueDepth int
	HitRate    float64

	// Execute outcome
	Attempts int
	Success  bool
}

type Collector struct {
	eventCh chan Event
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan Event, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// TryEmit offers an event to the pipeline without blocking. Returns false
// when the buffer is full and the event was dropped.
func (c *Collector) TryEmit(event Event) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
		return true
	default:
		return false
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("metrics collector started")
	defer c.logger.Info("metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event Event) {
	switch event.Type {
	case EventKeySelected:
		c.metrics.RecordSelection(event.Key)
		selectionsTotal.WithLabelValues(event.Key).Inc()
		recencyHitRatio.Set(event.HitRate)
		writeQueueDepth.Set(float64(event.QueueDepth))

	case EventCallSucceeded:
		c.metrics.RecordSuccess(event.Key)
		callsTotal.WithLabelValues(event.Key, "success", "").Inc()

	case EventCallFailed:
		c.metrics.RecordFailure(event.Key, event.Class)
		callsTotal.WithLabelValues(event.Key, "error", event.Class).Inc()

	case EventStatusChanged:
		c.metrics.RecordStatus(event.Key, event.Status)
		poolKeys.WithLabelValues("available").Set(float64(event.Available))
		poolKeys.WithLabelValues("degraded").Set(float64(event.Degraded))
		poolKeys.WithLabelValues("unavailable").Set(float64(event.Unavailable))

	case EventExecuteFinished:
		executeAttempts.Observe(float64(event.Attempts))
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
