// Package metrics provides real-time telemetry for the key balancer.
//
// It uses a channel-based event pipeline: the balancer emits events about
// selections, call outcomes and status transitions with non-blocking
// sends, and a dedicated collector goroutine folds them into an in-memory
// snapshot and the Prometheus instruments. The hot path never waits on
// metrics; under pressure events are dropped, not queued.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.TryEmit(metrics.Event{
//		Type: metrics.EventKeySelected,
//		Key:  "...c4f2",
//	})
//
//	snapshot := collector.Snapshot()
//
// Key values inside events must already be redacted; everything here ends
// up in logs, JSON endpoints or Prometheus labels.
//
// The collector drains its channel on shutdown so late events still land.
package metrics
