package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instruments fed by the collector goroutine. Key labels carry
// the redacted display value, which keeps cardinality at pool size.
var (
	selectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "key_balancer",
		Name:      "selections_total",
		Help:      "Number of times each key was selected.",
	}, []string{"key"})

	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "key_balancer",
		Name:      "calls_total",
		Help:      "Reported call outcomes per key, split by failure class.",
	}, []string{"key", "outcome", "class"})

	poolKeys = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "key_balancer",
		Name:      "pool_keys",
		Help:      "Keys in the pool by health status.",
	}, []string{"status"})

	recencyHitRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "key_balancer",
		Name:      "recency_hit_ratio",
		Help:      "Fraction of selections that reused a recently used key.",
	})

	writeQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "key_balancer",
		Name:      "write_queue_depth",
		Help:      "Durable writes staged in memory, not yet flushed.",
	})

	executeAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "key_balancer",
		Name:      "execute_attempts",
		Help:      "Attempts consumed per Execute call.",
		Buckets:   prometheus.LinearBuckets(1, 1, 8),
	})
)
