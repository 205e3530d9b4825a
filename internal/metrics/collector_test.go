package metrics_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/key-balancer/internal/metrics"
)

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		log       *slog.Logger
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		log = slog.New(slog.DiscardHandler)
		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(100, log)
	})

	AfterEach(func() {
		cancel()
		time.Sleep(10 * time.Millisecond) // Allow goroutine to finish
	})

	Describe("TryEmit", func() {
		It("should accept events while the buffer has room", func() {
			Expect(collector.TryEmit(metrics.Event{
				Type: metrics.EventKeySelected,
				Key:  "...1234",
			})).To(BeTrue())
		})

		It("should drop events once the buffer is full", func() {
			tiny := metrics.NewCollector(1, log)

			Expect(tiny.TryEmit(metrics.Event{Type: metrics.EventKeySelected, Key: "...1234"})).To(BeTrue())
			Expect(tiny.TryEmit(metrics.Event{Type: metrics.EventKeySelected, Key: "...1234"})).To(BeFalse())
		})

		It("should stamp a missing timestamp", func() {
			collector.Start(ctx)

			Expect(collector.TryEmit(metrics.Event{
				Type: metrics.EventKeySelected,
				Key:  "...1234",
			})).To(BeTrue())
		})
	})

	Describe("event processing", func() {
		It("should fold selections into the snapshot", func() {
			collector.Start(ctx)

			collector.TryEmit(metrics.Event{Type: metrics.EventKeySelected, Key: "...1234"})
			collector.TryEmit(metrics.Event{Type: metrics.EventKeySelected, Key: "...1234"})

			Eventually(func() int64 {
				return collector.Snapshot().TotalSelections
			}, "1s", "10ms").Should(Equal(int64(2)))
		})

		It("should fold outcomes into the snapshot", func() {
			collector.Start(ctx)

			collector.TryEmit(metrics.Event{Type: metrics.EventCallSucceeded, Key: "...1234"})
			collector.TryEmit(metrics.Event{Type: metrics.EventCallFailed, Key: "...1234", Class: "RATE_LIMITED", Code: 429})

			Eventually(func() int64 {
				return collector.Snapshot().TotalCalls
			}, "1s", "10ms").Should(Equal(int64(2)))

			snap := collector.Snapshot()
			Expect(snap.Keys["...1234"].Successes).To(Equal(int64(1)))
			Expect(snap.Keys["...1234"].Failures["RATE_LIMITED"]).To(Equal(int64(1)))
		})

		It("should track status transitions", func() {
			collector.Start(ctx)

			collector.TryEmit(metrics.Event{
				Type:      metrics.EventStatusChanged,
				Key:       "...1234",
				Status:    "DEGRADED",
				Available: 2,
				Degraded:  1,
			})

			Eventually(func() string {
				return collector.Snapshot().Keys["...1234"].Status
			}, "1s", "10ms").Should(Equal("DEGRADED"))
		})

		It("should drain buffered events on shutdown", func() {
			localCtx, localCancel := context.WithCancel(context.Background())
			local := metrics.NewCollector(100, log)

			// Buffer events before the collector starts consuming
			for i := 0; i < 10; i++ {
				Expect(local.TryEmit(metrics.Event{Type: metrics.EventKeySelected, Key: "...1234"})).To(BeTrue())
			}

			local.Start(localCtx)
			localCancel()

			Eventually(func() int64 {
				return local.Snapshot().TotalSelections
			}, "1s", "10ms").Should(Equal(int64(10)))
		})
	})

	Describe("Handler", func() {
		It("should serve the snapshot as JSON", func() {
			collector.Start(ctx)

			collector.TryEmit(metrics.Event{Type: metrics.EventKeySelected, Key: "...1234"})
			time.Sleep(20 * time.Millisecond)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/telemetry", nil)

			collector.Handler().ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(200))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
			Expect(rec.Body.String()).To(ContainSubstring("total_selections"))
		})
	})
})
