package health_test

import (
	"errors"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/key-balancer/internal/health"
	"github.com/angeloszaimis/key-balancer/internal/keypool"
)

var _ = Describe("Monitor", func() {
	var (
		monitor *health.Monitor
		record  *keypool.KeyRecord
	)

	BeforeEach(func() {
		monitor = health.NewMonitor(slog.New(slog.DiscardHandler))
		record = keypool.NewKeyRecord("sk-monitor-test", 1.0, keypool.SourceImported)
	})

	Describe("RecordSuccess", func() {
		It("should not grow weight past the configured value", func() {
			changed := monitor.RecordSuccess(record)

			Expect(record.Weight).To(Equal(1.0))
			Expect(changed).To(BeFalse())
		})

		It("should grow a reduced weight by ten percent", func() {
			record.Weight = 0.5

			changed := monitor.RecordSuccess(record)

			Expect(record.Weight).To(BeNumerically("~", 0.55, 1e-12))
			Expect(changed).To(BeTrue())
		})

		It("should cap recovery at the configured weight", func() {
			record.Weight = 0.99

			monitor.RecordSuccess(record)

			Expect(record.Weight).To(Equal(1.0))
		})

		It("should reset the error streak and extend the success streak", func() {
			record.ConsecutiveErrors = 4

			monitor.RecordSuccess(record)
			monitor.RecordSuccess(record)

			Expect(record.ConsecutiveErrors).To(BeZero())
			Expect(record.ConsecutiveSuccesses).To(Equal(2))
		})

		It("should recover a degraded key after three consecutive successes", func() {
			record.Status = keypool.StatusDegraded
			record.Weight = 0.5

			monitor.RecordSuccess(record)
			Expect(record.Status).To(Equal(keypool.StatusDegraded))
			monitor.RecordSuccess(record)
			Expect(record.Status).To(Equal(keypool.StatusDegraded))
			monitor.RecordSuccess(record)

			Expect(record.Status).To(Equal(keypool.StatusAvailable))
		})

		It("should restart the recovery streak after an intervening error", func() {
			record.Status = keypool.StatusDegraded
			record.Weight = 0.5

			monitor.RecordSuccess(record)
			monitor.RecordSuccess(record)
			monitor.RecordError(record, errors.New("server error"))
			monitor.RecordSuccess(record)
			monitor.RecordSuccess(record)

			Expect(record.Status).To(Equal(keypool.StatusDegraded))

			monitor.RecordSuccess(record)
			Expect(record.Status).To(Equal(keypool.StatusAvailable))
		})

		It("should leave an unavailable key frozen", func() {
			record.Status = keypool.StatusUnavailable
			record.Weight = 0

			changed := monitor.RecordSuccess(record)

			Expect(changed).To(BeFalse())
			Expect(record.Status).To(Equal(keypool.StatusUnavailable))
			Expect(record.Weight).To(BeZero())
			Expect(record.ConsecutiveSuccesses).To(Equal(1))
		})
	})

	Describe("RecordError", func() {
		It("should disable the key on an auth failure", func() {
			class, changed := monitor.RecordError(record, health.NewStatusError(403, "forbidden"))

			Expect(class).To(Equal(health.ClassAuth))
			Expect(changed).To(BeTrue())
			Expect(record.Status).To(Equal(keypool.StatusUnavailable))
			Expect(record.Weight).To(BeZero())
			Expect(record.LastErrorCode).To(Equal(403))
		})

		It("should keep an auth-disabled key down despite later successes", func() {
			monitor.RecordError(record, health.NewStatusError(401, "bad key"))

			for i := 0; i < 10; i++ {
				monitor.RecordSuccess(record)
			}

			Expect(record.Status).To(Equal(keypool.StatusUnavailable))
			Expect(record.Weight).To(BeZero())
		})

		It("should shrink the weight by twenty percent when rate limited", func() {
			class, changed := monitor.RecordError(record, health.NewStatusError(429, "quota"))

			Expect(class).To(Equal(health.ClassRateLimited))
			Expect(changed).To(BeTrue())
			Expect(record.Weight).To(BeNumerically("~", 0.8, 1e-12))
			Expect(record.Status).To(Equal(keypool.StatusDegraded))
		})

		It("should compound rate limit penalties", func() {
			monitor.RecordError(record, health.NewStatusError(429, ""))
			monitor.RecordError(record, health.NewStatusError(429, ""))
			monitor.RecordError(record, health.NewStatusError(429, ""))

			Expect(record.Weight).To(BeNumerically("~", 0.512, 1e-9))
			Expect(record.Status).To(Equal(keypool.StatusDegraded))
			Expect(record.ConsecutiveErrors).To(Equal(3))
		})

		It("should shrink the weight by ten percent on server failures", func() {
			class, _ := monitor.RecordError(record, health.NewStatusError(503, "unavailable"))

			Expect(class).To(Equal(health.ClassServer))
			Expect(record.Weight).To(BeNumerically("~", 0.9, 1e-12))
			Expect(record.Status).To(Equal(keypool.StatusDegraded))
		})

		It("should treat unclassified failures like mild server trouble", func() {
			class, _ := monitor.RecordError(record, health.NewStatusError(404, "not found"))

			Expect(class).To(Equal(health.ClassUnclassified))
			Expect(record.Weight).To(BeNumerically("~", 0.9, 1e-12))
			Expect(record.Status).To(Equal(keypool.StatusDegraded))
		})

		It("should not degrade an already degraded key further in status", func() {
			monitor.RecordError(record, health.NewStatusError(429, ""))
			monitor.RecordError(record, health.NewStatusError(503, ""))

			Expect(record.Status).To(Equal(keypool.StatusDegraded))
		})

		It("should reset the success streak and stamp error telemetry", func() {
			record.ConsecutiveSuccesses = 5

			monitor.RecordError(record, health.NewStatusError(503, ""))

			Expect(record.ConsecutiveSuccesses).To(BeZero())
			Expect(record.ConsecutiveErrors).To(Equal(1))
			Expect(record.TotalErrors).To(Equal(1))
			Expect(record.LastErrorAt).NotTo(BeNil())
			Expect(record.LastErrorCode).To(Equal(503))
		})

		It("should keep counting against a frozen key without changing it", func() {
			monitor.RecordError(record, health.NewStatusError(401, ""))

			class, changed := monitor.RecordError(record, health.NewStatusError(429, ""))

			Expect(class).To(Equal(health.ClassRateLimited))
			Expect(changed).To(BeFalse())
			Expect(record.Status).To(Equal(keypool.StatusUnavailable))
			Expect(record.Weight).To(BeZero())
			Expect(record.ConsecutiveErrors).To(Equal(2))
			Expect(record.TotalErrors).To(Equal(2))
		})

		It("should apply no weight floor on repeated decay", func() {
			for i := 0; i < 200; i++ {
				monitor.RecordError(record, health.NewStatusError(429, ""))
			}

			Expect(record.Weight).To(BeNumerically("<", 1e-15))
			Expect(record.Status).To(Equal(keypool.StatusDegraded))
		})
	})
})
