package storage_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/key-balancer/internal/keypool"
	"github.com/angeloszaimis/key-balancer/internal/storage"
)

var _ = Describe("KeyState", func() {
	It("should round-trip a record without losing health state", func() {
		used := time.Now().Add(-time.Minute)
		errored := time.Now().Add(-time.Hour)

		record := &keypool.KeyRecord{
			Value:                "sk-round-trip",
			Weight:               0.512,
			InitialWeight:        2.0,
			Status:               keypool.StatusDegraded,
			ConsecutiveErrors:    3,
			ConsecutiveSuccesses: 0,
			TotalErrors:          17,
			LastUsedAt:           &used,
			LastErrorAt:          &errored,
			LastErrorCode:        429,
			Source:               keypool.SourceImported,
			AddedAt:              time.Now().Add(-24 * time.Hour),
		}

		restored := storage.StateFromRecord(record).ToRecord()

		Expect(restored.Value).To(Equal(record.Value))
		Expect(restored.Weight).To(Equal(record.Weight))
		Expect(restored.InitialWeight).To(Equal(record.InitialWeight))
		Expect(restored.Status).To(Equal(keypool.StatusDegraded))
		Expect(restored.ConsecutiveErrors).To(Equal(3))
		Expect(restored.TotalErrors).To(Equal(17))
		Expect(restored.LastUsedAt).To(Equal(record.LastUsedAt))
		Expect(restored.LastErrorAt).To(Equal(record.LastErrorAt))
		Expect(restored.LastErrorCode).To(Equal(429))
		Expect(restored.Source).To(Equal(keypool.SourceImported))
		Expect(restored.AddedAt).To(Equal(record.AddedAt))
	})

	It("should preserve the unavailable terminal state", func() {
		record := keypool.NewKeyRecord("sk-disabled", 1.0, keypool.SourceManual)
		record.Status = keypool.StatusUnavailable
		record.Weight = 0

		restored := storage.StateFromRecord(record).ToRecord()

		Expect(restored.Status).To(Equal(keypool.StatusUnavailable))
		Expect(restored.Weight).To(BeZero())
		Expect(restored.Selectable()).To(BeFalse())
	})

	It("should name the three history tables", func() {
		Expect(storage.KeyState{}.TableName()).To(Equal("key_states"))
		Expect(storage.ImportRecord{}.TableName()).To(Equal("import_history"))
		Expect(storage.UsageRecord{}.TableName()).To(Equal("usage_history"))
	})
})
