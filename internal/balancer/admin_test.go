package balancer_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/key-balancer/internal/balancer"
	"github.com/angeloszaimis/key-balancer/internal/health"
	"github.com/angeloszaimis/key-balancer/internal/keypool"
)

var _ = Describe("Balancer administration", func() {
	Describe("AddKey", func() {
		It("should add a manual key with the default weight", func() {
			b := newBalancer(balancer.Options{}, newFakeStore())

			Expect(b.AddKey("sk-new-0001", 0, "")).To(Succeed())

			status := findStatus(b, "...0001")
			Expect(status.InitialWeight).To(Equal(keypool.DefaultWeight))
			Expect(status.Source).To(Equal(keypool.SourceManual))
			Expect(status.Status).To(Equal("AVAILABLE"))
		})

		It("should reject a duplicate value", func() {
			b := newBalancer(balancer.Options{}, newFakeStore())
			Expect(b.AddKey("sk-new-0001", 1.0, "")).To(Succeed())

			Expect(b.AddKey("sk-new-0001", 2.0, "")).To(MatchError(keypool.ErrDuplicateKey))
		})
	})

	Describe("RemoveKey", func() {
		It("should remove the key and its persisted row", func() {
			store := newFakeStore()
			b := newBalancer(balancer.Options{}, store)
			Expect(b.AddKey("sk-new-0001", 1.0, "")).To(Succeed())
			Expect(b.Flush()).To(Succeed())

			_, ok := store.state("sk-new-0001")
			Expect(ok).To(BeTrue())

			Expect(b.RemoveKey("sk-new-0001")).To(Succeed())
			Expect(b.Flush()).To(Succeed())

			_, ok = store.state("sk-new-0001")
			Expect(ok).To(BeFalse())
			Expect(b.Stats().Total).To(BeZero())
		})

		It("should fail for an unknown key", func() {
			b := newBalancer(balancer.Options{}, newFakeStore())

			Expect(b.RemoveKey("sk-ghost-9999")).To(MatchError(balancer.ErrKeyNotFound))
		})
	})

	Describe("ResetKey", func() {
		It("should restore weight and status but keep lifetime totals", func() {
			b := newBalancer(balancer.Options{}, newFakeStore())
			Expect(b.AddKey("sk-new-0001", 1.0, "")).To(Succeed())
			b.ReportError("sk-new-0001", health.NewStatusError(429, "slow down"))
			b.ReportError("sk-new-0001", health.NewStatusError(429, "slow down"))

			Expect(b.ResetKey("sk-new-0001")).To(Succeed())

			status := findStatus(b, "...0001")
			Expect(status.Weight).To(Equal(1.0))
			Expect(status.Status).To(Equal("AVAILABLE"))
			Expect(status.ConsecutiveErrors).To(BeZero())
			Expect(status.TotalErrors).To(Equal(2))
		})

		It("should revive a disabled key", func() {
			b := newBalancer(balancer.Options{}, newFakeStore())
			Expect(b.AddKey("sk-new-0001", 1.0, "")).To(Succeed())
			b.ReportError("sk-new-0001", health.NewStatusError(403, "forbidden"))
			Expect(b.Stats().Unavailable).To(Equal(1))

			Expect(b.ResetKey("sk-new-0001")).To(Succeed())

			Expect(b.Stats().Unavailable).To(BeZero())
			Expect(findStatus(b, "...0001").Weight).To(Equal(1.0))
		})

		It("should drop the key from the recency cache", func() {
			b := newBalancer(balancer.Options{}, newFakeStore())
			Expect(b.AddKey("sk-new-0001", 1.0, "")).To(Succeed())

			_, err := b.SelectOne()
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Stats().CacheSize).To(Equal(1))

			Expect(b.ResetKey("sk-new-0001")).To(Succeed())
			Expect(b.Stats().CacheSize).To(BeZero())
		})

		It("should fail for an unknown key", func() {
			b := newBalancer(balancer.Options{}, newFakeStore())

			Expect(b.ResetKey("sk-ghost-9999")).To(MatchError(balancer.ErrKeyNotFound))
		})
	})

	Describe("ResetAll", func() {
		It("should reset every key and clear the recency cache", func() {
			b := newBalancer(balancer.Options{}, newFakeStore())
			Expect(b.AddKey("sk-new-0001", 1.0, "")).To(Succeed())
			Expect(b.AddKey("sk-new-0002", 1.0, "")).To(Succeed())
			b.ReportError("sk-new-0001", health.NewStatusError(429, "slow down"))
			b.ReportError("sk-new-0002", health.NewStatusError(403, "forbidden"))

			_, err := b.SelectOne()
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Stats().CacheSize).To(Equal(1))

			Expect(b.ResetAll()).To(Equal(2))

			stats := b.Stats()
			Expect(stats.Available).To(Equal(2))
			Expect(stats.Degraded).To(BeZero())
			Expect(stats.Unavailable).To(BeZero())
			Expect(stats.CacheSize).To(BeZero())
			Expect(findStatus(b, "...0001").Weight).To(Equal(1.0))
			Expect(findStatus(b, "...0002").Weight).To(Equal(1.0))
		})
	})

	Describe("ImportFile", func() {
		It("should merge the file and record the batch in import history", func() {
			store := newFakeStore()
			b := newBalancer(balancer.Options{}, store)
			Expect(b.AddKey("sk-old-0001", 1.0, "")).To(Succeed())
			Expect(b.AddKey("sk-old-0002", 1.0, "")).To(Succeed())

			path := writeKeyFile("# quarterly batch\nsk-new-1001\nsk-old-0001\nsk-old-0002:2.5\n:3.0\n")

			result, err := b.ImportFile(path, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.BatchID).To(HaveLen(36))
			Expect(result.Added).To(Equal(1))
			Expect(result.Updated).To(Equal(1))
			Expect(result.Duplicates).To(Equal(1))
			Expect(result.Invalid).To(Equal(1))

			rebased := findStatus(b, "...0002")
			Expect(rebased.Weight).To(Equal(2.5))
			Expect(rebased.InitialWeight).To(Equal(2.5))

			rows := store.importRows()
			Expect(rows).To(HaveLen(3))
			for _, row := range rows {
				Expect(row.BatchID).To(Equal(result.BatchID))
				Expect(row.Source).To(Equal(keypool.SourceImported))
			}

			// The import flushes synchronously, no shutdown needed
			_, ok := store.state("sk-new-1001")
			Expect(ok).To(BeTrue())
		})

		It("should fail when the file cannot be read", func() {
			b := newBalancer(balancer.Options{}, newFakeStore())

			_, err := b.ImportFile(filepath.Join(GinkgoT().TempDir(), "absent.txt"), "")
			Expect(err).To(MatchError(ContainSubstring("open key source")))
		})
	})

	Describe("Reload", func() {
		var path string

		writeSource := func(content string) {
			GinkgoHelper()
			Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
		}

		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "keys.txt")
			writeSource("sk-imp-0001\nsk-imp-0002\n")
		})

		It("should keep keys missing from the source by default", func() {
			b := newBalancer(balancer.Options{KeySourcePath: path}, newFakeStore())
			writeSource("sk-imp-0001\nsk-imp-0003\n")

			result, err := b.Reload(false)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Added).To(Equal(1))
			Expect(result.Removed).To(BeZero())
			Expect(result.Kept).To(Equal(1))

			Expect(b.Stats().Total).To(Equal(3))
		})

		It("should prune imported keys missing from the source when asked", func() {
			store := newFakeStore()
			b := newBalancer(balancer.Options{KeySourcePath: path}, store)
			Expect(b.Flush()).To(Succeed())
			writeSource("sk-imp-0001\n")

			result, err := b.Reload(true)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Removed).To(Equal(1))

			Expect(b.Stats().Total).To(Equal(1))
			Expect(b.Flush()).To(Succeed())
			_, ok := store.state("sk-imp-0002")
			Expect(ok).To(BeFalse())
		})

		It("should never prune manually added keys", func() {
			b := newBalancer(balancer.Options{KeySourcePath: path}, newFakeStore())
			Expect(b.AddKey("sk-man-0009", 1.0, keypool.SourceManual)).To(Succeed())
			writeSource("sk-imp-0001\n")

			result, err := b.Reload(true)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Removed).To(Equal(1))

			Expect(b.Stats().Total).To(Equal(2))
			Expect(findStatus(b, "...0009").Source).To(Equal(keypool.SourceManual))
		})

		It("should apply weight changes without touching standing", func() {
			b := newBalancer(balancer.Options{KeySourcePath: path}, newFakeStore())
			b.ReportError("sk-imp-0001", health.NewStatusError(429, "slow down"))
			writeSource("sk-imp-0001:4.0\nsk-imp-0002\n")

			result, err := b.Reload(false)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Updated).To(Equal(1))

			status := findStatus(b, "...0001")
			Expect(status.Weight).To(Equal(4.0))
			Expect(status.Status).To(Equal("DEGRADED"))
			Expect(status.TotalErrors).To(Equal(1))
		})

		It("should fail when no key source is configured", func() {
			b := newBalancer(balancer.Options{}, newFakeStore())

			_, err := b.Reload(false)
			Expect(err).To(MatchError(ContainSubstring("no key source configured")))
		})
	})
})
