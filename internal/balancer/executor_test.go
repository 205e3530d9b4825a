package balancer_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/key-balancer/internal/balancer"
	"github.com/angeloszaimis/key-balancer/internal/health"
	"github.com/angeloszaimis/key-balancer/internal/selector"
)

var _ = Describe("Execute", func() {
	// Two retries with no backoff keeps the failure paths fast
	noDelay := balancer.RetryPolicy{MaxRetries: 2, BackoffFactor: 1}

	newPool := func(keys ...string) *balancer.Balancer {
		GinkgoHelper()

		b := newBalancer(balancer.Options{}, newFakeStore())
		for _, key := range keys {
			Expect(b.AddKey(key, 1.0, "")).To(Succeed())
		}

		return b
	}

	It("should use a single attempt when the operation succeeds", func() {
		b := newPool("sk-key-0001", "sk-key-0002")

		calls := 0
		err := b.ExecuteWithPolicy(context.Background(), func(ctx context.Context, key string) error {
			calls++
			return nil
		}, noDelay)

		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(1))
	})

	It("should hand every attempt a fresh key", func() {
		b := newPool("sk-key-0001", "sk-key-0002", "sk-key-0003")

		var used []string
		err := b.ExecuteWithPolicy(context.Background(), func(ctx context.Context, key string) error {
			used = append(used, key)
			return errors.New("upstream exploded")
		}, noDelay)

		Expect(err).To(HaveOccurred())
		Expect(used).To(HaveLen(3))

		seen := map[string]struct{}{}
		for _, key := range used {
			seen[key] = struct{}{}
		}
		Expect(seen).To(HaveLen(3))
	})

	It("should succeed once a later attempt works", func() {
		b := newPool("sk-key-0001", "sk-key-0002")

		calls := 0
		err := b.ExecuteWithPolicy(context.Background(), func(ctx context.Context, key string) error {
			calls++
			if calls == 1 {
				return health.NewStatusError(429, "slow down")
			}
			return nil
		}, noDelay)

		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(2))
	})

	It("should return RetriesExhaustedError once every attempt failed", func() {
		b := newPool("sk-key-0001", "sk-key-0002", "sk-key-0003")
		upstream := errors.New("upstream exploded")

		err := b.ExecuteWithPolicy(context.Background(), func(ctx context.Context, key string) error {
			return upstream
		}, noDelay)

		var exhausted *balancer.RetriesExhaustedError
		Expect(errors.As(err, &exhausted)).To(BeTrue())
		Expect(exhausted.Attempts).To(Equal(3))
		Expect(errors.Is(err, upstream)).To(BeTrue())
	})

	It("should abort without calling the operation when no key is selectable", func() {
		b := newPool("sk-key-0001")
		b.ReportError("sk-key-0001", health.NewStatusError(403, "forbidden"))

		calls := 0
		err := b.ExecuteWithPolicy(context.Background(), func(ctx context.Context, key string) error {
			calls++
			return nil
		}, noDelay)

		var insufficient *selector.InsufficientKeysError
		Expect(errors.As(err, &insufficient)).To(BeTrue())
		Expect(calls).To(BeZero())
	})

	It("should degrade a key that keeps failing under retry", func() {
		b := newPool("sk-key-0001")

		err := b.ExecuteWithPolicy(context.Background(), func(ctx context.Context, key string) error {
			return health.NewStatusError(429, "slow down")
		}, balancer.RetryPolicy{MaxRetries: 1, BackoffFactor: 1})

		Expect(err).To(HaveOccurred())

		status := findStatus(b, "...0001")
		Expect(status.Weight).To(BeNumerically("~", 0.64, 1e-9))
		Expect(status.Status).To(Equal("DEGRADED"))
		Expect(status.TotalErrors).To(Equal(2))
	})

	It("should run the configured policy through Execute", func() {
		b := newPool("sk-key-0001")

		err := b.Execute(context.Background(), func(ctx context.Context, key string) error {
			return nil
		})

		Expect(err).NotTo(HaveOccurred())
	})
})
