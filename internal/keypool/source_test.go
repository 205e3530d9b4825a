package keypool_test

import (
	"log/slog"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/key-balancer/internal/keypool"
)

var _ = Describe("ParseReader", func() {
	var log *slog.Logger

	BeforeEach(func() {
		log = slog.New(slog.DiscardHandler)
	})

	parse := func(input string) ([]keypool.ParsedKey, keypool.ParseStats) {
		keys, stats, err := keypool.ParseReader(strings.NewReader(input), log)
		Expect(err).NotTo(HaveOccurred())
		return keys, stats
	}

	It("should parse bare values with the default weight", func() {
		keys, _ := parse("sk-alpha\nsk-beta\n")

		Expect(keys).To(HaveLen(2))
		Expect(keys[0].Value).To(Equal("sk-alpha"))
		Expect(keys[0].Weight).To(Equal(keypool.DefaultWeight))
		Expect(keys[1].Value).To(Equal("sk-beta"))
	})

	It("should parse explicit weights", func() {
		keys, stats := parse("sk-alpha:2.5\nsk-beta:0.5\n")

		Expect(keys).To(HaveLen(2))
		Expect(keys[0].Weight).To(Equal(2.5))
		Expect(keys[1].Weight).To(Equal(0.5))
		Expect(stats.Defaulted).To(BeZero())
	})

	It("should skip comments and blank lines", func() {
		keys, stats := parse("# header comment\n\nsk-alpha\n   \n# trailing\n")

		Expect(keys).To(HaveLen(1))
		Expect(keys[0].Value).To(Equal("sk-alpha"))
		Expect(keys[0].Line).To(Equal(3))
		Expect(stats.Invalid).To(BeZero())
	})

	It("should fall back to the default weight on malformed weights", func() {
		keys, stats := parse("sk-alpha:fast\nsk-beta:-1\n")

		Expect(keys).To(HaveLen(2))
		Expect(keys[0].Weight).To(Equal(keypool.DefaultWeight))
		Expect(keys[1].Weight).To(Equal(keypool.DefaultWeight))
		Expect(stats.Defaulted).To(Equal(2))
	})

	It("should keep the first occurrence of a duplicated value", func() {
		keys, stats := parse("sk-alpha:2\nsk-beta\nsk-alpha:9\n")

		Expect(keys).To(HaveLen(2))
		Expect(keys[0].Value).To(Equal("sk-alpha"))
		Expect(keys[0].Weight).To(Equal(2.0))
		Expect(stats.Duplicates).To(Equal(1))
	})

	It("should count lines with empty values as invalid", func() {
		keys, stats := parse(":2.0\nsk-alpha\n")

		Expect(keys).To(HaveLen(1))
		Expect(stats.Invalid).To(Equal(1))
	})

	It("should split at the last colon so values may contain colons", func() {
		keys, _ := parse("proj:env:key-1:3.0\n")

		Expect(keys).To(HaveLen(1))
		Expect(keys[0].Value).To(Equal("proj:env:key-1"))
		Expect(keys[0].Weight).To(Equal(3.0))
	})

	It("should trim surrounding whitespace", func() {
		keys, _ := parse("  sk-alpha : 2.0  \n")

		Expect(keys).To(HaveLen(1))
		Expect(keys[0].Value).To(Equal("sk-alpha"))
		Expect(keys[0].Weight).To(Equal(2.0))
	})

	It("should handle an empty source", func() {
		keys, stats := parse("")

		Expect(keys).To(BeEmpty())
		Expect(stats).To(Equal(keypool.ParseStats{}))
	})
})
