// Genkeys writes a key source file with synthetic API keys for import and
// reload testing. Weights are drawn uniformly from the configured range; when
// the range collapses to 1.0 the lines carry no weight suffix.
//
// Usage:
//
//	go run ./scripts/genkeys -count 100 -out keys.txt
//	go run ./scripts/genkeys -count 50 -prefix sk-staging -min-weight 0.5 -max-weight 2.0
//
// The output starts with a comment header, so it doubles as a fixture for the
// comment and blank-line handling of the source parser.
package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	mathrand "math/rand"
	"os"
	"time"
)

// newKeyValue generates a random key body in the style of provider secrets.
func newKeyValue(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("random source failed: %v", err)
	}

	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(b))
}

func main() {
	count := flag.Int("count", 100, "number of keys to generate")
	out := flag.String("out", "keys.txt", "output path, - for stdout")
	prefix := flag.String("prefix", "sk-test", "key value prefix")
	minWeight := flag.Float64("min-weight", 1.0, "lower bound for generated weights")
	maxWeight := flag.Float64("max-weight", 1.0, "upper bound for generated weights")
	seed := flag.Int64("seed", 0, "weight RNG seed, 0 uses the current time")
	flag.Parse()

	if *maxWeight < *minWeight {
		fmt.Fprintf(os.Stderr, "max-weight (%v) below min-weight (%v)\n", *maxWeight, *minWeight)
		os.Exit(2)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := mathrand.New(mathrand.NewSource(*seed))

	dest := os.Stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create output file: %v\n", err)
			os.Exit(2)
		}
		defer f.Close()
		dest = f
	}

	w := bufio.NewWriter(dest)
	fmt.Fprintf(w, "# %d generated keys, %s\n", *count, time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "# format: value or value:weight\n\n")

	for i := 0; i < *count; i++ {
		value := newKeyValue(*prefix)
		if *minWeight == *maxWeight && *minWeight == 1.0 {
			fmt.Fprintln(w, value)
			continue
		}
		weight := *minWeight + rng.Float64()*(*maxWeight-*minWeight)
		fmt.Fprintf(w, "%s:%.3f\n", value, weight)
	}

	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write output: %v\n", err)
		os.Exit(2)
	}

	if *out != "-" {
		fmt.Fprintf(os.Stderr, "wrote %d keys to %s\n", *count, *out)
	}
}
