// Loadtest drives concurrent Execute calls through an in-memory key pool and
// measures throughput, latency percentiles, and per-key distribution. Failures
// are injected at a configurable rate so weight decay and retry behavior can
// be observed under load.
//
// Usage:
//
//	go run ./scripts/loadtest -keys 20 -concurrency 10 -calls 1000
//	go run ./scripts/loadtest -calls 5000 -error-rate 0.2 -csv results.csv -out summary.json
//
// Features:
//   - Concurrent workers sharing one balancer
//   - Injected 429/500/401 failures with a configurable mix
//   - CSV output with per-call details
//   - JSON summary with percentiles (p50, p90, p95, p99)
//   - Final pool composition after the run
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/key-balancer/internal/balancer"
	"github.com/angeloszaimis/key-balancer/internal/health"
	"github.com/angeloszaimis/key-balancer/internal/keypool"
	"github.com/angeloszaimis/key-balancer/internal/storage"
)

func main() {
	var (
		keys        = flag.Int("keys", 20, "Number of synthetic keys in the pool")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		calls       = flag.Int("calls", 1000, "Total number of Execute calls")
		errorRate   = flag.Float64("error-rate", 0.1, "Probability that a simulated call fails")
		rateLimited = flag.Float64("rate-limited", 0.7, "Fraction of failures reported as 429")
		authRate    = flag.Float64("auth-rate", 0, "Fraction of failures reported as 401 (disables the key)")
		latency     = flag.Duration("latency", 2*time.Millisecond, "Simulated upstream latency")
		retries     = flag.Int("retries", 2, "Retries per Execute call")
		dsn         = flag.String("db", "file::memory:?cache=shared", "sqlite DSN for persisted state")
	)

	outJSON := flag.String("out", "", "Write JSON summary to this file (optional)")
	outCSV := flag.String("csv", "", "Write per-call CSV to this file (optional)")
	verbose := flag.Bool("v", false, "Verbose per-call logging to stdout")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	db, err := storage.Open("sqlite", *dsn, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}

	b, err := balancer.New(balancer.Options{}, storage.NewGormStore(db), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build balancer: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()

	for i := 0; i < *keys; i++ {
		value := fmt.Sprintf("sk-load-%04d", i+1)
		if err := b.AddKey(value, keypool.DefaultWeight, "loadtest"); err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed key: %v\n", err)
			os.Exit(1)
		}
	}

	policy := balancer.RetryPolicy{MaxRetries: *retries, BaseDelay: time.Millisecond, BackoffFactor: 2.0}

	jobs := make(chan int)
	var wg sync.WaitGroup

	var total int32
	var success int32
	var failure int32

	// KeyStats tracks per-key call statistics keyed by the redacted value.
	type KeyStats struct {
		Count     int32           `json:"count"`
		Success   int32           `json:"success"`
		Failure   int32           `json:"failure"`
		Latencies []time.Duration `json:"-"`
	}

	keyStats := make(map[string]*KeyStats)
	var keyMu sync.Mutex

	var allLatencies []time.Duration
	var latMu sync.Mutex

	var csvFile *os.File
	var csvWriter *csv.Writer
	var csvMu sync.Mutex
	if *outCSV != "" {
		f, err := os.Create(*outCSV)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create csv file: %v\n", err)
			os.Exit(1)
		}
		csvFile = f
		csvWriter = csv.NewWriter(f)
		csvWriter.Write([]string{"idx", "timestamp", "key", "attempts", "outcome", "duration_ms"})
	}

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

			for idx := range jobs {
				atomic.AddInt32(&total, 1)
				start := time.Now()

				var lastKey string
				var attempts int
				err := b.ExecuteWithPolicy(context.Background(), func(ctx context.Context, key string) error {
					lastKey = key
					attempts++
					time.Sleep(*latency + time.Duration(rng.Int63n(int64(*latency)+1)))

					if rng.Float64() >= *errorRate {
						return nil
					}
					switch draw := rng.Float64(); {
					case draw < *authRate:
						return health.NewStatusError(401, "simulated auth failure")
					case draw < *authRate+*rateLimited:
						return health.NewStatusError(429, "simulated rate limit")
					default:
						return health.NewStatusError(500, "simulated server error")
					}
				}, policy)
				dur := time.Since(start)

				latMu.Lock()
				allLatencies = append(allLatencies, dur)
				latMu.Unlock()

				outcome := "success"
				if err != nil {
					outcome = "failure"
					atomic.AddInt32(&failure, 1)
				} else {
					atomic.AddInt32(&success, 1)
				}

				display := keypool.Redact(lastKey)
				if lastKey == "" {
					display = "(none)"
				}

				keyMu.Lock()
				ks, ok := keyStats[display]
				if !ok {
					ks = &KeyStats{}
					keyStats[display] = ks
				}
				ks.Count++
				if err == nil {
					ks.Success++
				} else {
					ks.Failure++
				}
				ks.Latencies = append(ks.Latencies, dur)
				keyMu.Unlock()

				if csvWriter != nil {
					csvMu.Lock()
					csvWriter.Write([]string{
						fmt.Sprintf("%d", idx),
						time.Now().Format(time.RFC3339Nano),
						display,
						fmt.Sprintf("%d", attempts),
						outcome,
						fmt.Sprintf("%.3f", float64(dur.Microseconds())/1000.0),
					})
					csvMu.Unlock()
				}

				if *verbose {
					fmt.Printf("[%d] idx=%d key=%s attempts=%d outcome=%s dur=%v\n", workerID, idx, display, attempts, outcome, dur)
				}
			}
		}(i)
	}

	go func() {
		for i := 0; i < *calls; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	testEnd := time.Now()

	if csvWriter != nil {
		csvWriter.Flush()
		csvFile.Close()
	}

	totalDuration := testEnd.Sub(testStart)
	throughput := float64(total) / totalDuration.Seconds()

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Keys: %d  Calls: %d  Concurrency: %d  Error rate: %.2f\n", *keys, *calls, *concurrency, *errorRate)
	fmt.Printf("Total: %d  Success: %d  Failure: %d\n", total, success, failure)
	fmt.Printf("Duration: %v  Throughput: %.2f calls/s\n", totalDuration, throughput)

	fmt.Println("\nKey distribution & stats:")
	keyMu.Lock()
	var names []string
	for k := range keyStats {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		ks := keyStats[name]
		var min, max time.Duration
		var sum time.Duration
		latCount := len(ks.Latencies)
		if latCount > 0 {
			min = ks.Latencies[0]
			for _, d := range ks.Latencies {
				if d < min {
					min = d
				}
				if d > max {
					max = d
				}
				sum += d
			}
		}
		var avg time.Duration
		if latCount > 0 {
			avg = sum / time.Duration(latCount)
		}

		var p50, p90, p95, p99 time.Duration
		if latCount > 0 {
			tmp := make([]time.Duration, latCount)
			copy(tmp, ks.Latencies)
			sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })
			p := func(pct float64) time.Duration {
				idx := int(float64(len(tmp)-1) * pct)
				if idx < 0 {
					idx = 0
				}
				if idx >= len(tmp) {
					idx = len(tmp) - 1
				}
				return tmp[idx]
			}
			p50 = p(0.50)
			p90 = p(0.90)
			p95 = p(0.95)
			p99 = p(0.99)
		}

		fmt.Printf("  %s -> total=%d success=%d failure=%d\n", name, ks.Count, ks.Success, ks.Failure)
		if latCount > 0 {
			fmt.Printf("    latencies: samples=%d min=%v avg=%v max=%v p50=%v p90=%v p95=%v p99=%v\n",
				latCount, min, avg, max, p50, p90, p95, p99)
		}
	}
	keyMu.Unlock()

	if len(allLatencies) > 0 {
		tmp := make([]time.Duration, len(allLatencies))
		copy(tmp, allLatencies)
		sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })
		var sum time.Duration
		for _, d := range tmp {
			sum += d
		}
		avg := sum / time.Duration(len(tmp))
		fmt.Println("\nOverall latencies:")
		fmt.Printf("  samples=%d min=%v avg=%v max=%v p50=%v p90=%v p95=%v p99=%v\n",
			len(tmp), tmp[0], avg, tmp[len(tmp)-1], tmp[int(0.5*float64(len(tmp)-1))], tmp[int(0.9*float64(len(tmp)-1))], tmp[int(0.95*float64(len(tmp)-1))], tmp[int(0.99*float64(len(tmp)-1))])
	}

	stats := b.Stats()
	fmt.Println("\nFinal pool composition:")
	fmt.Printf("  available=%d degraded=%d unavailable=%d avg_weight=%.3f cache_hit_rate=%.2f\n",
		stats.Available, stats.Degraded, stats.Unavailable, stats.AverageWeight, stats.CacheHitRate)

	fmt.Printf("\nGOMAXPROCS=%d  NumGoroutine=%d\n", runtime.GOMAXPROCS(0), runtime.NumGoroutine())

	if *outJSON != "" {
		type KeySummary struct {
			Total   int32   `json:"total"`
			Success int32   `json:"success"`
			Failure int32   `json:"failure"`
			P50     float64 `json:"p50_ms"`
			P90     float64 `json:"p90_ms"`
			P95     float64 `json:"p95_ms"`
			P99     float64 `json:"p99_ms"`
		}
		report := map[string]interface{}{}
		report["keys"] = *keys
		report["calls"] = *calls
		report["concurrency"] = *concurrency
		report["error_rate"] = *errorRate
		report["total"] = total
		report["success"] = success
		report["failure"] = failure
		report["duration_ms"] = totalDuration.Milliseconds()
		report["throughput_cps"] = throughput
		report["pool"] = stats

		ksum := map[string]KeySummary{}
		keyMu.Lock()
		for k, v := range keyStats {
			ks := KeySummary{Total: v.Count, Success: v.Success, Failure: v.Failure}
			if len(v.Latencies) > 0 {
				tmp := make([]time.Duration, len(v.Latencies))
				copy(tmp, v.Latencies)
				sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })
				pick := func(p float64) float64 { return float64(tmp[int(float64(len(tmp)-1)*p)].Milliseconds()) }
				ks.P50 = pick(0.50)
				ks.P90 = pick(0.90)
				ks.P95 = pick(0.95)
				ks.P99 = pick(0.99)
			}
			ksum[k] = ks
		}
		keyMu.Unlock()
		report["key_stats"] = ksum

		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failure > 0 {
		os.Exit(2)
	}
}
