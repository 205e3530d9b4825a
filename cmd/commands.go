package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/angeloszaimis/key-balancer/config"
	"github.com/angeloszaimis/key-balancer/internal/balancer"
	"github.com/angeloszaimis/key-balancer/internal/httpserver"
	"github.com/angeloszaimis/key-balancer/internal/keypool"
	"github.com/angeloszaimis/key-balancer/internal/storage"
)

func dispatch(command string, args []string, cfg *config.Config, log *slog.Logger, stdout, stderr io.Writer) int {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		log.Error("Invalid configuration", slog.Any("err", err))
		return 1
	}

	db, err := storage.Open(cfg.Store.Driver, cfg.Store.DSN, log)
	if err != nil {
		log.Error("Failed to open store", slog.Any("err", err))
		return 1
	}

	b, err := balancer.New(opts, storage.NewGormStore(db), log)
	if err != nil {
		log.Error("Failed to build balancer", slog.Any("err", err))
		return 1
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error("Error closing balancer", slog.Any("err", err))
		}
	}()

	switch command {
	case "stats":
		return runStats(b, args, stdout, stderr)
	case "health":
		return runHealth(b, args, stdout, stderr)
	case "list":
		return runList(b, args, stdout, stderr)
	case "import":
		return runImport(b, args, stdout, stderr)
	case "add-key":
		return runAddKey(b, args, stdout, stderr)
	case "remove-key":
		return runRemoveKey(b, args, stdout, stderr)
	case "reset":
		return runReset(b, args, stdout, stderr)
	case "reload":
		return runReload(b, cfg, args, stdout, stderr)
	case "serve":
		return runServe(b, cfg, args, log, stderr)
	}

	return 2
}

// optionsFromConfig maps the validated configuration onto balancer options.
func optionsFromConfig(cfg *config.Config) (balancer.Options, error) {
	flushInterval, err := time.ParseDuration(cfg.Store.FlushInterval)
	if err != nil {
		return balancer.Options{}, fmt.Errorf("store.flush_interval: %w", err)
	}

	baseDelay, err := time.ParseDuration(cfg.Retry.BaseDelay)
	if err != nil {
		return balancer.Options{}, fmt.Errorf("retry.base_delay: %w", err)
	}

	minInterval, err := time.ParseDuration(cfg.Selection.MinInterval)
	if err != nil {
		return balancer.Options{}, fmt.Errorf("selection.min_interval: %w", err)
	}

	return balancer.Options{
		KeySourcePath:        cfg.KeySource.Path,
		CacheCapacity:        cfg.Cache.Capacity,
		FlushInterval:        flushInterval,
		MinSelectionInterval: minInterval,
		Retry: balancer.RetryPolicy{
			MaxRetries:    cfg.Retry.MaxRetries,
			BaseDelay:     baseDelay,
			BackoffFactor: cfg.Retry.BackoffFactor,
		},
	}, nil
}

func runStats(b *balancer.Balancer, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	stats := b.Stats()
	if *jsonOut {
		return writeJSON(stdout, stderr, stats)
	}

	fmt.Fprintf(stdout, "Keys:           %d (available %d, degraded %d, unavailable %d)\n",
		stats.Total, stats.Available, stats.Degraded, stats.Unavailable)
	fmt.Fprintf(stdout, "Average weight: %.3f\n", stats.AverageWeight)
	fmt.Fprintf(stdout, "Recency cache:  %d/%d entries, hit rate %.2f\n",
		stats.CacheSize, stats.CacheCapacity, stats.CacheHitRate)
	fmt.Fprintf(stdout, "Selections:     %d\n", stats.Selections)

	return 0
}

type healthReport struct {
	Status      string `json:"status"`
	Available   int    `json:"available"`
	Degraded    int    `json:"degraded"`
	Unavailable int    `json:"unavailable"`
}

func runHealth(b *balancer.Balancer, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	stats := b.Stats()
	report := healthReport{
		Status:      "healthy",
		Available:   stats.Available,
		Degraded:    stats.Degraded,
		Unavailable: stats.Unavailable,
	}
	if stats.Available+stats.Degraded == 0 {
		report.Status = "unhealthy"
	}

	if *jsonOut {
		if code := writeJSON(stdout, stderr, report); code != 0 {
			return code
		}
	} else {
		fmt.Fprintf(stdout, "Status:      %s\n", report.Status)
		fmt.Fprintf(stdout, "Available:   %d\n", report.Available)
		fmt.Fprintf(stdout, "Degraded:    %d\n", report.Degraded)
		fmt.Fprintf(stdout, "Unavailable: %d\n", report.Unavailable)
	}

	if report.Status != "healthy" {
		return 1
	}
	return 0
}

func runList(b *balancer.Balancer, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	statuses := b.KeyStatuses()
	if *jsonOut {
		return writeJSON(stdout, stderr, statuses)
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSTATUS\tWEIGHT\tINITIAL\tERRORS\tSOURCE\tLAST USED")
	for _, status := range statuses {
		lastUsed := "-"
		if status.LastUsedAt != nil {
			lastUsed = status.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%.3f\t%.3f\t%d\t%s\t%s\n",
			status.Key, status.Status, status.Weight, status.InitialWeight,
			status.TotalErrors, status.Source, lastUsed)
	}
	w.Flush()

	return 0
}

func runImport(b *balancer.Balancer, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	source := fs.String("source", "", "source label recorded on imported keys")
	jsonOut := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := fs.Arg(0)
	if path == "" {
		fmt.Fprintln(stderr, "error: import requires a key file path")
		return 2
	}

	result, err := b.ImportFile(path, *source)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return writeJSON(stdout, stderr, result)
	}

	fmt.Fprintf(stdout, "Imported batch %s: added %d, updated %d, duplicates %d, invalid %d\n",
		result.BatchID, result.Added, result.Updated, result.Duplicates, result.Invalid)

	return 0
}

func runAddKey(b *balancer.Balancer, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("add-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	weight := fs.Float64("weight", keypool.DefaultWeight, "selection weight")
	source := fs.String("source", "", "source label")
	jsonOut := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	value := fs.Arg(0)
	if value == "" {
		fmt.Fprintln(stderr, "error: add-key requires a key value")
		return 2
	}

	if err := b.AddKey(value, *weight, *source); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return writeJSON(stdout, stderr, map[string]interface{}{
			"key":    keypool.Redact(value),
			"weight": *weight,
		})
	}

	fmt.Fprintf(stdout, "Added key %s (weight %.3f)\n", keypool.Redact(value), *weight)

	return 0
}

func runRemoveKey(b *balancer.Balancer, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("remove-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	value := fs.Arg(0)
	if value == "" {
		fmt.Fprintln(stderr, "error: remove-key requires a key value")
		return 2
	}

	if err := b.RemoveKey(value); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return writeJSON(stdout, stderr, map[string]interface{}{
			"key":     keypool.Redact(value),
			"removed": true,
		})
	}

	fmt.Fprintf(stdout, "Removed key %s\n", keypool.Redact(value))

	return 0
}

func runReset(b *balancer.Balancer, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	value := fs.Arg(0)
	if value == "" {
		count := b.ResetAll()
		if *jsonOut {
			return writeJSON(stdout, stderr, map[string]interface{}{"reset": count})
		}
		fmt.Fprintf(stdout, "Reset %d keys\n", count)
		return 0
	}

	if err := b.ResetKey(value); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return writeJSON(stdout, stderr, map[string]interface{}{
			"key":   keypool.Redact(value),
			"reset": 1,
		})
	}

	fmt.Fprintf(stdout, "Reset key %s\n", keypool.Redact(value))

	return 0
}

func runReload(b *balancer.Balancer, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("reload", flag.ContinueOnError)
	fs.SetOutput(stderr)
	prune := fs.Bool("prune", cfg.KeySource.PruneOnReload, "remove imported keys missing from the source")
	jsonOut := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	result, err := b.Reload(*prune)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return writeJSON(stdout, stderr, result)
	}

	fmt.Fprintf(stdout, "Reloaded key source: added %d, updated %d, removed %d, kept %d\n",
		result.Added, result.Updated, result.Removed, result.Kept)

	return 0
}

func runServe(b *balancer.Balancer, cfg *config.Config, args []string, log *slog.Logger, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", cfg.Server.Address, "listen address")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := httpserver.New(*addr, setupRouter(b), log)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		return 1
	}

	log.Info("Serving stats endpoints", slog.String("addr", *addr))

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
			return 1
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error running server", slog.Any("err", err))
			return 1
		}
	}

	return 0
}

func writeJSON(stdout, stderr io.Writer, v interface{}) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	return 0
}
