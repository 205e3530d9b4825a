package balancer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/key-balancer/internal/keypool"
	"github.com/angeloszaimis/key-balancer/internal/selector"
	"github.com/angeloszaimis/key-balancer/internal/storage"
)

// ImportResult summarizes a key file import.
type ImportResult struct {
	BatchID    string `json:"batch_id"`
	Added      int    `json:"added"`
	Updated    int    `json:"updated"`
	Duplicates int    `json:"duplicates"`
	Invalid    int    `json:"invalid"`
}

// ReloadResult summarizes a key source reload.
type ReloadResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
	Kept    int `json:"kept"`
}

// AddKey inserts a single key at the given weight. A non-positive weight
// falls back to the default. Empty source is recorded as manual.
func (b *Balancer) AddKey(value string, weight float64, source string) error {
	if source == "" {
		source = keypool.SourceManual
	}

	b.mu.Lock()

	record := keypool.NewKeyRecord(value, weight, source)
	if err := b.pool.Add(record); err != nil {
		b.mu.Unlock()
		return err
	}

	b.statusCounts[record.Status]++
	b.selector.Invalidate()
	b.resizeCache()
	b.writer.EnqueueState(storage.StateFromRecord(record))

	b.mu.Unlock()

	b.log.Info("key added",
		slog.String("key", keypool.Redact(value)),
		slog.Float64("weight", record.InitialWeight),
		slog.String("source", source),
	)
	b.emitComposition(value)

	return nil
}

// RemoveKey deletes a key from the pool and queues the durable delete.
func (b *Balancer) RemoveKey(value string) error {
	b.mu.Lock()

	record := b.pool.Get(value)
	if record == nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrKeyNotFound, keypool.Redact(value))
	}

	b.pool.Remove(value)
	b.statusCounts[record.Status]--
	b.selector.Invalidate()
	b.cache.Forget(value)
	b.resizeCache()
	b.writer.EnqueueDelete(value)

	b.mu.Unlock()

	b.log.Info("key removed", slog.String("key", keypool.Redact(value)))
	b.emitComposition("")

	return nil
}

// ResetKey restores a key to its configured weight and marks it available.
// Lifetime error totals survive the reset.
func (b *Balancer) ResetKey(value string) error {
	b.mu.Lock()

	record := b.pool.Get(value)
	if record == nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrKeyNotFound, keypool.Redact(value))
	}

	prev := record.Status
	record.Reset()
	b.trackTransition(record, prev)
	b.selector.Invalidate()
	b.cache.Forget(value)
	b.writer.EnqueueState(storage.StateFromRecord(record))

	b.mu.Unlock()

	b.log.Info("key reset", slog.String("key", keypool.Redact(value)))
	b.emitComposition(value)

	return nil
}

// ResetAll resets every key and clears the recency cache. Returns the
// number of keys touched.
func (b *Balancer) ResetAll() int {
	b.mu.Lock()

	records := b.pool.Records()
	for _, record := range records {
		prev := record.Status
		record.Reset()
		b.trackTransition(record, prev)
		b.writer.EnqueueState(storage.StateFromRecord(record))
	}

	b.cache.Clear()
	b.selector.Invalidate()
	count := len(records)

	b.mu.Unlock()

	b.log.Info("pool reset", slog.Int("keys", count))
	b.emitComposition("")

	return count
}

// ImportFile merges the keys in path into the pool, records the batch in
// import history and flushes pool state synchronously so the import
// survives an immediate shutdown.
func (b *Balancer) ImportFile(path, source string) (ImportResult, error) {
	if source == "" {
		source = keypool.SourceImported
	}

	parsed, stats, err := keypool.ParseFile(path, b.log)
	if err != nil {
		return ImportResult{}, err
	}

	b.mu.Lock()
	added, updated, unchanged := b.mergeParsed(parsed, source)
	b.mu.Unlock()

	result := ImportResult{
		BatchID:    uuid.NewString(),
		Added:      added,
		Updated:    updated,
		Duplicates: unchanged + stats.Duplicates,
		Invalid:    stats.Invalid,
	}

	now := time.Now()
	imports := make([]storage.ImportRecord, 0, len(parsed))
	for _, key := range parsed {
		imports = append(imports, storage.ImportRecord{
			BatchID:   result.BatchID,
			Value:     key.Value,
			Source:    source,
			Weight:    key.Weight,
			CreatedAt: now,
		})
	}
	if err := b.store.AppendImports(imports); err != nil {
		b.log.Error("import history write failed", slog.String("error", err.Error()))
	}

	if err := b.writer.Flush(); err != nil {
		return result, err
	}

	b.log.Info("import finished",
		slog.String("batch_id", result.BatchID),
		slog.String("path", path),
		slog.Int("added", result.Added),
		slog.Int("updated", result.Updated),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("invalid", result.Invalid),
	)
	b.emitComposition("")

	return result, nil
}

// Reload re-reads the configured key source and merges it into the pool.
// Existing keys keep their weight standing and status. With prune set,
// imported keys that are no longer in the source are removed; manually
// added keys are never pruned.
func (b *Balancer) Reload(prune bool) (ReloadResult, error) {
	if b.opts.KeySourcePath == "" {
		return ReloadResult{}, errors.New("no key source configured")
	}

	parsed, stats, err := keypool.ParseFile(b.opts.KeySourcePath, b.log)
	if err != nil {
		return ReloadResult{}, err
	}

	b.mu.Lock()

	added, updated, kept := b.mergeParsed(parsed, keypool.SourceImported)

	removed := 0
	if prune {
		inSource := make(map[string]struct{}, len(parsed))
		for _, key := range parsed {
			inSource[key.Value] = struct{}{}
		}

		for _, record := range b.pool.Records() {
			if record.Source != keypool.SourceImported {
				continue
			}
			if _, ok := inSource[record.Value]; ok {
				continue
			}

			b.pool.Remove(record.Value)
			b.statusCounts[record.Status]--
			b.cache.Forget(record.Value)
			b.writer.EnqueueDelete(record.Value)
			removed++
		}

		if removed > 0 {
			b.selector.Invalidate()
			b.resizeCache()
		}
	}

	b.mu.Unlock()

	result := ReloadResult{Added: added, Updated: updated, Removed: removed, Kept: kept}

	b.log.Info("key source reloaded",
		slog.String("path", b.opts.KeySourcePath),
		slog.Int("added", result.Added),
		slog.Int("updated", result.Updated),
		slog.Int("removed", result.Removed),
		slog.Int("kept", result.Kept),
		slog.Int("invalid_lines", stats.Invalid),
	)
	b.emitComposition("")

	return result, nil
}

// mergeParsed folds parsed keys into the pool: unknown values are added at
// their parsed weight, known values whose source weight changed are
// rebased, the rest are left untouched. Callers hold b.mu.
func (b *Balancer) mergeParsed(parsed []keypool.ParsedKey, source string) (added, updated, unchanged int) {
	for _, key := range parsed {
		existing := b.pool.Get(key.Value)
		if existing == nil {
			record := keypool.NewKeyRecord(key.Value, key.Weight, source)
			if err := b.pool.Add(record); err != nil {
				continue
			}

			b.statusCounts[record.Status]++
			b.writer.EnqueueState(storage.StateFromRecord(record))
			added++
			continue
		}

		if existing.InitialWeight != key.Weight {
			existing.Rebase(key.Weight)
			b.writer.EnqueueState(storage.StateFromRecord(existing))
			updated++
			continue
		}

		unchanged++
	}

	if added > 0 || updated > 0 {
		b.selector.Invalidate()
	}
	if added > 0 {
		b.resizeCache()
	}

	return added, updated, unchanged
}

// resizeCache re-derives the recency capacity from the pool size after a
// membership change, unless a fixed capacity was configured.
func (b *Balancer) resizeCache() {
	if b.opts.CacheCapacity > 0 || b.cache == nil {
		return
	}

	b.cache.Resize(selector.CapacityForPool(b.pool.Len()))
}
