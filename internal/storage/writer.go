package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultFlushInterval paces the background flush when the configuration
// does not set one.
const DefaultFlushInterval = 2 * time.Second

// wakeThreshold is the staged-write count that triggers an early flush
// instead of waiting for the next tick.
const wakeThreshold = 256

// Writer stages durable writes in memory and flushes them from a single
// background goroutine. Enqueueing never blocks: key states coalesce per
// value (last write wins, a delete supersedes and is superseded the same
// way) and usage rows append. A failed flush keeps its batch staged and
// retries on the next tick.
type Writer struct {
	store    Store
	log      *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	states map[string]*KeyState // nil entry marks a pending delete
	usage  []UsageRecord

	// flushMu serializes whole flushes so per-key write order holds even
	// when an explicit Flush overlaps the worker's tick
	flushMu sync.Mutex

	wake chan struct{}
	done chan struct{}
}

func NewWriter(store Store, interval time.Duration, log *slog.Logger) *Writer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	return &Writer{
		store:    store,
		log:      log,
		interval: interval,
		states:   make(map[string]*KeyState),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the flush worker. It runs until ctx is cancelled and
// drains the stage once more before exiting.
func (w *Writer) Start(ctx context.Context) {
	go w.run(ctx)
}

// Wait blocks until the worker has exited and its final drain completed.
func (w *Writer) Wait() {
	<-w.done
}

// EnqueueState stages the latest durable form of a key, replacing any
// unflushed earlier state for the same value.
func (w *Writer) EnqueueState(state KeyState) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.states[state.Value] = &state
	w.kickIfLoaded()
}

// EnqueueDelete stages removal of a key's row, superseding any unflushed
// state for it.
func (w *Writer) EnqueueDelete(value string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.states[value] = nil
	w.kickIfLoaded()
}

// EnqueueUsage appends one usage row to the stage.
func (w *Writer) EnqueueUsage(row UsageRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.usage = append(w.usage, row)
	w.kickIfLoaded()
}

// Pending returns the number of staged writes. Feeds the queue depth gauge.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.states) + len(w.usage)
}

// Flush writes everything currently staged and reports the first failure.
// Failed batches stay staged for the worker's next attempt.
func (w *Writer) Flush() error {
	return w.flushOnce()
}

func (w *Writer) run(ctx context.Context) {
	w.log.Info("state writer started", slog.Duration("interval", w.interval))
	defer w.log.Info("state writer stopped")
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final drain so shutdown loses nothing
			w.flushOnce()
			return

		case <-w.wake:
			w.flushOnce()

		case <-ticker.C:
			w.flushOnce()
		}
	}
}

func (w *Writer) flushOnce() error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	var (
		saves   []KeyState
		deletes []string
	)
	for value, state := range w.states {
		if state == nil {
			deletes = append(deletes, value)
		} else {
			saves = append(saves, *state)
		}
	}
	usage := w.usage
	w.states = make(map[string]*KeyState)
	w.usage = nil
	w.mu.Unlock()

	if len(saves) == 0 && len(deletes) == 0 && len(usage) == 0 {
		return nil
	}

	var firstErr error

	if len(saves) > 0 {
		if err := w.store.SaveKeyStates(saves); err != nil {
			firstErr = err
			w.requeueStates(saves)
		}
	}

	for _, value := range deletes {
		if err := w.store.DeleteKeyState(value); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			w.requeueDelete(value)
		}
	}

	if len(usage) > 0 {
		if err := w.store.AppendUsage(usage); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			w.requeueUsage(usage)
		}
	}

	if firstErr != nil {
		w.log.Warn("state flush failed, batch kept for retry",
			slog.String("error", firstErr.Error()),
		)
	}

	return firstErr
}

// requeueStates puts failed saves back unless a newer write for the same
// value arrived while the flush was in flight.
func (w *Writer) requeueStates(states []KeyState) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range states {
		if _, exists := w.states[states[i].Value]; !exists {
			w.states[states[i].Value] = &states[i]
		}
	}
}

func (w *Writer) requeueDelete(value string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.states[value]; !exists {
		w.states[value] = nil
	}
}

func (w *Writer) requeueUsage(rows []UsageRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.usage = append(rows, w.usage...)
}

// kickIfLoaded wakes the worker early when the stage grows large. Called
// with w.mu held; the send never blocks.
func (w *Writer) kickIfLoaded() {
	if len(w.states)+len(w.usage) < wakeThreshold {
		return
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}
}
