package balancer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/angeloszaimis/key-balancer/internal/keypool"
	"github.com/angeloszaimis/key-balancer/internal/metrics"
)

// Operation is a caller-supplied call that uses a single key, typically an
// outbound API request authenticated with it.
type Operation func(ctx context.Context, key string) error

// RetryPolicy controls how Execute retries a failing operation. Each retry
// draws a fresh key, so a failing key does not poison the whole call.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt, so a
	// policy allows MaxRetries+1 attempts in total.
	MaxRetries int

	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration

	// BackoffFactor multiplies the delay after every attempt.
	BackoffFactor float64
}

// DefaultRetryPolicy allows four attempts with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		BaseDelay:     time.Second,
		BackoffFactor: 2.0,
	}
}

// normalized maps the zero policy to the default and clamps nonsense
// values on an explicit one.
func (p RetryPolicy) normalized() RetryPolicy {
	if p == (RetryPolicy{}) {
		return DefaultRetryPolicy()
	}

	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 1
	}

	return p
}

// delay returns the wait after the given zero-based attempt.
func (p RetryPolicy) delay(attempt int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt)))
}

// RetriesExhaustedError reports that every attempt of an Execute call
// failed. It unwraps to the last operation error.
type RetriesExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.LastErr
}

// Execute runs op with keys drawn from the pool under the balancer's
// configured retry policy. Every outcome is reported back to the pool, so
// callers get health tracking without touching ReportSuccess or
// ReportError themselves.
func (b *Balancer) Execute(ctx context.Context, op Operation) error {
	return b.ExecuteWithPolicy(ctx, op, b.retry)
}

// ExecuteWithPolicy is Execute with a per-call policy. A selection failure
// aborts immediately: when no key is eligible, waiting out a backoff would
// not produce one.
func (b *Balancer) ExecuteWithPolicy(ctx context.Context, op Operation, policy RetryPolicy) error {
	policy = policy.normalized()

	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		key, err := b.SelectOne()
		if err != nil {
			return err
		}

		opErr := op(ctx, key)
		if opErr == nil {
			b.ReportSuccess(key)
			b.collector.TryEmit(metrics.Event{
				Type:     metrics.EventExecuteFinished,
				Attempts: attempt + 1,
				Success:  true,
			})
			return nil
		}

		lastErr = opErr

		class := b.ReportError(key, opErr)
		b.log.Warn("operation attempt failed",
			slog.String("key", keypool.Redact(key)),
			slog.String("class", class.String()),
			slog.Int("attempt", attempt+1),
			slog.String("error", opErr.Error()),
		)

		if attempt < policy.MaxRetries {
			time.Sleep(policy.delay(attempt))
		}
	}

	b.collector.TryEmit(metrics.Event{
		Type:     metrics.EventExecuteFinished,
		Attempts: policy.MaxRetries + 1,
		Success:  false,
	})

	return &RetriesExhaustedError{Attempts: policy.MaxRetries + 1, LastErr: lastErr}
}
