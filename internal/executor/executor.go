// Package executor runs batches of independent I/O-bound tasks with a fixed
// ceiling on in-flight work.
package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Policy controls how a batch reacts to task failures.
type Policy int

const (
	// Tolerant runs every task regardless of failures. Per-task errors are
	// reported in the results and the batch itself never fails.
	Tolerant Policy = iota

	// FailFast stops dispatching new tasks after the first failure and
	// returns that error. Tasks already in flight run to completion.
	FailFast
)

func (p Policy) String() string {
	if p == FailFast {
		return "fail-fast"
	}
	return "tolerant"
}

// Config bounds a batch run.
type Config struct {
	// MaxInFlight is the concurrency ceiling. Values below 1 mean 1.
	MaxInFlight int

	// Policy selects the failure behavior for this call site.
	Policy Policy

	// RateLimit caps task starts per second. Zero means unlimited.
	RateLimit float64
}

// Task is one independent unit of work.
type Task[T any] func(ctx context.Context) (T, error)

// Result pairs a task's output with its submission index.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Run executes tasks with at most cfg.MaxInFlight concurrently in flight.
// Results are indexed by submission order. Under FailFast the returned error
// is the first task failure (or the context error); entries for tasks that
// were never dispatched keep a zero value and nil Err. Under Tolerant the
// returned error is non-nil only when the context is canceled.
func Run[T any](ctx context.Context, cfg Config, tasks []Task[T]) ([]Result[T], error) {
	limit := cfg.MaxInFlight
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	results := make([]Result[T], len(tasks))
	for i := range results {
		results[i].Index = i
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

dispatch:
	for i, task := range tasks {
		if cfg.Policy == FailFast && failed() {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				setErr(err)
				break dispatch
			}
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			setErr(err)
			break dispatch
		}

		wg.Add(1)
		go func(i int, task Task[T]) {
			defer wg.Done()
			defer sem.Release(1)

			v, err := task(ctx)
			results[i] = Result[T]{Index: i, Value: v, Err: err}
			if err != nil && cfg.Policy == FailFast {
				setErr(err)
			}
		}(i, task)
	}

	wg.Wait()

	if cfg.Policy == FailFast {
		mu.Lock()
		defer mu.Unlock()
		return results, firstErr
	}
	if ctx.Err() != nil {
		return results, ctx.Err()
	}
	return results, nil
}
