package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"broadcast-platform/pkg/logger"
)

// ProcessFunc handles one batch. index is the batch position in the input.
// Per-item failures belong inside the returned results; a returned error
// means the whole batch produced nothing.
type ProcessFunc[T, R any] func(ctx context.Context, index int, batch []T) ([]R, error)

type Options struct {
	// MaxConcurrent caps batches in flight. Values below 1 mean 1.
	MaxConcurrent int
	// InterBatchDelay is idle time inserted before every batch after the first.
	InterBatchDelay time.Duration
	// Slots optionally caps in-flight batches across processes.
	Slots  Slots
	Logger *slog.Logger
}

// BatchError reports a batch that failed as a whole.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string { return fmt.Sprintf("dispatch: batch %d: %v", e.Index, e.Err) }
func (e *BatchError) Unwrap() error { return e.Err }

var ErrStopped = errors.New("dispatch: stopped before all batches started")

// Run feeds batches to process with at most MaxConcurrent calls unresolved.
//
// Results are collected in completion order; callers correlate them by the
// keys they carry, never by position. A failing or panicking batch adds no
// results and does not stop its siblings. Cancelling ctx only prevents new
// batches from starting: batches already running see a context that is not
// cancelled with ctx.
func Run[T, R any](ctx context.Context, batches [][]T, process ProcessFunc[T, R], opts Options) ([]R, error) {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	log := opts.Logger
	if log == nil {
		log = logger.From(ctx)
	}
	workCtx := context.WithoutCancel(ctx)

	sem := make(chan struct{}, maxConcurrent)
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []R
		errs    []error
	)

	started := 0
	for i, batch := range batches {
		if !acquireLocal(ctx, sem) {
			break
		}
		if i > 0 && opts.InterBatchDelay > 0 {
			if err := sleepCtx(ctx, opts.InterBatchDelay); err != nil {
				<-sem
				break
			}
		}
		release := func() {}
		if opts.Slots != nil {
			rel, err := opts.Slots.Acquire(ctx)
			if err != nil {
				<-sem
				if ctx.Err() == nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("dispatch: acquire slot for batch %d: %w", i, err))
					mu.Unlock()
				}
				break
			}
			release = rel
		}

		started++
		wg.Add(1)
		go func(idx int, batch []T) {
			defer wg.Done()
			defer func() { <-sem }()
			defer release()

			out, err := runBatch(workCtx, idx, batch, process, log)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			results = append(results, out...)
		}(i, batch)
	}

	wg.Wait()

	if started < len(batches) {
		log.Warn("dispatch stopped early", "started", started, "total", len(batches))
		errs = append(errs, fmt.Errorf("%w: %d of %d", ErrStopped, started, len(batches)))
	}
	return results, errors.Join(errs...)
}

func runBatch[T, R any](ctx context.Context, idx int, batch []T, process ProcessFunc[T, R], log *slog.Logger) (out []R, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in dispatch batch", "batch", idx, "panic", r, "stack", string(debug.Stack()))
			out = nil
			err = &BatchError{Index: idx, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, err = process(ctx, idx, batch)
	if err != nil {
		log.Error("dispatch batch failed", "batch", idx, "size", len(batch), "err", err)
		return nil, &BatchError{Index: idx, Err: err}
	}
	log.Debug("dispatch batch done", "batch", idx, "size", len(batch), "results", len(out), "dur", time.Since(start))
	return out, nil
}

func acquireLocal(ctx context.Context, sem chan struct{}) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
