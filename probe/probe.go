// Package probe implements the polling synchronization primitive used
// between the orchestrator and external processes that expose no
// readiness API. A caller supplies a boolean predicate against
// external state; the probe evaluates it on a fixed cadence until it
// holds or a deadline passes.
package probe

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the predicate never became true within
// the timeout.
var ErrTimeout = errors.New("readiness probe timed out")

// Predicate is a zero-argument query against external state. It must
// be safe to call repeatedly; errors inside a predicate mean "not yet
// ready", never a probe failure.
type Predicate func() bool

// Await polls pred every interval until it returns true, the timeout
// elapses, or ctx is cancelled. The predicate is evaluated once
// immediately, so a ready condition returns without sleeping. The call
// returns no later than timeout + interval after it began.
func Await(ctx context.Context, pred Predicate, timeout, interval time.Duration) error {
	return AwaitProgress(ctx, pred, timeout, interval, 0, nil)
}

// AwaitProgress behaves like Await and additionally invokes onProgress
// with the elapsed wait every progressEvery while still waiting.
// progressEvery of 0 disables progress callbacks.
func AwaitProgress(ctx context.Context, pred Predicate, timeout, interval, progressEvery time.Duration, onProgress func(elapsed time.Duration)) error {
	start := time.Now()
	deadline := start.Add(timeout)

	if safeEval(pred) {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastProgress time.Duration
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if safeEval(pred) {
				return nil
			}
			elapsed := time.Since(start)
			if onProgress != nil && progressEvery > 0 && elapsed-lastProgress >= progressEvery {
				lastProgress = elapsed
				onProgress(elapsed)
			}
			if time.Now().After(deadline) {
				return ErrTimeout
			}
		}
	}
}

// safeEval evaluates a predicate, converting panics to "not ready".
func safeEval(pred Predicate) (ready bool) {
	defer func() {
		if recover() != nil {
			ready = false
		}
	}()
	return pred()
}
