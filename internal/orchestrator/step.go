package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/logging"
)

// runStep runs fn in its own goroutine under a child context bounded by
// timeout. Whichever finishes first wins: fn's result, or the deadline. A
// late result is discarded, and the child context is cancelled on return so
// context-aware calls unwind. Panics in fn become errors.
func runStep[T any](ctx context.Context, log zerolog.Logger, step string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var (
		stepCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		stepCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%s panicked: %v", step, r)}
			}
		}()
		v, err := fn(stepCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		logging.LogStep(log, step, time.Since(start), false, out.err)
		return out.value, out.err
	case <-stepCtx.Done():
		var err error
		if ctx.Err() != nil {
			// The request deadline or caller cancellation, not the step's own timer.
			err = fmt.Errorf("%s: %w", step, ctx.Err())
		} else {
			err = apperrors.NewStepTimeoutError(step, timeout)
		}
		logging.LogStep(log, step, time.Since(start), true, err)
		return zero, err
	}
}
