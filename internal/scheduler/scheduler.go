// Package scheduler decides when the worker loop runs. Queue mutations
// request an invocation; daemon mode additionally wakes on a poll ticker.
// Invocations that fail at the store level are retried with exponential
// backoff instead of being dropped.
package scheduler

import (
	"context"
	"time"

	"github.com/cloudlift/cloudlift-agent/internal/constants"
	"github.com/cloudlift/cloudlift-agent/internal/logging"
	"github.com/cloudlift/cloudlift-agent/internal/store"
)

// InvokeFunc runs one worker invocation over the whole queue.
type InvokeFunc func(ctx context.Context) error

// Runner serializes worker invocations. Requests arriving while an
// invocation runs collapse into a single follow-up run.
type Runner struct {
	invoke   InvokeFunc
	interval time.Duration
	logger   *logging.Logger
	requests chan struct{}

	retryBase time.Duration
	retryMax  time.Duration
}

// New creates a runner. interval <= 0 disables the poll ticker, leaving only
// explicit requests; daemon mode passes the configured poll interval.
func New(invoke InvokeFunc, interval time.Duration, logger *logging.Logger) *Runner {
	return &Runner{
		invoke:   invoke,
		interval: interval,
		logger:   logger,
		// capacity 1: a request during a run schedules exactly one more run
		requests:  make(chan struct{}, 1),
		retryBase: constants.InvocationRetryBaseDelay,
		retryMax:  constants.InvocationRetryMaxDelay,
	}
}

// RequestInvocation wakes the runner. Never blocks; a request while one is
// already queued is a no-op because the queued run will see the new state.
func (r *Runner) RequestInvocation() {
	select {
	case r.requests <- struct{}{}:
	default:
	}
}

// Run drives invocations until ctx is cancelled. An invocation is triggered
// immediately on start so records left over from a previous process are
// picked up without waiting for a request.
func (r *Runner) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	r.runWithRetry(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.requests:
			r.runWithRetry(ctx)
		case <-tick:
			r.runWithRetry(ctx)
		}
	}
}

// runWithRetry retries an invocation whose failure came from the store layer.
// Anything else is logged and dropped; per-record outcomes are already
// persisted by the worker and do not fail the invocation.
func (r *Runner) runWithRetry(ctx context.Context) {
	delay := r.retryBase
	for {
		err := r.invoke(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !store.IsStoreError(err) {
			r.logger.Error().Err(err).Msg("worker invocation failed")
			return
		}

		r.logger.Warn().Err(err).Dur("retry_in", delay).Msg("store unavailable, retrying invocation")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > r.retryMax {
			delay = r.retryMax
		}
	}
}
