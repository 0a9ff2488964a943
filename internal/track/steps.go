package track

import (
	"context"
	"fmt"
	"time"
)

// DefaultStepDelay is the pause between two advance requests.
const DefaultStepDelay = 100 * time.Millisecond

// AdvanceFunc issues exactly one advance request for the bound workload
// and reports whether the workload is now complete.
type AdvanceFunc func(ctx context.Context) (complete bool, err error)

// StepRunner drives a remote multi-step workload forward from the
// initiating side. The remote holds no scheduler of its own between
// steps, so the runner keeps issuing advances until the service reports
// completion. Unlike the poller it does NOT absorb transport errors:
// blindly retrying an advance risks double-executing a side-effecting
// step, so the first request error ends the loop and surfaces to the
// caller. The workload is then left in its last known non-terminal
// state, the server side truth is unknown.
type StepRunner struct {
	advance AdvanceFunc
	clock   Clock
	delay   time.Duration
	stepped func(step int)
}

type StepRunnerOption func(*StepRunner)

// WithStepClock injects a fake clock for deterministic tests.
func WithStepClock(c Clock) StepRunnerOption {
	return func(r *StepRunner) { r.clock = c }
}

// WithStepDelay overrides the delay between advances.
func WithStepDelay(d time.Duration) StepRunnerOption {
	return func(r *StepRunner) { r.delay = d }
}

// WithStepped registers a callback invoked after every successful
// advance with the 1-based step count.
func WithStepped(fn func(step int)) StepRunnerOption {
	return func(r *StepRunner) { r.stepped = fn }
}

func NewStepRunner(advance AdvanceFunc, opts ...StepRunnerOption) *StepRunner {
	r := &StepRunner{
		advance: advance,
		clock:   SystemClock,
		delay:   DefaultStepDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks until the workload completes or an advance fails. One
// advance is in flight at a time; the next one is only scheduled once
// the previous response was processed.
func (r *StepRunner) Run(ctx context.Context) error {
	for step := 1; ; step++ {
		complete, err := r.advance(ctx)
		if err != nil {
			return fmt.Errorf("advancing step %d: %w", step, err)
		}
		if r.stepped != nil {
			r.stepped(step)
		}
		if complete {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(r.delay):
		}
	}
}
