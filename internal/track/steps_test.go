package track_test

import (
	"context"
	"errors"
	"testing"

	"github.com/diagnostiq/tracker/internal/track"

	"github.com/stretchr/testify/require"
)

func TestStepRunnerRunsToCompletion(t *testing.T) {
	t.Parallel()

	script := []bool{false, false, true}
	var calls int
	advance := func(_ context.Context) (bool, error) {
		calls++
		return script[calls-1], nil
	}

	var steps []int
	r := track.NewStepRunner(advance,
		track.WithStepClock(newFakeClock()),
		track.WithStepped(func(step int) { steps = append(steps, step) }),
	)

	err := r.Run(t.Context())
	require.NoError(t, err)
	require.Equal(t, 3, calls, "exactly one advance per scripted response")
	require.Equal(t, []int{1, 2, 3}, steps)
}

func TestStepRunnerSingleStep(t *testing.T) {
	t.Parallel()

	var calls int
	advance := func(_ context.Context) (bool, error) {
		calls++
		return true, nil
	}
	r := track.NewStepRunner(advance, track.WithStepClock(newFakeClock()))
	require.NoError(t, r.Run(t.Context()))
	require.Equal(t, 1, calls)
}

func TestStepRunnerStopsOnError(t *testing.T) {
	t.Parallel()

	boom := errors.New("bad gateway")
	var calls int
	advance := func(_ context.Context) (bool, error) {
		calls++
		if calls == 2 {
			return false, boom
		}
		return false, nil
	}

	r := track.NewStepRunner(advance, track.WithStepClock(newFakeClock()))
	err := r.Run(t.Context())
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "step 2")
	require.Equal(t, 2, calls, "no step request after the failed one")
}

func TestStepRunnerHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	var calls int
	advance := func(_ context.Context) (bool, error) {
		calls++
		cancel()
		return false, nil
	}

	// system clock: the loop must exit in the delay select, not spin
	r := track.NewStepRunner(advance)
	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
