package track_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diagnostiq/tracker/internal/model"
	"github.com/diagnostiq/tracker/internal/status"
	"github.com/diagnostiq/tracker/internal/track"

	"github.com/stretchr/testify/require"
)

// scriptedFetch plays back records one by one and counts calls.
type scriptedFetch struct {
	calls   atomic.Int64
	records []model.JobRecord
	errs    []error
}

func (s *scriptedFetch) fetch(_ context.Context) (model.JobRecord, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) && s.errs[n] != nil {
		return model.JobRecord{}, s.errs[n]
	}
	if n >= len(s.records) {
		return model.JobRecord{RawStatus: "Processing"}, nil
	}
	return s.records[n], nil
}

func TestPollerStopsOnTerminal(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	script := &scriptedFetch{records: []model.JobRecord{
		{ID: "j1", RawStatus: "Queued"},
		{ID: "j1", RawStatus: "Processing"},
		{ID: "j1", Payload: json.RawMessage(`{"ok":true}`)},
	}}

	observed := make(chan track.Observation, 16)
	p := track.NewPoller(script.fetch, func(o track.Observation) { observed <- o }, track.WithClock(clock))
	t.Cleanup(p.Cancel)

	p.Start(t.Context(), 0)

	var states []status.Kind
	for range 3 {
		clock.tick()
		o := <-observed
		states = append(states, o.State.Kind)
	}
	require.Equal(t, []status.Kind{status.Queued, status.Processing, status.Completed}, states)

	// terminal state observed: the loop stopped itself, a further tick
	// must not cause a fetch
	clock.tick()
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 3, script.calls.Load())
	require.Empty(t, observed)
}

func TestPollerToleratesFetchErrors(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	script := &scriptedFetch{
		errs: []error{errors.New("connection refused"), nil},
		records: []model.JobRecord{
			{}, // consumed by the failing call
			{ID: "j2", RawStatus: "failed_oom"},
		},
	}

	observed := make(chan track.Observation, 16)
	p := track.NewPoller(script.fetch, func(o track.Observation) { observed <- o }, track.WithClock(clock))
	t.Cleanup(p.Cancel)

	p.Start(t.Context(), time.Second)

	// first tick errors: no observation, loop keeps going
	clock.tick()
	// second tick delivers the terminal failure
	clock.tick()
	o := <-observed
	require.Equal(t, status.Failed, o.State.Kind)
	require.Equal(t, "oom", o.State.Reason)
	require.EqualValues(t, 2, script.calls.Load())
	require.Empty(t, observed)
}

func TestPollerCancelIdempotent(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	script := &scriptedFetch{}

	p := track.NewPoller(script.fetch, func(track.Observation) {}, track.WithClock(clock))
	p.Start(t.Context(), time.Second)

	p.Cancel()
	p.Cancel() // second cancel is a no-op, not an error

	// no fetch after cancellation
	clock.tick()
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, script.calls.Load())
}

func TestPollerCancelAfterNaturalTermination(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	script := &scriptedFetch{records: []model.JobRecord{
		{ID: "j3", RawStatus: "failed_"},
	}}

	observed := make(chan track.Observation, 1)
	p := track.NewPoller(script.fetch, func(o track.Observation) { observed <- o }, track.WithClock(clock))
	p.Start(t.Context(), time.Second)

	clock.tick()
	<-observed

	p.Cancel() // loop already exited on its own
	require.EqualValues(t, 1, script.calls.Load())
}

func TestPollerRestartCancelsPriorLoop(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	script := &scriptedFetch{}

	observed := make(chan track.Observation, 16)
	p := track.NewPoller(script.fetch, func(o track.Observation) { observed <- o }, track.WithClock(clock))
	t.Cleanup(p.Cancel)

	p.Start(t.Context(), time.Second)
	p.Start(t.Context(), time.Second) // only one timer may exist per handle

	clock.tick()
	<-observed
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, script.calls.Load())
}

func TestPollerDropsLateResponseAfterCancel(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()

	inFetch := make(chan struct{})
	release := make(chan struct{})
	fetch := func(_ context.Context) (model.JobRecord, error) {
		close(inFetch)
		<-release
		return model.JobRecord{ID: "late", RawStatus: "Queued"}, nil
	}

	var delivered atomic.Int64
	p := track.NewPoller(fetch, func(track.Observation) { delivered.Add(1) }, track.WithClock(clock))

	p.Start(t.Context(), time.Second)
	clock.tick()
	<-inFetch

	// cancel while the fetch is in flight, then let it resolve
	cancelled := make(chan struct{})
	go func() {
		p.Cancel()
		close(cancelled)
	}()
	close(release)
	<-cancelled

	require.Zero(t, delivered.Load(), "a cancelled loop must not deliver a late response")
}
