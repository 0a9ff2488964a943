package track

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/diagnostiq/tracker/internal/model"
	"github.com/diagnostiq/tracker/internal/status"
)

// DefaultPollInterval is used when the caller passes no interval. It
// matches the diagnostics workload cadence.
const DefaultPollInterval = 2 * time.Second

// FetchFunc reads the current raw record of a job. Implementations talk
// to the remote service; transient failures are tolerated by the loop.
type FetchFunc func(ctx context.Context) (model.JobRecord, error)

// Observation is one classified status reading delivered to the owner.
type Observation struct {
	Record model.JobRecord
	State  status.State
	At     time.Time
}

// ObserveFunc receives observations in strict loop order. It must be
// safe to call from the poll goroutine.
type ObserveFunc func(Observation)

// Poller fetches job status on a fixed cadence until a terminal state is
// observed, then stops itself. At most one timer loop is active per
// Poller: restarting cancels the previous loop first.
type Poller struct {
	fetch   FetchFunc
	observe ObserveFunc
	clock   Clock

	mx     sync.Mutex
	cancel chan struct{}
	done   chan struct{}
}

type PollerOption func(*Poller)

// WithClock injects a fake clock for deterministic tests.
func WithClock(c Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

func NewPoller(fetch FetchFunc, observe ObserveFunc, opts ...PollerOption) *Poller {
	p := &Poller{
		fetch:   fetch,
		observe: observe,
		clock:   SystemClock,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start schedules a status fetch every interval. A non-positive interval
// means DefaultPollInterval. If a loop is already running it is
// cancelled first, so two timers never poll the same handle.
func (p *Poller) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p.Cancel()

	cancel := make(chan struct{})
	done := make(chan struct{})
	p.mx.Lock()
	p.cancel, p.done = cancel, done
	p.mx.Unlock()

	go p.loop(ctx, interval, cancel, done)
}

// Cancel stops the loop and waits for it to exit. It is idempotent:
// cancelling twice, or after natural termination, is a no-op.
func (p *Poller) Cancel() {
	p.mx.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mx.Unlock()

	if cancel == nil {
		return
	}
	close(cancel)
	<-done
}

func (p *Poller) loop(ctx context.Context, interval time.Duration, cancel, done chan struct{}) {
	defer close(done)

	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cancel:
			return
		case <-ticker.C():
		}

		rec, err := p.fetch(ctx)
		if err != nil {
			// transient transport error: a missed tick, never a job
			// failure. The ticker keeps its cadence.
			slog.WarnContext(ctx, "status fetch failed, retrying on next tick", "error", err)
			continue
		}

		// an in-flight fetch may resolve after cancellation, never
		// deliver it
		select {
		case <-ctx.Done():
			return
		case <-cancel:
			return
		default:
		}

		st := status.Classify(rec)
		p.observe(Observation{Record: rec, State: st, At: time.Now().UTC()})
		if st.Terminal() {
			return
		}
	}
}
