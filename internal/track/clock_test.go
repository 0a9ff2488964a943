package track_test

import (
	"testing"
	"time"

	"github.com/diagnostiq/tracker/internal/track"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock hands every ticker the same test-fed channel and makes
// After fire immediately, so loops run under test control.
type fakeClock struct {
	tickc chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{tickc: make(chan time.Time, 1)}
}

func (f *fakeClock) NewTicker(time.Duration) track.Ticker {
	return fakeTicker{c: f.tickc}
}

func (f *fakeClock) After(time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)
	c <- time.Now()
	return c
}

// tick lets the poll loop run one iteration.
func (f *fakeClock) tick() {
	f.tickc <- time.Now()
}

type fakeTicker struct {
	c chan time.Time
}

func (t fakeTicker) C() <-chan time.Time { return t.c }
func (t fakeTicker) Stop()               {}
