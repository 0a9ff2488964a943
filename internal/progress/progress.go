// Package progress folds an unbounded stream of workload events into a
// bounded, most-recent-first view suitable for display. Ingestion is
// serialized with a mutex so the poll loop and the step loop can both
// feed the same aggregator.
package progress

import (
	"fmt"
	"sync"

	"github.com/diagnostiq/tracker/internal/model"
)

// RecentLimit caps the display view. The full history is never dropped.
const RecentLimit = 15

const echoLimit = 100

// Snapshot is a point-in-time copy of the display state. Recent holds at
// most RecentLimit events, newest first; Total is the true ingested
// count even once the view is capped.
type Snapshot struct {
	Recent []model.ProgressEvent `json:"recent"`
	Total  int                   `json:"total"`
}

type Aggregator struct {
	mx      sync.Mutex
	history []model.ProgressEvent
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Ingest appends one event. Errors are data here: an error event is
// recorded like any other and never halts ingestion of later events.
// Out-of-order timestamps are fine, arrival order is display order.
func (a *Aggregator) Ingest(ev model.ProgressEvent) {
	a.mx.Lock()
	defer a.mx.Unlock()
	a.history = append(a.history, ev)
}

// Snapshot copies the bounded most-recent-first view plus the true total.
func (a *Aggregator) Snapshot() Snapshot {
	a.mx.Lock()
	defer a.mx.Unlock()

	n := len(a.history)
	k := n
	if k > RecentLimit {
		k = RecentLimit
	}
	recent := make([]model.ProgressEvent, k)
	for i := range k {
		recent[i] = a.history[n-1-i]
	}
	return Snapshot{Recent: recent, Total: n}
}

// Format renders a single event for display. It is a pure function of
// one event, no cross-event state.
func Format(ev model.ProgressEvent) string {
	switch ev.Kind {
	case model.EventToolResponse:
		echo := ev.Data
		// echoLimit counts characters, a byte cut could split a rune
		if runes := []rune(echo); len(runes) > echoLimit {
			echo = string(runes[:echoLimit]) + "… [truncated]"
		}
		return fmt.Sprintf("tool response (%d bytes) %s", len(ev.Data), echo)
	case model.EventStatus:
		return ev.Data
	case model.EventError:
		return "ERROR: " + ev.Data
	default:
		return fmt.Sprintf("%s: %s", ev.Kind, ev.Data)
	}
}
