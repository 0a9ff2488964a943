// Package status turns the overloaded raw status string of a JobRecord
// into a closed set of semantic states. Classification happens once at
// the system boundary; the rest of the code branches on State only.
package status

import (
	"strings"

	"github.com/diagnostiq/tracker/internal/model"
)

type Kind int

const (
	Unknown Kind = iota
	Submitted
	Queued
	Processing
	Completed
	Duplicate
	Failed
)

func (k Kind) String() string {
	switch k {
	case Submitted:
		return "submitted"
	case Queued:
		return "queued"
	case Processing:
		return "processing"
	case Completed:
		return "completed"
	case Duplicate:
		return "duplicate"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the disambiguated lifecycle status of a job. Reason is set
// only for Failed.
type State struct {
	Kind   Kind
	Reason string
}

// Terminal reports whether no further polling or step advancing is
// expected. Duplicate is terminal for display but a forced resubmission
// creates a new record, it never mutates this one.
func (s State) Terminal() bool {
	return s.Kind == Completed || s.Kind == Failed || s.Kind == Duplicate
}

func (s State) String() string {
	if s.Kind == Failed && s.Reason != "" {
		return "failed: " + s.Reason
	}
	return s.Kind.String()
}

const failedPrefix = "failed_"

// Classify maps a raw job record to its semantic state. First match
// wins: a present payload means the job completed no matter what the
// status field claims, lifecycle sentinels come next, then the
// failed_<reason> encoding, then empty means unknown. Any other string
// is a genuine error message reused as the failure reason.
func Classify(r model.JobRecord) State {
	switch {
	case r.HasPayload():
		return State{Kind: Completed}
	case r.RawStatus == "Submitted":
		return State{Kind: Submitted}
	case r.RawStatus == "Queued":
		return State{Kind: Queued}
	case r.RawStatus == "Processing":
		return State{Kind: Processing}
	case r.RawStatus == "completed":
		return State{Kind: Completed}
	case strings.HasPrefix(r.RawStatus, failedPrefix):
		return State{Kind: Failed, Reason: strings.TrimPrefix(r.RawStatus, failedPrefix)}
	case r.RawStatus == "":
		return State{Kind: Unknown}
	default:
		return State{Kind: Failed, Reason: r.RawStatus}
	}
}

// Warnings returns non-fatal notices carried by a record. A saveError
// alongside a payload means the result was computed but not durably
// persisted; it never changes the semantic state.
func Warnings(r model.JobRecord) []string {
	if r.SaveError == "" {
		return nil
	}
	return []string{"result not persisted: " + r.SaveError}
}
