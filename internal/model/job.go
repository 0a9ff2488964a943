package model

import (
	"encoding/json"
	"time"
)

// JobRecord identifies one submitted unit of work as the remote service
// reports it. RawStatus is overloaded: it carries either a lifecycle
// sentinel or a free-text error message. Nothing outside
// internal/status may branch on its contents.
type JobRecord struct {
	ID          string          `json:"id"`
	RawStatus   string          `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submittedAt"`
	Payload     json.RawMessage `json:"data,omitempty"`
	SaveError   string          `json:"saveError,omitempty"`
}

// HasPayload reports whether the remote computed a result. A non-empty
// payload implies terminal success even when RawStatus is stale.
func (r JobRecord) HasPayload() bool {
	return len(r.Payload) > 0
}

// Workload is a multi-step remote task which the initiator must advance
// one step at a time. TotalSteps is fixed at creation, StepIndex never
// decreases within one workload's lifetime.
type Workload struct {
	ID          string            `json:"workloadId"`
	StepIndex   int               `json:"stepIndex"`
	TotalSteps  int               `json:"totalSteps"`
	CurrentStep string            `json:"currentStep"`
	Progress    float64           `json:"progress"`
	Message     string            `json:"message"`
	Results     []json.RawMessage `json:"results,omitempty"`
	Summary     string            `json:"summary,omitempty"`
}

// EventKind tags a progress event. The vocabulary is fixed; unknown tags
// coming off the wire are kept as-is and rendered generically.
type EventKind string

const (
	EventContextBuilt     EventKind = "context-built"
	EventToolCall         EventKind = "tool-call"
	EventToolResponse     EventKind = "tool-response"
	EventPromptSent       EventKind = "prompt-sent"
	EventResponseReceived EventKind = "response-received"
	EventIteration        EventKind = "iteration"
	EventStatus           EventKind = "status"
	EventError            EventKind = "error"
)

// ProgressEvent is one observation from a running workload. Events are
// ordered by arrival; Timestamp may lag or lead due to clock skew between
// the producer and the poll observation.
type ProgressEvent struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Data      string    `json:"data,omitempty"`
}

// Submission is a candidate unit of work before the duplicate gate.
// Digest is the external content identity (the remote collaborator owns
// the mechanism, we only compare verdicts).
type Submission struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Digest   string `json:"digest"`
	Kind     string `json:"kind"` // "analysis" | "diagnostics" | "insight"
	Force    bool   `json:"-"`    // explicit process-anyway override
	BatchKey string `json:"-"`    // logical upload batch, empty for singles
}
