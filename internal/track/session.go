package track

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diagnostiq/tracker/internal/dedup"
	"github.com/diagnostiq/tracker/internal/model"
	"github.com/diagnostiq/tracker/internal/progress"
	"github.com/diagnostiq/tracker/internal/remote"
	"github.com/diagnostiq/tracker/internal/status"
)

// Service is the remote collaborator boundary the session drives.
// *remote.Client satisfies it; tests plug in scripted fakes.
type Service interface {
	StartWorkload(ctx context.Context) (remote.StartResponse, error)
	Step(ctx context.Context, workloadID string) (remote.StepResponse, error)
	Status(ctx context.Context, workloadID string) (remote.StatusResponse, error)
	SubmitAnalysis(ctx context.Context, sub model.Submission) (model.JobRecord, error)
	FetchRecord(ctx context.Context, jobID string) (model.JobRecord, error)
}

// Session owns the lifecycle of one submission: the duplicate gate, the
// remote job it creates, the loops watching and driving it, and the
// display state they feed. A terminal session stays inspectable until
// its owner lets go of it.
type Session struct {
	svc      Service
	resolver *dedup.Resolver
	agg      *progress.Aggregator
	clock    Clock

	pollInterval time.Duration
	stepDelay    time.Duration

	mx       sync.Mutex
	record   model.JobRecord
	state    status.State
	states   []status.State
	warnings []string
	workload model.Workload
	poller   *Poller
	done     bool

	terminal chan struct{}
}

type SessionOption func(*Session)

func WithSessionClock(c Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

func WithPollInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.pollInterval = d }
}

func WithStepPause(d time.Duration) SessionOption {
	return func(s *Session) { s.stepDelay = d }
}

func WithResolver(r *dedup.Resolver) SessionOption {
	return func(s *Session) { s.resolver = r }
}

func NewSession(svc Service, opts ...SessionOption) *Session {
	s := &Session{
		svc:          svc,
		resolver:     dedup.NewResolver(nil),
		agg:          progress.NewAggregator(),
		clock:        SystemClock,
		pollInterval: DefaultPollInterval,
		stepDelay:    DefaultStepDelay,
		terminal:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit gates the candidate, creates the remote job and starts polling
// it. A duplicate verdict is advisory: the session parks in the
// Duplicate state and no remote job is created; callers re-submit with
// Force set to process anyway, which bypasses the gate and yields a
// fresh record.
func (s *Session) Submit(ctx context.Context, sub model.Submission, history, batch []model.Submission) (dedup.Verdict, error) {
	verdict := s.resolver.Resolve(ctx, sub, history, batch)
	if verdict.Duplicate() {
		s.mx.Lock()
		s.state = status.State{Kind: status.Duplicate}
		s.states = append(s.states, s.state)
		s.mx.Unlock()
		s.agg.Ingest(model.ProgressEvent{
			Kind:      model.EventStatus,
			Timestamp: time.Now().UTC(),
			Data:      verdict.String(),
		})
		s.closeTerminal()
		return verdict, nil
	}

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	rec, err := s.svc.SubmitAnalysis(ctx, sub)
	if err != nil {
		return verdict, err
	}
	s.observe(Observation{Record: rec, State: status.Classify(rec), At: time.Now().UTC()})

	s.mx.Lock()
	terminal := s.state.Terminal()
	poller := NewPoller(s.recordFetch(rec.ID), s.observe, WithClock(s.clock))
	s.poller = poller
	s.mx.Unlock()

	if !terminal {
		poller.Start(ctx, s.pollInterval)
	}
	return verdict, nil
}

// Watch attaches to an existing job without creating one: a first read
// establishes the record, then the poll loop takes over. Watching is
// read-only, it never advances the job.
func (s *Session) Watch(ctx context.Context, jobID string) error {
	rec, err := s.svc.FetchRecord(ctx, jobID)
	if err != nil {
		return err
	}
	s.observe(Observation{Record: rec, State: status.Classify(rec), At: time.Now().UTC()})

	s.mx.Lock()
	terminal := s.state.Terminal()
	poller := NewPoller(s.recordFetch(jobID), s.observe, WithClock(s.clock))
	s.poller = poller
	s.mx.Unlock()

	if !terminal {
		poller.Start(ctx, s.pollInterval)
	}
	return nil
}

// RunWorkload starts a multi-step workload and drives it to completion.
// Two loops run against the same workload id: the step runner advancing
// it (initiator only) and the poller observing it, the same way any
// other viewer would. Their interleaving is unordered; both feed the
// mutex-guarded session state.
func (s *Session) RunWorkload(ctx context.Context) error {
	start, err := s.svc.StartWorkload(ctx)
	if err != nil {
		return err
	}
	wid := start.WorkloadID

	s.mx.Lock()
	s.workload = model.Workload{
		ID:          wid,
		TotalSteps:  start.TotalSteps,
		CurrentStep: start.NextStep,
	}
	s.mx.Unlock()
	s.agg.Ingest(model.ProgressEvent{
		Kind:      model.EventStatus,
		Timestamp: time.Now().UTC(),
		Data:      "workload started, next step: " + start.NextStep,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	poller := NewPoller(s.workloadFetch(wid), s.observe, WithClock(s.clock))
	s.mx.Lock()
	s.poller = poller
	s.mx.Unlock()
	poller.Start(runCtx, s.pollInterval)
	defer poller.Cancel()

	runner := NewStepRunner(s.advance(wid),
		WithStepClock(s.clock),
		WithStepDelay(s.stepDelay),
		WithStepped(func(step int) {
			s.agg.Ingest(model.ProgressEvent{
				Kind:      model.EventIteration,
				Timestamp: time.Now().UTC(),
				Data:      "advanced step " + strconv.Itoa(step),
			})
		}),
	)
	if err := runner.Run(runCtx); err != nil {
		// fatal to the runner, the workload keeps its last known
		// non-terminal state: the server side truth is unknown
		s.agg.Ingest(model.ProgressEvent{
			Kind:      model.EventError,
			Timestamp: time.Now().UTC(),
			Data:      err.Error(),
		})
		return err
	}

	// the service reported completion, read the terminal record once
	// instead of waiting out another poll tick
	rec, err := s.workloadFetch(wid)(runCtx)
	if err != nil {
		return err
	}
	s.observe(Observation{Record: rec, State: status.Classify(rec), At: time.Now().UTC()})
	return nil
}

// Close tears the session down: the poll loop stops and no further
// events reach the aggregator. Safe to call more than once.
func (s *Session) Close() {
	s.mx.Lock()
	poller := s.poller
	s.mx.Unlock()
	if poller != nil {
		poller.Cancel()
	}
}

// Done is closed once a terminal state was observed.
func (s *Session) Done() <-chan struct{} {
	return s.terminal
}

// State returns the latest observed semantic state.
func (s *Session) State() status.State {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state
}

// States returns the sequence of observed state transitions, oldest
// first. Consecutive identical observations collapse into one entry.
func (s *Session) States() []status.State {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]status.State(nil), s.states...)
}

// Record returns the last raw record, terminal ones included.
func (s *Session) Record() model.JobRecord {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.record
}

// Workload returns the current workload view.
func (s *Session) Workload() model.Workload {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.workload
}

// Warnings returns accumulated non-fatal notices, e.g. a result that
// was computed but not persisted.
func (s *Session) Warnings() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.warnings...)
}

// Progress returns the bounded event view.
func (s *Session) Progress() progress.Snapshot {
	return s.agg.Snapshot()
}

// Report is the read-only projection served to viewers.
type Report struct {
	JobID    string            `json:"jobId,omitempty"`
	State    string            `json:"state"`
	Warnings []string          `json:"warnings,omitempty"`
	Workload model.Workload    `json:"workload,omitzero"`
	Progress progress.Snapshot `json:"progress"`
}

func (s *Session) Report() Report {
	s.mx.Lock()
	r := Report{
		JobID:    s.record.ID,
		State:    s.state.String(),
		Warnings: append([]string(nil), s.warnings...),
		Workload: s.workload,
	}
	s.mx.Unlock()
	r.Progress = s.agg.Snapshot()
	return r
}

func (s *Session) observe(o Observation) {
	s.mx.Lock()
	if o.Record.SubmittedAt.IsZero() {
		// the wire does not echo the submission time, keep ours
		o.Record.SubmittedAt = s.record.SubmittedAt
	}
	s.record = o.Record
	s.state = o.State
	if n := len(s.states); n == 0 || s.states[n-1] != o.State {
		s.states = append(s.states, o.State)
	}
	for _, w := range status.Warnings(o.Record) {
		if !slices.Contains(s.warnings, w) {
			s.warnings = append(s.warnings, w)
		}
	}
	s.mx.Unlock()

	ev := model.ProgressEvent{Kind: model.EventStatus, Timestamp: o.At, Data: o.State.String()}
	if o.State.Kind == status.Failed {
		ev.Kind = model.EventError
		ev.Data = o.State.Reason
	}
	s.agg.Ingest(ev)

	if o.State.Terminal() {
		s.closeTerminal()
	}
}

func (s *Session) closeTerminal() {
	s.mx.Lock()
	defer s.mx.Unlock()
	if !s.done {
		s.done = true
		close(s.terminal)
	}
}

func (s *Session) recordFetch(jobID string) FetchFunc {
	return func(ctx context.Context) (model.JobRecord, error) {
		return s.svc.FetchRecord(ctx, jobID)
	}
}

// workloadFetch adapts the workload status call to the poller's record
// shape and folds the workload fields into the session view. StepIndex
// never goes backwards, TotalSteps stays fixed at creation.
func (s *Session) workloadFetch(wid string) FetchFunc {
	return func(ctx context.Context) (model.JobRecord, error) {
		resp, err := s.svc.Status(ctx, wid)
		if err != nil {
			return model.JobRecord{}, err
		}

		s.mx.Lock()
		wl := resp.Workload(wid)
		wl.TotalSteps = s.workload.TotalSteps
		if wl.StepIndex < s.workload.StepIndex {
			wl.StepIndex = s.workload.StepIndex
		}
		changed := wl.Message != "" && wl.Message != s.workload.Message
		s.workload = wl
		s.mx.Unlock()

		if changed {
			s.agg.Ingest(model.ProgressEvent{
				Kind:      model.EventStatus,
				Timestamp: time.Now().UTC(),
				Data:      wl.Message,
			})
		}
		return model.JobRecord{ID: wid, RawStatus: resp.Status}, nil
	}
}

func (s *Session) advance(wid string) AdvanceFunc {
	return func(ctx context.Context) (bool, error) {
		resp, err := s.svc.Step(ctx, wid)
		if err != nil {
			return false, err
		}
		return resp.Complete, nil
	}
}

