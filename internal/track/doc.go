package track

// Package track implements the client-side lifecycle orchestration of
// remote jobs and workloads.
//
// Overview
// A Session owns everything about one submission: the duplicate gate,
// the remote record it creates, the loops that watch and drive it, and
// the display state those loops feed. Sessions are independent; running
// several of them concurrently cannot leak or clobber each other's
// timers because every timer handle is owned by its Session.
//
// Two loop types exist, with deliberately different error policies:
//
//   - Poller fetches status on a fixed cadence. A transport error is a
//     missed tick: logged, loop continues. Only a terminal semantic
//     state ends the loop.
//   - StepRunner advances a workload one step at a time. A transport
//     error is fatal and surfaces once: an advance may side-effect on
//     the remote side, so it is never retried blindly.
//
// Data flow:
//
//	Session                Poller                 StepRunner
//	   |                     |                        |
//	submit -> dedup gate     |                        |
//	   | remote record ----->| Start(interval)        |
//	   |                     | fetch -> classify      |
//	   |<---- Observation ---|                        |
//	   | start workload ------------------------------> Run()
//	   |                     |                        | advance, 100ms pause
//	   |<------------------- iteration / error events |
//	   | terminal state ---->| stops itself           |
//
// Raw status strings are classified exactly once, at the observation
// boundary (internal/status); everything downstream branches on the
// closed State set only.
//
// Invariants:
//   - At most one active timer loop per Poller; restarting cancels the
//     prior loop first.
//   - Within one loop, ticks are strictly sequential: a new fetch or
//     advance is never issued before the previous response was
//     processed.
//   - A cancelled loop delivers nothing, even when an in-flight request
//     resolves after cancellation.
//   - Cancellation is idempotent.
//
// internal/track/session_test.go is the best source about how to
// properly use a Session.
