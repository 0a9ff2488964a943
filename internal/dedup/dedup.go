// Package dedup decides whether a submission should proceed or be
// flagged as a repeat. The verdict is advisory: a flagged submission can
// always be forced through as a fresh record.
package dedup

import (
	"context"

	"github.com/diagnostiq/tracker/internal/model"
)

type Verdict int

const (
	Accept Verdict = iota
	DuplicateOfHistory
	DuplicateOfBatch
)

func (v Verdict) String() string {
	switch v {
	case DuplicateOfHistory:
		return "duplicate of history"
	case DuplicateOfBatch:
		return "duplicate of batch"
	default:
		return "accept"
	}
}

// Duplicate reports whether the verdict flags a repeat.
func (v Verdict) Duplicate() bool {
	return v != Accept
}

// Matcher is the external content-identity check. The remote collaborator
// owns the mechanism, the resolver only interprets the outcome.
type Matcher interface {
	Matches(ctx context.Context, candidate, other model.Submission) bool
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(ctx context.Context, candidate, other model.Submission) bool

func (f MatcherFunc) Matches(ctx context.Context, candidate, other model.Submission) bool {
	return f(ctx, candidate, other)
}

// DigestMatcher compares the externally computed content digests.
func DigestMatcher() Matcher {
	return MatcherFunc(func(_ context.Context, candidate, other model.Submission) bool {
		return candidate.Digest != "" && candidate.Digest == other.Digest
	})
}

type Resolver struct {
	matcher Matcher
}

func NewResolver(m Matcher) *Resolver {
	if m == nil {
		m = DigestMatcher()
	}
	return &Resolver{matcher: m}
}

// Resolve gates one candidate against prior history and the current
// upload batch. Within a batch only earlier entries count, so the first
// of several identical submissions still goes through. When both batch
// and history match, the batch verdict wins: the more specific context
// makes the better message. A Force candidate bypasses the checks
// entirely.
func (r *Resolver) Resolve(ctx context.Context, candidate model.Submission, history, batch []model.Submission) Verdict {
	if candidate.Force {
		return Accept
	}
	for _, other := range batch {
		if other.ID == candidate.ID {
			break
		}
		if r.matcher.Matches(ctx, candidate, other) {
			return DuplicateOfBatch
		}
	}
	for _, other := range history {
		if r.matcher.Matches(ctx, candidate, other) {
			return DuplicateOfHistory
		}
	}
	return Accept
}
