// Package batch aggregates completion state across sibling operations.
//
// The aggregator is pure logic over operation statuses; it owns no storage.
// Callers use the outcome to decide side effects on parent resources: a
// parent is deleted only when its corresponding operation succeeded, so a
// partial outcome leaves failed sub-resources retained.
package batch

import "github.com/saverelay/saverelay/pkg/core"

// Outcome is the tri-state result of a batch, plus the non-final
// "processing" state while any sibling remains unfinished.
type Outcome string

const (
	OutcomeProcessing Outcome = "processing"
	OutcomeSuccess    Outcome = "success"
	OutcomePartial    Outcome = "partial"
	OutcomeFailure    Outcome = "failure"
)

// Final reports whether every sibling has reached a terminal status.
func (o Outcome) Final() bool { return o != OutcomeProcessing }

// Summary describes the aggregated state of a batch.
type Summary struct {
	Outcome   Outcome `json:"outcome"`
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
}

// AllCompleted reports whether every sibling is terminal.
func (s Summary) AllCompleted() bool { return s.Completed+s.Failed == s.Total && s.Total > 0 }

// AllSuccessful reports whether every sibling completed successfully.
func (s Summary) AllSuccessful() bool { return s.Completed == s.Total && s.Total > 0 }

// SomeSuccessful reports whether at least one sibling completed.
func (s Summary) SomeSuccessful() bool { return s.Completed > 0 }

// Aggregate computes the batch summary for a set of sibling operations.
// The outcome stays OutcomeProcessing until every sibling is terminal;
// then it is success iff all completed, failure iff none completed, and
// partial otherwise.
func Aggregate(ops []*core.OperationRecord) Summary {
	s := Summary{Total: len(ops)}
	for _, op := range ops {
		switch op.Status {
		case core.StatusCompleted:
			s.Completed++
		case core.StatusFailed:
			s.Failed++
		}
	}

	switch {
	case !s.AllCompleted():
		s.Outcome = OutcomeProcessing
	case s.AllSuccessful():
		s.Outcome = OutcomeSuccess
	case s.SomeSuccessful():
		s.Outcome = OutcomePartial
	default:
		s.Outcome = OutcomeFailure
	}
	return s
}
