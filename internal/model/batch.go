package model

import (
	"fmt"
	"strings"
)

// BatchResult is the per-question result of a batch submit. It is never
// reduced to a single pass/fail flag.
type BatchResult struct {
	Outcomes []BatchOutcome `json:"outcomes"`
	// Total is the number of questions in the attempt.
	Total int `json:"total"`
	// Uploaded counts questions of the attempt the server holds a
	// submission for, including those sent by earlier batches.
	Uploaded int `json:"uploaded"`
}

// Submitted returns the outcomes that were accepted by the server.
func (r BatchResult) Submitted() []BatchOutcome {
	return r.filter(OutcomeUploaded)
}

// Failed returns the outcomes that can be retried with a later batch.
func (r BatchResult) Failed() []BatchOutcome {
	return r.filter(OutcomeFailed)
}

// Rejected returns the outcomes refused without a network call.
func (r BatchResult) Rejected() []BatchOutcome {
	return r.filter(OutcomeRejected)
}

// Summary renders e.g. "6 of 8 answers submitted; 2 failed". The first
// count covers the whole attempt, not only this batch.
func (r BatchResult) Summary() string {
	submitted := max(r.Uploaded, len(r.Submitted()))
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d answers submitted", submitted, r.Total)
	if n := len(r.Failed()); n > 0 {
		fmt.Fprintf(&b, "; %d failed", n)
	}
	if n := len(r.Rejected()); n > 0 {
		fmt.Fprintf(&b, "; %d rejected", n)
	}
	return b.String()
}

func (r BatchResult) filter(status OutcomeStatus) []BatchOutcome {
	var out []BatchOutcome
	for _, o := range r.Outcomes {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}
