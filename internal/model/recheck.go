package model

// RecheckStatus enumerates the states of a recheck request.
type RecheckStatus string

const (
	RecheckPending  RecheckStatus = "pending"
	RecheckResolved RecheckStatus = "resolved"
)

// RecheckRequest is a review request tied to one evaluated submission.
// It is immutable once resolved.
type RecheckRequest struct {
	SubmissionID   string        `json:"submission_id"`
	Reason         string        `json:"reason"`
	Status         RecheckStatus `json:"status"`
	ResolutionNote string        `json:"resolution_note,omitempty"`
	ResolvedScore  *float64      `json:"resolved_score,omitempty"`
}

// RecheckPayload is the body of POST /submissions/recheck.
type RecheckPayload struct {
	SubmissionID string `json:"submission_id"`
	IssueDetail  string `json:"issue_detail"`
}

// RecheckState is the backend view of a recheck request.
type RecheckState struct {
	SubmissionID   FlexID   `json:"submission_id"`
	Status         string   `json:"status"`
	ResolutionNote string   `json:"resolution_note,omitempty"`
	ResolvedScore  *float64 `json:"resolved_score,omitempty"`
	// Some backends report the new score as updated_score.
	UpdatedScore *float64 `json:"updated_score,omitempty"`
}

// Resolved reports whether the server considers the recheck finished.
func (s RecheckState) Resolved() bool {
	switch s.Status {
	case "resolved", "completed", "approved", "rejected":
		return true
	}
	return false
}

// Score returns the resolved score, whichever field carried it.
func (s RecheckState) Score() *float64 {
	if s.ResolvedScore != nil {
		return s.ResolvedScore
	}
	return s.UpdatedScore
}
