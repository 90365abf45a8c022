package model

// MimePDF is the only accepted answer file type.
const MimePDF = "application/pdf"

// CandidateFile is a file chosen for a question but not yet accepted by the
// server. It lives in memory only.
type CandidateFile struct {
	QuestionID string
	FileName   string
	Blob       []byte
	SizeBytes  int64
	MimeType   string
}

// SubmissionStatus enumerates the lifecycle of one uploaded answer.
type SubmissionStatus string

const (
	SubmissionUploading  SubmissionStatus = "uploading"
	SubmissionUploaded   SubmissionStatus = "uploaded"
	SubmissionEvaluating SubmissionStatus = "evaluating"
	SubmissionEvaluated  SubmissionStatus = "evaluated"
	SubmissionFailed     SubmissionStatus = "failed"
)

// SubmissionRecord tracks one question's answer once the server accepted it.
type SubmissionRecord struct {
	QuestionID   string           `json:"question_id"`
	SubmissionID string           `json:"submission_id"`
	Status       SubmissionStatus `json:"status"`
	ResultMarks  *float64         `json:"result_marks,omitempty"`
	MaxMarks     float64          `json:"max_marks,omitempty"`
	Feedback     string           `json:"feedback,omitempty"`
	ErrorDetail  string           `json:"error_detail,omitempty"`
}

// UploadResponse is the backend reply to POST /submissions.
type UploadResponse struct {
	ID     FlexID `json:"id"`
	Status string `json:"status,omitempty"`
}

// EvaluateRequest is the payload for POST /submissions/evaluate.
type EvaluateRequest struct {
	SubmissionID string `json:"submission_id"`
}

// EvaluationResult is the backend reply to POST /submissions/evaluate.
type EvaluationResult struct {
	SubmissionID FlexID   `json:"submission_id"`
	Status       string   `json:"status"`
	Score        *float64 `json:"score"`
	MaxMarks     float64  `json:"max_marks,omitempty"`
	Feedback     string   `json:"feedback,omitempty"`
}

// Failed reports whether the server declared the evaluation unsuccessful.
func (r EvaluationResult) Failed() bool {
	return r.Status == "failed" || r.Status == "error"
}

// SubmissionDetail is the backend view of a stored submission
// (GET /submissions/{id}).
type SubmissionDetail struct {
	ID         FlexID   `json:"id"`
	QuestionID FlexID   `json:"question_id"`
	Status     string   `json:"status"`
	Score      *float64 `json:"score"`
	MaxMarks   float64  `json:"max_marks,omitempty"`
	Feedback   string   `json:"feedback,omitempty"`
}

// Record converts the server view into a SubmissionRecord.
func (d SubmissionDetail) Record() SubmissionRecord {
	status := SubmissionStatus(d.Status)
	switch status {
	case SubmissionUploaded, SubmissionEvaluating, SubmissionEvaluated, SubmissionFailed:
	default:
		// Older backends report "pending" for stored but ungraded answers.
		status = SubmissionUploaded
		if d.Score != nil {
			status = SubmissionEvaluated
		}
	}
	return SubmissionRecord{
		QuestionID:   d.QuestionID.String(),
		SubmissionID: d.ID.String(),
		Status:       status,
		ResultMarks:  d.Score,
		MaxMarks:     d.MaxMarks,
		Feedback:     d.Feedback,
	}
}

// FailureKind classifies why a question did not make it into a batch.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureAuth       FailureKind = "auth"
	FailureNetwork    FailureKind = "network"
	FailureServer     FailureKind = "server"
	FailureRejected   FailureKind = "rejected"
)

// OutcomeStatus is the result of one question within a batch submit.
type OutcomeStatus string

const (
	OutcomeUploaded OutcomeStatus = "uploaded"
	OutcomeFailed   OutcomeStatus = "failed"
	OutcomeRejected OutcomeStatus = "rejected"
)

// BatchOutcome reports what happened to one question during a batch submit.
type BatchOutcome struct {
	QuestionID   string        `json:"question_id"`
	Status       OutcomeStatus `json:"status"`
	SubmissionID string        `json:"submission_id,omitempty"`
	FailureKind  FailureKind   `json:"failure_kind,omitempty"`
	Detail       string        `json:"detail,omitempty"`
}
