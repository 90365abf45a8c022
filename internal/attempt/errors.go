package attempt

import (
	"errors"
	"fmt"
)

// Sentinel errors for answer files.
var (
	ErrNotPDF           = errors.New("only PDF files are accepted")
	ErrFileTooLarge     = errors.New("file too large")
	ErrEmptyFile        = errors.New("file is empty")
	ErrUnknownQuestion  = errors.New("question is not part of this attempt")
	ErrAlreadySubmitted = errors.New("answer already submitted for this question")
)

// Sentinel errors for the submission lifecycle.
var (
	ErrNothingToSubmit    = errors.New("no answer files are ready to submit")
	ErrBatchInProgress    = errors.New("a submission batch is still running")
	ErrInvalidTransition  = errors.New("submission is not in a state that allows this")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrEmptyQuestionSet   = errors.New("question set has no questions")
)

// ValidationError is a local rejection of a candidate file. It never
// reaches the network and leaves the orchestrator untouched.
type ValidationError struct {
	QuestionID string
	Err        error
	Detail     string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("question %s: %s", e.QuestionID, e.Err)
	}
	return fmt.Sprintf("question %s: %s: %s", e.QuestionID, e.Err, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
