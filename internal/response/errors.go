package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionRequired    ErrCode = "SESSION_REQUIRED"
	ErrSessionEnded       ErrCode = "SESSION_ENDED"
	ErrAlreadySignedIn    ErrCode = "ALREADY_SIGNED_IN"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrTeacherAccessOnly ErrCode = "TEACHER_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Answer files ──────────────────────────────────────────────────
	ErrFileRequired     ErrCode = "FILE_REQUIRED"
	ErrUnsupportedFile  ErrCode = "UNSUPPORTED_FILE_TYPE"
	ErrFileTooLarge     ErrCode = "FILE_TOO_LARGE"
	ErrEmptyFile        ErrCode = "EMPTY_FILE"
	ErrUnknownQuestion  ErrCode = "UNKNOWN_QUESTION"
	ErrAlreadySubmitted ErrCode = "ALREADY_SUBMITTED"

	// ─── Submission lifecycle ──────────────────────────────────────────
	ErrNothingToSubmit   ErrCode = "NOTHING_TO_SUBMIT"
	ErrBatchInProgress   ErrCode = "BATCH_IN_PROGRESS"
	ErrInvalidTransition ErrCode = "INVALID_TRANSITION"
	ErrEmptyQuestionSet  ErrCode = "EMPTY_QUESTION_SET"

	// ─── Rechecks ──────────────────────────────────────────────────────
	ErrRecheckPending ErrCode = "RECHECK_PENDING"
	ErrNotEvaluated   ErrCode = "NOT_EVALUATED"
	ErrNoRecheck      ErrCode = "NO_RECHECK"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Backend ───────────────────────────────────────────────────────
	ErrBackendUnavailable ErrCode = "BACKEND_UNAVAILABLE"
	ErrBackendRejected    ErrCode = "BACKEND_REJECTED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Incorrect username or password."
	case ErrSessionRequired:
		return "Please sign in to continue."
	case ErrSessionEnded:
		return "Your session has ended. Please sign in again."
	case ErrAlreadySignedIn:
		return "You are already signed in."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrTeacherAccessOnly:
		return "This resource is restricted to teachers."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Answer files ──────────────────────────────────────────────────
	case ErrFileRequired:
		return "An answer file is required."
	case ErrUnsupportedFile:
		return "Only PDF answer files are accepted."
	case ErrFileTooLarge:
		return "The answer file exceeds the size limit."
	case ErrEmptyFile:
		return "The answer file is empty."
	case ErrUnknownQuestion:
		return "This question is not part of the attempt."
	case ErrAlreadySubmitted:
		return "An answer was already submitted for this question."

	// ─── Submission lifecycle ──────────────────────────────────────────
	case ErrNothingToSubmit:
		return "Choose at least one answer file before submitting."
	case ErrBatchInProgress:
		return "Your previous submission is still being sent."
	case ErrInvalidTransition:
		return "This submission cannot be evaluated in its current state."
	case ErrEmptyQuestionSet:
		return "This question set has no questions."

	// ─── Rechecks ──────────────────────────────────────────────────────
	case ErrRecheckPending:
		return "A recheck is already pending for this submission."
	case ErrNotEvaluated:
		return "Only evaluated submissions can be rechecked."
	case ErrNoRecheck:
		return "No recheck was requested for this submission."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Backend ───────────────────────────────────────────────────────
	case ErrBackendUnavailable:
		return "The grading server could not be reached. Please try again."
	case ErrBackendRejected:
		return "The grading server rejected the request."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
