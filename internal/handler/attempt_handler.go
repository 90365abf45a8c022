package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/attempt"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/validator"
)

// AttemptHandler drives test attempts: choosing answer files, submitting
// them and triggering evaluation.
type AttemptHandler struct {
	manager        *attempt.Manager
	maxUploadBytes int64
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(manager *attempt.Manager, maxUploadBytes int64, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		manager:        manager,
		maxUploadBytes: maxUploadBytes,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

type startAttemptRequest struct {
	QuestionSetID string `json:"question_set_id" binding:"required"`
}

type attemptView struct {
	AttemptID   string                   `json:"attempt_id"`
	QuestionSet model.QuestionSet        `json:"question_set"`
	Readiness   attempt.Readiness        `json:"readiness"`
	CanSubmit   bool                     `json:"can_submit"`
	Records     []model.SubmissionRecord `json:"records"`
}

func viewAttempt(o *attempt.Orchestrator) attemptView {
	r := o.Readiness()
	return attemptView{
		AttemptID:   o.ID(),
		QuestionSet: o.QuestionSet(),
		Readiness:   r,
		CanSubmit:   r.CanSubmit(),
		Records:     o.Records(),
	}
}

// Dashboard godoc
// GET /dashboard
// Landing view after sign-in: the open attempts.
func (h *AttemptHandler) Dashboard(c *gin.Context) {
	attempts := h.manager.List()
	views := make([]attemptView, 0, len(attempts))
	for _, o := range attempts {
		views = append(views, viewAttempt(o))
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": views})
}

// StartAttempt godoc
// POST /api/attempts
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	var req startAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	o, err := h.manager.Start(c.Request.Context(), req.QuestionSetID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, viewAttempt(o))
}

// GetAttempt godoc
// GET /api/attempts/:attempt_id
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	o, err := h.manager.Get(c.Param("attempt_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, viewAttempt(o))
}

// SetAnswer godoc
// PUT /api/attempts/:attempt_id/answers/:question_id (multipart: file)
// Chooses the answer file for one question. Nothing is uploaded yet.
func (h *AttemptHandler) SetAnswer(c *gin.Context) {
	o, err := h.manager.Get(c.Param("attempt_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	// Read one byte past the limit so oversize files are still detected.
	blob, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	qid := c.Param("question_id")
	candidate := attempt.NewCandidateFile(qid, header.Filename, blob)
	if header.Size > candidate.SizeBytes {
		candidate.SizeBytes = header.Size
	}

	if err := o.SetCandidate(qid, candidate); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, viewAttempt(o))
}

// ClearAnswer godoc
// DELETE /api/attempts/:attempt_id/answers/:question_id
func (h *AttemptHandler) ClearAnswer(c *gin.Context) {
	o, err := h.manager.Get(c.Param("attempt_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := o.SetCandidate(c.Param("question_id"), nil); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, viewAttempt(o))
}

// Submit godoc
// POST /api/attempts/:attempt_id/submit
// Uploads every ready answer. The result lists each question separately.
func (h *AttemptHandler) Submit(c *gin.Context) {
	o, err := h.manager.Get(c.Param("attempt_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := o.SubmitBatch(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"summary":  res.Summary(),
		"outcomes": res.Outcomes,
		"attempt":  viewAttempt(o),
	})
}

// Evaluate godoc
// POST /api/submissions/:submission_id/evaluate
func (h *AttemptHandler) Evaluate(c *gin.Context) {
	rec, err := h.manager.Evaluate(c.Request.Context(), c.Param("submission_id"))
	if err != nil {
		if rec.SubmissionID != "" {
			// The upload is safe; only grading failed.
			h.log.Warn().Err(err).Str("submission_id", rec.SubmissionID).Msg("Evaluation failed")
		}
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, rec)
}

// GetSubmission godoc
// GET /api/submissions/:submission_id
func (h *AttemptHandler) GetSubmission(c *gin.Context) {
	rec, err := h.manager.LookupSubmission(c.Request.Context(), c.Param("submission_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, rec)
}
