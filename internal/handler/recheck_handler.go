package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-client/internal/recheck"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/validator"
)

// RecheckHandler files and tracks recheck requests.
type RecheckHandler struct {
	workflow *recheck.Workflow
}

// NewRecheckHandler creates a new RecheckHandler.
func NewRecheckHandler(workflow *recheck.Workflow) *RecheckHandler {
	return &RecheckHandler{workflow: workflow}
}

type recheckRequest struct {
	Reason string `json:"reason" binding:"required,max=2000"`
}

// RequestRecheck godoc
// POST /api/submissions/:submission_id/recheck
func (h *RecheckHandler) RequestRecheck(c *gin.Context) {
	var req recheckRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	rr, err := h.workflow.RequestRecheck(c.Request.Context(), c.Param("submission_id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, rr)
}

// GetRecheck godoc
// GET /api/submissions/:submission_id/recheck
// Returns the request, asking the grading server if it is still pending.
func (h *RecheckHandler) GetRecheck(c *gin.Context) {
	rr, err := h.workflow.Refresh(c.Request.Context(), c.Param("submission_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, rr)
}

// ListPending godoc
// GET /api/rechecks/pending
func (h *RecheckHandler) ListPending(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"submission_ids": h.workflow.Pending()})
}
