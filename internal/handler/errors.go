package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-client/internal/attempt"
	"github.com/stemsi/exstem-client/internal/recheck"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/service"
	"github.com/stemsi/exstem-client/internal/transport"
)

type errMapping struct {
	target error
	status int
	code   response.ErrCode
}

// Domain errors in match order.
var errMappings = []errMapping{
	{transport.ErrUnauthorized, http.StatusUnauthorized, response.ErrSessionEnded},
	{transport.ErrSessionEnded, http.StatusUnauthorized, response.ErrSessionEnded},

	{attempt.ErrNotPDF, http.StatusUnsupportedMediaType, response.ErrUnsupportedFile},
	{attempt.ErrFileTooLarge, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge},
	{attempt.ErrEmptyFile, http.StatusBadRequest, response.ErrEmptyFile},
	{attempt.ErrUnknownQuestion, http.StatusNotFound, response.ErrUnknownQuestion},
	{attempt.ErrAlreadySubmitted, http.StatusConflict, response.ErrAlreadySubmitted},
	{attempt.ErrNothingToSubmit, http.StatusBadRequest, response.ErrNothingToSubmit},
	{attempt.ErrBatchInProgress, http.StatusConflict, response.ErrBatchInProgress},
	{attempt.ErrInvalidTransition, http.StatusConflict, response.ErrInvalidTransition},
	{attempt.ErrEmptyQuestionSet, http.StatusUnprocessableEntity, response.ErrEmptyQuestionSet},
	{attempt.ErrSubmissionNotFound, http.StatusNotFound, response.ErrNotFound},
	{attempt.ErrAttemptNotFound, http.StatusNotFound, response.ErrNotFound},

	{recheck.ErrEmptyReason, http.StatusBadRequest, response.ErrValidation},
	{recheck.ErrNotEvaluated, http.StatusConflict, response.ErrNotEvaluated},
	{recheck.ErrRecheckPending, http.StatusConflict, response.ErrRecheckPending},
	{recheck.ErrNoRecheck, http.StatusNotFound, response.ErrNoRecheck},
}

// respondError maps an error from the client core onto the response envelope.
func respondError(c *gin.Context, err error) {
	var inputErr *service.InputError
	if errors.As(err, &inputErr) {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, inputErr.Fields)
		return
	}

	for _, m := range errMappings {
		if errors.Is(err, m.target) {
			response.FailWithDetail(c, m.status, m.code, detailOf(err))
			return
		}
	}

	var (
		apiErr *transport.APIError
		netErr *transport.NetworkError
	)
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		response.FailWithDetail(c, http.StatusNotFound, response.ErrNotFound, apiErr.Detail)
	case errors.As(err, &apiErr):
		response.FailWithDetail(c, http.StatusBadGateway, response.ErrBackendRejected, apiErr.Detail)
	case errors.As(err, &netErr):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrBackendUnavailable)
	case errors.Is(err, service.ErrMalformedResponse):
		response.FailWithDetail(c, http.StatusBadGateway, response.ErrBackendRejected, err.Error())
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// detailOf returns server-provided text when there is some; local errors
// are already described by their code.
func detailOf(err error) string {
	var (
		apiErr *transport.APIError
		vErr   *attempt.ValidationError
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Detail
	case errors.As(err, &vErr):
		return vErr.Detail
	}
	return ""
}
