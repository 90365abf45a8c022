package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/transport"
)

// GradingService wraps the submission, evaluation and recheck endpoints.
type GradingService struct {
	client *transport.Client
}

// NewGradingService creates a new GradingService.
func NewGradingService(client *transport.Client) *GradingService {
	return &GradingService{client: client}
}

// Upload sends one answer file for one question.
func (s *GradingService) Upload(ctx context.Context, questionSetID string, f model.CandidateFile) (model.UploadResponse, error) {
	name := f.FileName
	if name == "" {
		name = "answer-" + f.QuestionID + ".pdf"
	}

	var resp model.UploadResponse
	err := s.client.DoJSON(ctx, http.MethodPost, "/submissions", &resp, transport.WithMultipart(
		map[string]string{
			"question_id":     f.QuestionID,
			"question_set_id": questionSetID,
		},
		transport.FilePart{Field: "file", FileName: name, ContentType: f.MimeType, Data: f.Blob},
	))
	if err != nil {
		return model.UploadResponse{}, err
	}
	if resp.ID == "" {
		return model.UploadResponse{}, fmt.Errorf("%w: upload reply has no id", ErrMalformedResponse)
	}
	return resp, nil
}

// Evaluate asks the backend to grade a stored submission and waits for the result.
func (s *GradingService) Evaluate(ctx context.Context, submissionID string) (model.EvaluationResult, error) {
	var res model.EvaluationResult
	err := s.client.DoJSON(ctx, http.MethodPost, "/submissions/evaluate", &res,
		transport.WithJSON(model.EvaluateRequest{SubmissionID: submissionID}),
	)
	if err != nil {
		return model.EvaluationResult{}, err
	}
	if res.SubmissionID == "" {
		res.SubmissionID = model.FlexID(submissionID)
	}
	return res, nil
}

// GetSubmission returns the backend's view of one submission.
func (s *GradingService) GetSubmission(ctx context.Context, submissionID string) (model.SubmissionRecord, error) {
	var detail model.SubmissionDetail
	if err := s.client.DoJSON(ctx, http.MethodGet, "/submissions/"+url.PathEscape(submissionID), &detail); err != nil {
		return model.SubmissionRecord{}, err
	}
	if detail.ID == "" {
		detail.ID = model.FlexID(submissionID)
	}
	return detail.Record(), nil
}

// LookupSubmission lets the recheck workflow check submission state remotely.
func (s *GradingService) LookupSubmission(ctx context.Context, submissionID string) (model.SubmissionRecord, error) {
	return s.GetSubmission(ctx, submissionID)
}

// RequestRecheck files a review request for an evaluated submission.
func (s *GradingService) RequestRecheck(ctx context.Context, submissionID, issueDetail string) (model.RecheckState, error) {
	var st model.RecheckState
	err := s.client.DoJSON(ctx, http.MethodPost, "/submissions/recheck", &st,
		transport.WithJSON(model.RecheckPayload{SubmissionID: submissionID, IssueDetail: issueDetail}),
	)
	if err != nil {
		return model.RecheckState{}, err
	}
	return normaliseRecheck(st, submissionID), nil
}

// RecheckStatus fetches the current state of a recheck request.
func (s *GradingService) RecheckStatus(ctx context.Context, submissionID string) (model.RecheckState, error) {
	var st model.RecheckState
	path := "/submissions/" + url.PathEscape(submissionID) + "/recheck"
	if err := s.client.DoJSON(ctx, http.MethodGet, path, &st); err != nil {
		return model.RecheckState{}, err
	}
	return normaliseRecheck(st, submissionID), nil
}

func normaliseRecheck(st model.RecheckState, submissionID string) model.RecheckState {
	if st.SubmissionID == "" {
		st.SubmissionID = model.FlexID(submissionID)
	}
	if st.Status == "" {
		st.Status = string(model.RecheckPending)
	}
	return st
}
