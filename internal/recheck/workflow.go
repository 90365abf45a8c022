// Package recheck layers review requests on top of evaluated submissions.
// Resolution is decided by a teacher elsewhere; the client only files the
// request and surfaces the outcome once the server reports it.
package recheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/transport"
)

// Sentinel errors for recheck requests.
var (
	ErrEmptyReason    = errors.New("a reason is required to request a recheck")
	ErrNotEvaluated   = errors.New("only evaluated submissions can be rechecked")
	ErrRecheckPending = errors.New("a recheck is already pending for this submission")
	ErrNoRecheck      = errors.New("no recheck requested for this submission")
)

// Backend is the server side of the workflow.
type Backend interface {
	RequestRecheck(ctx context.Context, submissionID, issueDetail string) (model.RecheckState, error)
	RecheckStatus(ctx context.Context, submissionID string) (model.RecheckState, error)
}

// RecordLookup finds the submission a recheck is filed against.
type RecordLookup interface {
	LookupSubmission(ctx context.Context, submissionID string) (model.SubmissionRecord, error)
}

// Workflow tracks the recheck requests made in this process.
type Workflow struct {
	records RecordLookup
	api     Backend
	log     zerolog.Logger

	mu       sync.Mutex
	requests map[string]*model.RecheckRequest
	sending  map[string]struct{}
	// gen changes on Reset; sends started before it are not recorded.
	gen uint64
}

// NewWorkflow creates a Workflow.
func NewWorkflow(records RecordLookup, api Backend, log zerolog.Logger) *Workflow {
	return &Workflow{
		records:  records,
		api:      api,
		log:      log.With().Str("component", "recheck").Logger(),
		requests: make(map[string]*model.RecheckRequest),
		sending:  make(map[string]struct{}),
	}
}

// RequestRecheck files a review request for an evaluated submission. A
// second request is refused while the first is pending; once resolved a
// new one may be filed.
func (w *Workflow) RequestRecheck(ctx context.Context, submissionID, reason string) (model.RecheckRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return model.RecheckRequest{}, ErrEmptyReason
	}

	rec, err := w.records.LookupSubmission(ctx, submissionID)
	if err != nil {
		return model.RecheckRequest{}, fmt.Errorf("lookup submission %s: %w", submissionID, err)
	}
	if rec.Status != model.SubmissionEvaluated {
		return model.RecheckRequest{}, fmt.Errorf("%w: submission %s is %s", ErrNotEvaluated, submissionID, rec.Status)
	}

	w.mu.Lock()
	if w.pendingLocked(submissionID) {
		w.mu.Unlock()
		return model.RecheckRequest{}, ErrRecheckPending
	}
	w.sending[submissionID] = struct{}{}
	gen := w.gen
	w.mu.Unlock()

	st, err := w.api.RequestRecheck(ctx, submissionID, reason)

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen {
		w.log.Info().Str("submission_id", submissionID).Msg("Recheck finished after reset, not recorded")
		if err != nil {
			return model.RecheckRequest{}, err
		}
		return model.RecheckRequest{}, ErrNoRecheck
	}
	delete(w.sending, submissionID)

	if err != nil {
		if transport.IsStatus(err, http.StatusConflict) {
			// The server already holds a pending request, e.g. from another device.
			w.requests[submissionID] = &model.RecheckRequest{
				SubmissionID: submissionID,
				Reason:       reason,
				Status:       model.RecheckPending,
			}
			return model.RecheckRequest{}, fmt.Errorf("%w: %w", ErrRecheckPending, err)
		}
		return model.RecheckRequest{}, err
	}

	req := &model.RecheckRequest{
		SubmissionID: submissionID,
		Reason:       reason,
		Status:       model.RecheckPending,
	}
	if st.Resolved() {
		resolve(req, st)
	}
	w.requests[submissionID] = req

	w.log.Info().
		Str("submission_id", submissionID).
		Str("status", string(req.Status)).
		Msg("Recheck requested")
	return *req, nil
}

// Refresh pulls the server's view of a pending request. Resolved requests
// are never changed again.
func (w *Workflow) Refresh(ctx context.Context, submissionID string) (model.RecheckRequest, error) {
	w.mu.Lock()
	req, ok := w.requests[submissionID]
	if !ok {
		w.mu.Unlock()
		return model.RecheckRequest{}, ErrNoRecheck
	}
	if req.Status == model.RecheckResolved {
		out := *req
		w.mu.Unlock()
		return out, nil
	}
	w.mu.Unlock()

	st, err := w.api.RecheckStatus(ctx, submissionID)
	if err != nil {
		return model.RecheckRequest{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	// The entry may have been replaced while the status call was in flight.
	req, ok = w.requests[submissionID]
	if !ok {
		return model.RecheckRequest{}, ErrNoRecheck
	}
	if req.Status == model.RecheckPending && st.Resolved() {
		resolve(req, st)
		w.log.Info().Str("submission_id", submissionID).Msg("Recheck resolved")
	}
	return *req, nil
}

// Get returns the latest request for a submission.
func (w *Workflow) Get(submissionID string) (model.RecheckRequest, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	req, ok := w.requests[submissionID]
	if !ok {
		return model.RecheckRequest{}, false
	}
	return *req, true
}

// Pending returns the submission IDs with a pending request, sorted.
func (w *Workflow) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0)
	for id, req := range w.requests {
		if req.Status == model.RecheckPending {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Reset forgets every request, e.g. when the session ends.
func (w *Workflow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests = make(map[string]*model.RecheckRequest)
	w.sending = make(map[string]struct{})
	w.gen++
}

func (w *Workflow) pendingLocked(submissionID string) bool {
	if _, ok := w.sending[submissionID]; ok {
		return true
	}
	req, ok := w.requests[submissionID]
	return ok && req.Status == model.RecheckPending
}

func resolve(req *model.RecheckRequest, st model.RecheckState) {
	req.Status = model.RecheckResolved
	req.ResolutionNote = st.ResolutionNote
	req.ResolvedScore = st.Score()
}
