// Package attempt coordinates a student's answer files for one test attempt:
// which questions have a file ready, which uploads are in flight, and what
// the server has confirmed for each question.
package attempt

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/transport"
)

const (
	// DefaultMaxUploadBytes matches the backend's upload limit.
	DefaultMaxUploadBytes int64 = 10 << 20
	// DefaultConcurrency bounds simultaneous uploads within one batch.
	DefaultConcurrency = 4
)

// Uploader is the backend surface the orchestrator drives.
type Uploader interface {
	Upload(ctx context.Context, questionSetID string, f model.CandidateFile) (model.UploadResponse, error)
	Evaluate(ctx context.Context, submissionID string) (model.EvaluationResult, error)
}

// Options tunes an Orchestrator. Zero values select the defaults.
type Options struct {
	MaxUploadBytes int64
	Concurrency    int
}

func (o Options) withDefaults() Options {
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// Readiness is a snapshot used to drive progress display and gate submit.
type Readiness struct {
	// Ready holds questions with a candidate file waiting to be sent.
	Ready []string `json:"ready"`
	// Required holds every question of the attempt.
	Required []string `json:"required"`
	// InFlight holds questions whose upload has not completed yet.
	InFlight []string `json:"in_flight"`
	// BatchRunning is true while a SubmitBatch call is resolving.
	BatchRunning bool `json:"batch_running"`
}

// CanSubmit reports whether a batch may be started now. Partial batches are
// allowed; one ready file is enough.
func (r Readiness) CanSubmit() bool {
	return len(r.Ready) > 0 && !r.BatchRunning
}

// queuedCandidate is a file chosen while the question's upload was in
// flight. A nil file records that the user cleared the question.
type queuedCandidate struct {
	file *model.CandidateFile
}

// Orchestrator owns the candidate files and submission records of one
// attempt. All methods are safe for concurrent use.
type Orchestrator struct {
	id    string
	set   model.QuestionSet
	order []string
	known map[string]struct{}
	api   Uploader
	opts  Options
	log   zerolog.Logger

	mu           sync.Mutex
	candidates   map[string]*model.CandidateFile
	inFlight     map[string]*model.CandidateFile
	queued       map[string]queuedCandidate
	records      map[string]*model.SubmissionRecord
	bySubmission map[string]string
	batchRunning bool
}

// NewOrchestrator creates an orchestrator for the given attempt.
func NewOrchestrator(id string, set model.QuestionSet, api Uploader, opts Options, log zerolog.Logger) *Orchestrator {
	order := set.QuestionIDs()
	known := make(map[string]struct{}, len(order))
	for _, qid := range order {
		known[qid] = struct{}{}
	}

	return &Orchestrator{
		id:           id,
		set:          set,
		order:        order,
		known:        known,
		api:          api,
		opts:         opts.withDefaults(),
		log:          log.With().Str("component", "orchestrator").Str("attempt_id", id).Logger(),
		candidates:   make(map[string]*model.CandidateFile),
		inFlight:     make(map[string]*model.CandidateFile),
		queued:       make(map[string]queuedCandidate),
		records:      make(map[string]*model.SubmissionRecord),
		bySubmission: make(map[string]string),
	}
}

// ID returns the attempt ID.
func (o *Orchestrator) ID() string {
	return o.id
}

// QuestionSet returns the question set being attempted.
func (o *Orchestrator) QuestionSet() model.QuestionSet {
	return o.set
}

// SetCandidate chooses f as the answer for questionID, or clears the choice
// when f is nil. Invalid files are rejected with a *ValidationError and
// nothing changes. While the question's upload is in flight the choice is
// queued for the next batch.
func (o *Orchestrator) SetCandidate(questionID string, f *model.CandidateFile) error {
	if _, ok := o.known[questionID]; !ok {
		return &ValidationError{QuestionID: questionID, Err: ErrUnknownQuestion}
	}

	var file *model.CandidateFile
	if f != nil {
		if err := validateCandidate(questionID, f, o.opts.MaxUploadBytes); err != nil {
			return err
		}
		cp := *f
		cp.QuestionID = questionID
		cp.SizeBytes = candidateSize(&cp)
		file = &cp
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if rec, ok := o.records[questionID]; ok && file != nil {
		return &ValidationError{QuestionID: questionID, Err: ErrAlreadySubmitted, Detail: rec.SubmissionID}
	}

	if _, flying := o.inFlight[questionID]; flying {
		switch {
		case file != nil:
			o.queued[questionID] = queuedCandidate{file: file}
		case hasQueued(o.queued, questionID):
			delete(o.queued, questionID)
		default:
			o.queued[questionID] = queuedCandidate{}
		}
		return nil
	}

	if file == nil {
		delete(o.candidates, questionID)
		return nil
	}
	o.candidates[questionID] = file
	return nil
}

func hasQueued(q map[string]queuedCandidate, questionID string) bool {
	c, ok := q[questionID]
	return ok && c.file != nil
}

// Candidate returns the file waiting to be sent for questionID, if any.
func (o *Orchestrator) Candidate(questionID string) (model.CandidateFile, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.candidates[questionID]
	if !ok {
		return model.CandidateFile{}, false
	}
	return *f, true
}

// Readiness returns the current progress snapshot.
func (o *Orchestrator) Readiness() Readiness {
	o.mu.Lock()
	defer o.mu.Unlock()

	r := Readiness{
		Ready:        make([]string, 0, len(o.candidates)),
		Required:     append([]string(nil), o.order...),
		InFlight:     make([]string, 0, len(o.inFlight)),
		BatchRunning: o.batchRunning,
	}
	for _, qid := range o.order {
		if _, ok := o.candidates[qid]; ok {
			r.Ready = append(r.Ready, qid)
		}
		if _, ok := o.inFlight[qid]; ok {
			r.InFlight = append(r.InFlight, qid)
		}
	}
	return r
}

// SubmitBatch uploads every ready candidate independently and reports one
// outcome per question. A failed upload never affects the others and keeps
// its file for a later batch. Cancelling ctx does not abandon uploads
// already started.
func (o *Orchestrator) SubmitBatch(ctx context.Context) (model.BatchResult, error) {
	o.mu.Lock()
	if o.batchRunning {
		o.mu.Unlock()
		return model.BatchResult{}, ErrBatchInProgress
	}
	if len(o.candidates) == 0 {
		o.mu.Unlock()
		return model.BatchResult{}, ErrNothingToSubmit
	}

	var (
		outcomes []model.BatchOutcome
		batch    []*model.CandidateFile
	)
	for _, qid := range o.order {
		f, ok := o.candidates[qid]
		if !ok {
			continue
		}
		delete(o.candidates, qid)
		if rec, done := o.records[qid]; done {
			// Chosen while the previous upload was in flight and that upload won.
			outcomes = append(outcomes, model.BatchOutcome{
				QuestionID:   qid,
				Status:       model.OutcomeRejected,
				SubmissionID: rec.SubmissionID,
				FailureKind:  model.FailureRejected,
				Detail:       ErrAlreadySubmitted.Error(),
			})
			continue
		}
		o.inFlight[qid] = f
		batch = append(batch, f)
	}
	o.batchRunning = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.batchRunning = false
		o.mu.Unlock()
	}()

	o.log.Info().Int("uploads", len(batch)).Int("rejected", len(outcomes)).Msg("Submitting batch")

	ctx = context.WithoutCancel(ctx)
	results := make([]model.BatchOutcome, len(batch))

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i, f := range batch {
		g.Go(func() error {
			resp, err := o.api.Upload(ctx, o.set.ID.String(), *f)
			results[i] = o.complete(f, resp, err)
			return nil
		})
	}
	_ = g.Wait()

	o.mu.Lock()
	uploaded := len(o.records)
	o.mu.Unlock()

	res := model.BatchResult{
		Outcomes: append(results, outcomes...),
		Total:    len(o.order),
		Uploaded: uploaded,
	}
	sort.SliceStable(res.Outcomes, func(i, j int) bool {
		return o.position(res.Outcomes[i].QuestionID) < o.position(res.Outcomes[j].QuestionID)
	})

	o.log.Info().Str("summary", res.Summary()).Msg("Batch finished")
	return res, nil
}

// complete applies one upload's result to its own question only.
func (o *Orchestrator) complete(f *model.CandidateFile, resp model.UploadResponse, err error) model.BatchOutcome {
	qid := f.QuestionID

	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.inFlight, qid)
	next, hasNext := o.queued[qid]
	delete(o.queued, qid)

	if err != nil {
		switch {
		case !hasNext:
			o.candidates[qid] = f
		case next.file != nil:
			o.candidates[qid] = next.file
		}

		kind := transport.Classify(err)
		o.log.Warn().Err(err).Str("question_id", qid).Str("failure", string(kind)).Msg("Upload failed")
		return model.BatchOutcome{
			QuestionID:  qid,
			Status:      model.OutcomeFailed,
			FailureKind: kind,
			Detail:      transport.Detail(err),
		}
	}

	sid := resp.ID.String()
	o.records[qid] = &model.SubmissionRecord{
		QuestionID:   qid,
		SubmissionID: sid,
		Status:       model.SubmissionUploaded,
		MaxMarks:     o.marks(qid),
	}
	o.bySubmission[sid] = qid
	if next.file != nil {
		o.candidates[qid] = next.file
	}

	o.log.Debug().Str("question_id", qid).Str("submission_id", sid).Msg("Upload accepted")
	return model.BatchOutcome{
		QuestionID:   qid,
		Status:       model.OutcomeUploaded,
		SubmissionID: sid,
	}
}

// Evaluate asks the server to grade a stored submission. The record moves
// uploaded|failed -> evaluating -> evaluated|failed, driven only by the
// server's answer.
func (o *Orchestrator) Evaluate(ctx context.Context, submissionID string) (model.SubmissionRecord, error) {
	o.mu.Lock()
	qid, ok := o.bySubmission[submissionID]
	if !ok {
		o.mu.Unlock()
		return model.SubmissionRecord{}, ErrSubmissionNotFound
	}
	rec := o.records[qid]
	if rec.Status != model.SubmissionUploaded && rec.Status != model.SubmissionFailed {
		status := rec.Status
		o.mu.Unlock()
		return model.SubmissionRecord{}, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, submissionID, status)
	}
	rec.Status = model.SubmissionEvaluating
	rec.ErrorDetail = ""
	o.mu.Unlock()

	res, err := o.api.Evaluate(ctx, submissionID)

	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case err != nil:
		rec.Status = model.SubmissionFailed
		rec.ErrorDetail = transport.Detail(err)
		o.log.Warn().Err(err).Str("submission_id", submissionID).Msg("Evaluation failed")
	case res.Failed():
		rec.Status = model.SubmissionFailed
		rec.ErrorDetail = res.Feedback
		if rec.ErrorDetail == "" {
			rec.ErrorDetail = "evaluation failed"
		}
	default:
		rec.Status = model.SubmissionEvaluated
		rec.ResultMarks = res.Score
		rec.Feedback = res.Feedback
		if res.MaxMarks > 0 {
			rec.MaxMarks = res.MaxMarks
		}
	}
	return *rec, err
}

// Records returns every submission record in question order.
func (o *Orchestrator) Records() []model.SubmissionRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]model.SubmissionRecord, 0, len(o.records))
	for _, qid := range o.order {
		if rec, ok := o.records[qid]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// Record returns the submission record for questionID, if one exists.
func (o *Orchestrator) Record(questionID string) (model.SubmissionRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.records[questionID]
	if !ok {
		return model.SubmissionRecord{}, false
	}
	return *rec, true
}

// LookupSubmission returns the record holding submissionID.
func (o *Orchestrator) LookupSubmission(_ context.Context, submissionID string) (model.SubmissionRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	qid, ok := o.bySubmission[submissionID]
	if !ok {
		return model.SubmissionRecord{}, ErrSubmissionNotFound
	}
	return *o.records[qid], nil
}

func (o *Orchestrator) position(questionID string) int {
	for i, qid := range o.order {
		if qid == questionID {
			return i
		}
	}
	return len(o.order)
}

func (o *Orchestrator) marks(questionID string) float64 {
	for _, q := range o.set.Questions {
		if q.ID() == questionID {
			return q.Marks
		}
	}
	return 0
}
