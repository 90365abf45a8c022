package attempt

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/transport"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n")

// fakeUploader is a scriptable backend. Uploads for a gated question block
// until the gate is closed.
type fakeUploader struct {
	mu        sync.Mutex
	uploadErr map[string]error
	gates     map[string]chan struct{}
	started   chan string
	calls     map[string]int
	ctxErrs   []error
	nextID    int
	active    int
	maxActive int

	evalGate   chan struct{}
	evalErr    error
	evalResult *model.EvaluationResult
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		uploadErr: make(map[string]error),
		gates:     make(map[string]chan struct{}),
		started:   make(chan string, 32),
		calls:     make(map[string]int),
	}
}

func (f *fakeUploader) gate(qid string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[qid] = ch
	return ch
}

func (f *fakeUploader) Upload(ctx context.Context, _ string, c model.CandidateFile) (model.UploadResponse, error) {
	f.mu.Lock()
	f.calls[c.QuestionID]++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	gate := f.gates[c.QuestionID]
	err := f.uploadErr[c.QuestionID]
	f.mu.Unlock()

	f.started <- c.QuestionID
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.active--
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if err != nil {
		return model.UploadResponse{}, err
	}
	f.nextID++
	return model.UploadResponse{ID: model.FlexID(strconv.Itoa(100 + f.nextID)), Status: "uploaded"}, nil
}

func (f *fakeUploader) Evaluate(_ context.Context, submissionID string) (model.EvaluationResult, error) {
	if f.evalGate != nil {
		<-f.evalGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.evalErr != nil {
		return model.EvaluationResult{}, f.evalErr
	}
	if f.evalResult != nil {
		return *f.evalResult, nil
	}
	score := 8.0
	return model.EvaluationResult{
		SubmissionID: model.FlexID(submissionID),
		Status:       "evaluated",
		Score:        &score,
		MaxMarks:     10,
		Feedback:     "Well argued",
	}, nil
}

func (f *fakeUploader) callCount(qid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[qid]
}

func questionSet(ids ...string) model.QuestionSet {
	set := model.QuestionSet{ID: "7", Title: "Physics midterm"}
	for _, id := range ids {
		set.Questions = append(set.Questions, model.QuestionRef{QuestionID: model.FlexID(id), Marks: 10})
	}
	return set
}

func newOrchestrator(t *testing.T, api Uploader, ids ...string) *Orchestrator {
	t.Helper()
	return NewOrchestrator("attempt-1", questionSet(ids...), api, Options{}, zerolog.Nop())
}

func pdf(qid string) *model.CandidateFile {
	return NewCandidateFile(qid, "q"+qid+".pdf", pdfBytes)
}

func waitStarted(t *testing.T, api *fakeUploader, qid string) {
	t.Helper()
	select {
	case got := <-api.started:
		require.Equal(t, qid, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("upload for question %s never started", qid)
	}
}

func TestSetCandidateRejectsInvalidFiles(t *testing.T) {
	o := newOrchestrator(t, newFakeUploader(), "1", "2")
	require.NoError(t, o.SetCandidate("2", pdf("2")))
	before := o.Readiness()

	tests := []struct {
		name string
		qid  string
		file *model.CandidateFile
		want error
	}{
		{"not a pdf", "1", NewCandidateFile("1", "notes.txt", []byte("plain text answer")), ErrNotPDF},
		{"empty", "1", &model.CandidateFile{MimeType: model.MimePDF}, ErrEmptyFile},
		{"too large", "1", &model.CandidateFile{MimeType: model.MimePDF, Blob: pdfBytes, SizeBytes: DefaultMaxUploadBytes + 1}, ErrFileTooLarge},
		{"understated size", "1", &model.CandidateFile{MimeType: model.MimePDF, Blob: make([]byte, DefaultMaxUploadBytes+1), SizeBytes: 1}, ErrFileTooLarge},
		{"unknown question", "9", pdf("9"), ErrUnknownQuestion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.SetCandidate(tt.qid, tt.file)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.qid, vErr.QuestionID)
			assert.Equal(t, before, o.Readiness())
		})
	}
}

func TestSetCandidateAcceptsExactlyTheLimit(t *testing.T) {
	o := NewOrchestrator("a", questionSet("1"), newFakeUploader(), Options{MaxUploadBytes: int64(len(pdfBytes))}, zerolog.Nop())
	require.NoError(t, o.SetCandidate("1", pdf("1")))

	bigger := append(append([]byte(nil), pdfBytes...), ' ')
	assert.ErrorIs(t, o.SetCandidate("1", NewCandidateFile("1", "q1.pdf", bigger)), ErrFileTooLarge)
}

func TestSetCandidateRecordsActualBlobSize(t *testing.T) {
	o := newOrchestrator(t, newFakeUploader(), "1")
	f := pdf("1")
	f.SizeBytes = 1
	require.NoError(t, o.SetCandidate("1", f))

	c, ok := o.Candidate("1")
	require.True(t, ok)
	assert.Equal(t, int64(len(pdfBytes)), c.SizeBytes)
}

func TestSetThenClearLeavesReadinessUnchanged(t *testing.T) {
	o := newOrchestrator(t, newFakeUploader(), "1", "2", "3")
	require.NoError(t, o.SetCandidate("3", pdf("3")))
	before := o.Readiness()

	require.NoError(t, o.SetCandidate("1", pdf("1")))
	assert.Equal(t, []string{"1", "3"}, o.Readiness().Ready)
	require.NoError(t, o.SetCandidate("1", nil))

	assert.Equal(t, before, o.Readiness())
}

func TestReadinessGatesSubmit(t *testing.T) {
	o := newOrchestrator(t, newFakeUploader(), "1", "2")

	r := o.Readiness()
	assert.False(t, r.CanSubmit())
	assert.Equal(t, []string{"1", "2"}, r.Required)

	require.NoError(t, o.SetCandidate("2", pdf("2")))
	r = o.Readiness()
	assert.True(t, r.CanSubmit(), "partial batches are allowed")
	assert.Equal(t, []string{"2"}, r.Ready)
}

func TestSubmitBatchPartialFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := newFakeUploader()
	api.uploadErr["2"] = &transport.NetworkError{Op: "POST /submissions", Err: errors.New("connection reset")}
	o := newOrchestrator(t, api, "1", "2", "3")
	for _, qid := range []string{"1", "2", "3"} {
		require.NoError(t, o.SetCandidate(qid, pdf(qid)))
	}

	res, err := o.SubmitBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, model.OutcomeUploaded, res.Outcomes[0].Status)
	assert.Equal(t, model.OutcomeFailed, res.Outcomes[1].Status)
	assert.Equal(t, model.FailureNetwork, res.Outcomes[1].FailureKind)
	assert.Equal(t, model.OutcomeUploaded, res.Outcomes[2].Status)
	assert.Equal(t, "2 of 3 answers submitted; 1 failed", res.Summary())

	for _, qid := range []string{"1", "3"} {
		rec, ok := o.Record(qid)
		require.True(t, ok, qid)
		assert.Equal(t, model.SubmissionUploaded, rec.Status)
		_, hasCandidate := o.Candidate(qid)
		assert.False(t, hasCandidate, "uploaded file is retired")
	}

	_, ok := o.Record("2")
	assert.False(t, ok, "failed upload has no record")
	c, ok := o.Candidate("2")
	require.True(t, ok, "failed upload keeps its file")
	assert.Equal(t, pdfBytes, c.Blob)
	assert.Equal(t, []string{"2"}, o.Readiness().Ready)
}

func TestRetryResendsOnlyFailedItems(t *testing.T) {
	api := newFakeUploader()
	api.uploadErr["2"] = &transport.APIError{StatusCode: http.StatusBadGateway, Detail: "bad gateway"}
	o := newOrchestrator(t, api, "1", "2")
	require.NoError(t, o.SetCandidate("1", pdf("1")))
	require.NoError(t, o.SetCandidate("2", pdf("2")))

	res, err := o.SubmitBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.FailureServer, res.Failed()[0].FailureKind)
	assert.Equal(t, "bad gateway", res.Failed()[0].Detail)

	api.mu.Lock()
	delete(api.uploadErr, "2")
	api.mu.Unlock()

	res, err = o.SubmitBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, "2", res.Outcomes[0].QuestionID)
	assert.Equal(t, model.OutcomeUploaded, res.Outcomes[0].Status)
	assert.Equal(t, 1, api.callCount("1"))
	assert.Equal(t, 2, api.callCount("2"))
	assert.Equal(t, "2 of 2 answers submitted", res.Summary())
}

func TestRetrySummaryCountsEarlierUploads(t *testing.T) {
	api := newFakeUploader()
	api.uploadErr["3"] = &transport.NetworkError{Op: "POST /submissions", Err: errors.New("connection reset")}
	o := newOrchestrator(t, api, "1", "2", "3")
	for _, qid := range []string{"1", "2", "3"} {
		require.NoError(t, o.SetCandidate(qid, pdf(qid)))
	}

	res, err := o.SubmitBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2 of 3 answers submitted; 1 failed", res.Summary())

	api.mu.Lock()
	delete(api.uploadErr, "3")
	api.mu.Unlock()

	res, err = o.SubmitBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Submitted(), 1)
	assert.Equal(t, 3, res.Uploaded)
	assert.Equal(t, "3 of 3 answers submitted", res.Summary())
}

func TestSubmitBatchNothingToSubmit(t *testing.T) {
	o := newOrchestrator(t, newFakeUploader(), "1")
	_, err := o.SubmitBatch(context.Background())
	assert.ErrorIs(t, err, ErrNothingToSubmit)
}

func TestSubmitBatchWhileRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := newFakeUploader()
	release := api.gate("1")
	o := newOrchestrator(t, api, "1", "2")
	require.NoError(t, o.SetCandidate("1", pdf("1")))

	done := make(chan model.BatchResult)
	go func() {
		res, err := o.SubmitBatch(context.Background())
		assert.NoError(t, err)
		done <- res
	}()
	waitStarted(t, api, "1")

	r := o.Readiness()
	assert.Equal(t, []string{"1"}, r.InFlight)
	assert.Empty(t, r.Ready, "in-flight file leaves the ready set")
	assert.False(t, r.CanSubmit())

	require.NoError(t, o.SetCandidate("2", pdf("2")))
	_, err := o.SubmitBatch(context.Background())
	assert.ErrorIs(t, err, ErrBatchInProgress)

	close(release)
	res := <-done
	assert.Len(t, res.Submitted(), 1)
	assert.Equal(t, 0, api.callCount("2"))
}

func TestCandidateSetDuringFlightQueuesForNextBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("upload fails, newer file wins", func(t *testing.T) {
		api := newFakeUploader()
		api.uploadErr["1"] = &transport.NetworkError{Op: "POST /submissions", Err: errors.New("timeout")}
		release := api.gate("1")
		o := newOrchestrator(t, api, "1")
		require.NoError(t, o.SetCandidate("1", pdf("1")))

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := o.SubmitBatch(context.Background())
			assert.NoError(t, err)
		}()
		waitStarted(t, api, "1")

		newer := NewCandidateFile("1", "second-try.pdf", pdfBytes)
		require.NoError(t, o.SetCandidate("1", newer))
		_, ready := o.Candidate("1")
		assert.False(t, ready, "queued file waits for the in-flight upload")

		close(release)
		<-done

		c, ok := o.Candidate("1")
		require.True(t, ok)
		assert.Equal(t, "second-try.pdf", c.FileName)
	})

	t.Run("upload fails after clear", func(t *testing.T) {
		api := newFakeUploader()
		api.uploadErr["1"] = &transport.NetworkError{Op: "POST /submissions", Err: errors.New("timeout")}
		release := api.gate("1")
		o := newOrchestrator(t, api, "1")
		require.NoError(t, o.SetCandidate("1", pdf("1")))

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = o.SubmitBatch(context.Background())
		}()
		waitStarted(t, api, "1")
		require.NoError(t, o.SetCandidate("1", nil))
		close(release)
		<-done

		_, ok := o.Candidate("1")
		assert.False(t, ok)
	})

	t.Run("upload succeeds, queued file is rejected next batch", func(t *testing.T) {
		api := newFakeUploader()
		release := api.gate("1")
		o := newOrchestrator(t, api, "1")
		require.NoError(t, o.SetCandidate("1", pdf("1")))

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = o.SubmitBatch(context.Background())
		}()
		waitStarted(t, api, "1")
		require.NoError(t, o.SetCandidate("1", pdf("1")))
		close(release)
		<-done

		rec, ok := o.Record("1")
		require.True(t, ok)

		res, err := o.SubmitBatch(context.Background())
		require.NoError(t, err)
		require.Len(t, res.Rejected(), 1)
		assert.Equal(t, rec.SubmissionID, res.Rejected()[0].SubmissionID)
		assert.Equal(t, 1, api.callCount("1"), "rejected without a network call")
		assert.Empty(t, o.Readiness().Ready)
	})
}

func TestSetCandidateAfterUploadIsRejected(t *testing.T) {
	api := newFakeUploader()
	o := newOrchestrator(t, api, "1")
	require.NoError(t, o.SetCandidate("1", pdf("1")))
	_, err := o.SubmitBatch(context.Background())
	require.NoError(t, err)

	err = o.SetCandidate("1", pdf("1"))
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.NoError(t, o.SetCandidate("1", nil), "clearing is always allowed")
}

func TestCancelledCallerDoesNotAbandonUploads(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := newFakeUploader()
	release := api.gate("1")
	o := newOrchestrator(t, api, "1")
	require.NoError(t, o.SetCandidate("1", pdf("1")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan model.BatchResult)
	go func() {
		res, _ := o.SubmitBatch(ctx)
		done <- res
	}()
	waitStarted(t, api, "1")
	cancel()
	close(release)

	res := <-done
	assert.Len(t, res.Submitted(), 1)
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []error{nil}, api.ctxErrs)
}

func TestSubmitBatchRespectsConcurrencyLimit(t *testing.T) {
	api := newFakeUploader()
	ids := []string{"1", "2", "3", "4", "5", "6"}
	o := NewOrchestrator("a", questionSet(ids...), api, Options{Concurrency: 2}, zerolog.Nop())
	for _, qid := range ids {
		require.NoError(t, o.SetCandidate(qid, pdf(qid)))
	}

	res, err := o.SubmitBatch(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Submitted(), 6)
	assert.LessOrEqual(t, api.maxActive, 2)
}

func submitOne(t *testing.T, o *Orchestrator, qid string) string {
	t.Helper()
	require.NoError(t, o.SetCandidate(qid, pdf(qid)))
	res, err := o.SubmitBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Submitted(), 1)
	return res.Submitted()[0].SubmissionID
}

func TestEvaluateTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("uploaded to evaluated", func(t *testing.T) {
		o := newOrchestrator(t, newFakeUploader(), "1")
		sid := submitOne(t, o, "1")

		rec, err := o.Evaluate(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, model.SubmissionEvaluated, rec.Status)
		require.NotNil(t, rec.ResultMarks)
		assert.Equal(t, 8.0, *rec.ResultMarks)
		assert.Equal(t, "Well argued", rec.Feedback)

		_, err = o.Evaluate(ctx, sid)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("failure keeps the upload and can be retried", func(t *testing.T) {
		api := newFakeUploader()
		o := newOrchestrator(t, api, "1")
		sid := submitOne(t, o, "1")

		api.evalErr = &transport.APIError{StatusCode: http.StatusServiceUnavailable, Detail: "grader busy"}
		rec, err := o.Evaluate(ctx, sid)
		require.Error(t, err)
		assert.Equal(t, model.SubmissionFailed, rec.Status)
		assert.Equal(t, "grader busy", rec.ErrorDetail)
		assert.Equal(t, sid, rec.SubmissionID, "upload stays durable")

		api.evalErr = nil
		rec, err = o.Evaluate(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, model.SubmissionEvaluated, rec.Status)
		assert.Empty(t, rec.ErrorDetail)
	})

	t.Run("server reports failed grading", func(t *testing.T) {
		api := newFakeUploader()
		api.evalResult = &model.EvaluationResult{Status: "failed", Feedback: "unreadable scan"}
		o := newOrchestrator(t, api, "1")
		sid := submitOne(t, o, "1")

		rec, err := o.Evaluate(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, model.SubmissionFailed, rec.Status)
		assert.Equal(t, "unreadable scan", rec.ErrorDetail)
	})

	t.Run("unknown submission", func(t *testing.T) {
		o := newOrchestrator(t, newFakeUploader(), "1")
		_, err := o.Evaluate(ctx, "404")
		assert.ErrorIs(t, err, ErrSubmissionNotFound)
	})
}

func TestEvaluateWhileEvaluatingIsRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := newFakeUploader()
	o := newOrchestrator(t, api, "1")
	sid := submitOne(t, o, "1")

	api.evalGate = make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := o.Evaluate(context.Background(), sid)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		rec, _ := o.Record("1")
		return rec.Status == model.SubmissionEvaluating
	}, 2*time.Second, 5*time.Millisecond)

	_, err := o.Evaluate(context.Background(), sid)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	close(api.evalGate)
	<-done
	rec, err := o.LookupSubmission(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionEvaluated, rec.Status)
}

func TestNewCandidateFileSniffsType(t *testing.T) {
	assert.Equal(t, model.MimePDF, pdf("1").MimeType)
	// The name says PDF but the content does not.
	disguised := NewCandidateFile("1", "answer.pdf", []byte("just some text"))
	assert.NotEqual(t, model.MimePDF, disguised.MimeType)
}
