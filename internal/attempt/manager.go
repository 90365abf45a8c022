package attempt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/model"
)

// QuestionSource loads the question set an attempt is taken against.
type QuestionSource interface {
	GetQuestionSet(ctx context.Context, id string) (model.QuestionSet, error)
}

// RecordLookup finds a submission record by submission ID.
type RecordLookup interface {
	LookupSubmission(ctx context.Context, submissionID string) (model.SubmissionRecord, error)
}

// Manager keeps the orchestrators of the attempts opened in this process.
type Manager struct {
	questions QuestionSource
	api       Uploader
	remote    RecordLookup
	opts      Options
	log       zerolog.Logger

	mu       sync.RWMutex
	attempts map[string]*Orchestrator
}

// NewManager creates a Manager. remote may be nil; when set it answers
// lookups for submissions made outside this process.
func NewManager(questions QuestionSource, api Uploader, remote RecordLookup, opts Options, log zerolog.Logger) *Manager {
	return &Manager{
		questions: questions,
		api:       api,
		remote:    remote,
		opts:      opts,
		log:       log.With().Str("component", "attempt_manager").Logger(),
		attempts:  make(map[string]*Orchestrator),
	}
}

// Start fetches the question set and opens a new attempt against it.
func (m *Manager) Start(ctx context.Context, questionSetID string) (*Orchestrator, error) {
	set, err := m.questions.GetQuestionSet(ctx, questionSetID)
	if err != nil {
		return nil, fmt.Errorf("load question set %s: %w", questionSetID, err)
	}
	if len(set.Questions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyQuestionSet, questionSetID)
	}

	o := NewOrchestrator(uuid.NewString(), set, m.api, m.opts, m.log)

	m.mu.Lock()
	m.attempts[o.ID()] = o
	m.mu.Unlock()

	m.log.Info().
		Str("attempt_id", o.ID()).
		Str("question_set_id", questionSetID).
		Int("questions", len(set.Questions)).
		Msg("Attempt started")
	return o, nil
}

// Get returns the orchestrator of an open attempt.
func (m *Manager) Get(attemptID string) (*Orchestrator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.attempts[attemptID]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return o, nil
}

// List returns the open attempts ordered by ID.
func (m *Manager) List() []*Orchestrator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Orchestrator, 0, len(m.attempts))
	for _, o := range m.attempts {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Reset forgets every open attempt, e.g. when the session ends. Uploads
// already in flight still complete against their orchestrator.
func (m *Manager) Reset() {
	m.mu.Lock()
	n := len(m.attempts)
	m.attempts = make(map[string]*Orchestrator)
	m.mu.Unlock()
	if n > 0 {
		m.log.Info().Int("attempts", n).Msg("Attempts discarded")
	}
}

// LookupSubmission searches the open attempts first and then the backend.
func (m *Manager) LookupSubmission(ctx context.Context, submissionID string) (model.SubmissionRecord, error) {
	m.mu.RLock()
	attempts := make([]*Orchestrator, 0, len(m.attempts))
	for _, o := range m.attempts {
		attempts = append(attempts, o)
	}
	m.mu.RUnlock()

	for _, o := range attempts {
		rec, err := o.LookupSubmission(ctx, submissionID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrSubmissionNotFound) {
			return model.SubmissionRecord{}, err
		}
	}

	if m.remote == nil {
		return model.SubmissionRecord{}, ErrSubmissionNotFound
	}
	return m.remote.LookupSubmission(ctx, submissionID)
}

// Evaluate grades a submission made in one of the open attempts.
func (m *Manager) Evaluate(ctx context.Context, submissionID string) (model.SubmissionRecord, error) {
	o, err := m.owner(ctx, submissionID)
	if err != nil {
		return model.SubmissionRecord{}, err
	}
	return o.Evaluate(ctx, submissionID)
}

func (m *Manager) owner(ctx context.Context, submissionID string) (*Orchestrator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.attempts {
		if _, err := o.LookupSubmission(ctx, submissionID); err == nil {
			return o, nil
		}
	}
	return nil, ErrSubmissionNotFound
}
