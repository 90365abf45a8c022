package testutils

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/stemsi/exstem-client/internal/model"
)

type MockRecheckBackend struct {
	mock.Mock
}

func (m *MockRecheckBackend) RequestRecheck(ctx context.Context, submissionID, issueDetail string) (model.RecheckState, error) {
	args := m.Called(ctx, submissionID, issueDetail)
	return args.Get(0).(model.RecheckState), args.Error(1)
}

func (m *MockRecheckBackend) RecheckStatus(ctx context.Context, submissionID string) (model.RecheckState, error) {
	args := m.Called(ctx, submissionID)
	return args.Get(0).(model.RecheckState), args.Error(1)
}

type MockRecordLookup struct {
	mock.Mock
}

func (m *MockRecordLookup) LookupSubmission(ctx context.Context, submissionID string) (model.SubmissionRecord, error) {
	args := m.Called(ctx, submissionID)
	return args.Get(0).(model.SubmissionRecord), args.Error(1)
}
