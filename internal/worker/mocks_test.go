package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"seen/features/document"
	"seen/features/reindex"
	"seen/internal/index"
)

type MockIngester struct{ mock.Mock }

func (m *MockIngester) Ingest(ctx context.Context, url string) (*document.IngestReport, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.IngestReport), args.Error(1)
}

type MockRebuildRunner struct{ mock.Mock }

func (m *MockRebuildRunner) Continue(ctx context.Context, p reindex.Payload) (index.Progress, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(index.Progress), args.Error(1)
}

type MockFailureRecorder struct{ mock.Mock }

func (m *MockFailureRecorder) Record(ctx context.Context, topic, documentID string, payload []byte, cause error, retries int) error {
	args := m.Called(ctx, topic, documentID, payload, cause, retries)
	return args.Error(0)
}
