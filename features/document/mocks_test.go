package document_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"seen/features/document"
	"seen/internal/fetch"
	"seen/internal/index"
	"seen/internal/text"
)

type MockRepo struct{ mock.Mock }

func (m *MockRepo) Create(ctx context.Context, d *document.Document) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockRepo) MarkIndexed(ctx context.Context, id string, chunkCount int) (time.Time, error) {
	args := m.Called(ctx, id, chunkCount)
	at, _ := args.Get(0).(time.Time)
	return at, args.Error(1)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.Document), args.Error(1)
}

func (m *MockRepo) GetByURL(ctx context.Context, url string) (*document.Document, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.Document), args.Error(1)
}

func (m *MockRepo) List(ctx context.Context, limit int) ([]document.Document, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]document.Document), args.Error(1)
}

func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockRepo) CountEmbeddings(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockFetcher struct{ mock.Mock }

func (m *MockFetcher) Fetch(ctx context.Context, url string) (*fetch.Response, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fetch.Response), args.Error(1)
}

type MockProcessor struct{ mock.Mock }

func (m *MockProcessor) Process(ctx context.Context, content []byte, contentType string) (*text.Processed, error) {
	args := m.Called(ctx, content, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*text.Processed), args.Error(1)
}

type MockBlobs struct{ mock.Mock }

func (m *MockBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBlobs) Put(ctx context.Context, key string, data []byte) error {
	return m.Called(ctx, key, data).Error(0)
}

func (m *MockBlobs) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockIndexer struct{ mock.Mock }

func (m *MockIndexer) IndexDocument(ctx context.Context, documentID string, chunks []string, backends ...index.Backend) (int, error) {
	args := m.Called(ctx, documentID, chunks)
	return args.Int(0), args.Error(1)
}

func (m *MockIndexer) RemoveDocument(ctx context.Context, documentID string, chunkCount int, backends ...index.Backend) error {
	return m.Called(ctx, documentID, chunkCount).Error(0)
}

func (m *MockIndexer) LocalLen(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}

type mocks struct {
	repo      *MockRepo
	fetcher   *MockFetcher
	processor *MockProcessor
	blobs     *MockBlobs
	indexer   *MockIndexer
	pub       *MockPublisher
}

func newService() (*document.Service, *mocks) {
	m := &mocks{
		repo:      new(MockRepo),
		fetcher:   new(MockFetcher),
		processor: new(MockProcessor),
		blobs:     new(MockBlobs),
		indexer:   new(MockIndexer),
		pub:       new(MockPublisher),
	}
	return document.NewService(m.repo, m.fetcher, m.processor, m.blobs, m.indexer, m.pub), m
}
