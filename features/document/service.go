package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"seen/internal/apperr"
	"seen/internal/config"
	"seen/internal/fetch"
	"seen/internal/middleware"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
	latestInStats    = 10
)

type Service struct {
	repo      Repository
	fetcher   Fetcher
	processor Processor
	blobs     BlobStore
	indexer   Indexer
	pub       EventPublisher
}

func NewService(repo Repository, f Fetcher, p Processor, blobs BlobStore, idx Indexer, pub EventPublisher) *Service {
	return &Service{repo: repo, fetcher: f, processor: p, blobs: blobs, indexer: idx, pub: pub}
}

// BucketPath is where a document's raw content lives in blob storage.
func BucketPath(id, contentType string) string {
	return fmt.Sprintf("content/%s.%s", id, fetch.ExtensionFor(contentType))
}

// Ingest fetches url and writes it to every store. A URL that is already
// archived is returned unchanged, unless its earlier ingest stopped before
// indexing finished, in which case indexing resumes from the stored content.
func (s *Service) Ingest(ctx context.Context, rawURL string) (*IngestReport, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := fetch.Validate(rawURL); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByURL(ctx, rawURL)
	if err == nil {
		if existing.IndexedAt == nil {
			return s.resume(ctx, existing)
		}
		slog.InfoContext(ctx, "document already archived", "document_id", existing.ID, "url", rawURL)
		return &IngestReport{Document: existing, Created: false}, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, fmt.Errorf("lookup by url: %w", err)
	}

	resp, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	processed, err := s.processor.Process(ctx, resp.Body, resp.ContentType)
	if err != nil {
		return nil, fmt.Errorf("process content: %w", err)
	}

	id := uuid.NewString()
	doc := &Document{
		ID:          id,
		URL:         rawURL,
		Title:       processed.Title,
		Summary:     processed.Summary,
		ContentType: resp.ContentType,
		BucketPath:  BucketPath(id, resp.ContentType),
		Size:        int64(len(resp.Body)),
		ChunkCount:  len(processed.Chunks),
		CreatedAt:   time.Now().UTC(),
	}

	run := newStepRunner(ctx, "ingest", doc.ID)
	run.step(StepPutContentBlob, func() error {
		return s.blobs.Put(ctx, doc.BucketPath, resp.Body)
	})
	run.step(StepSaveDocumentRow, func() error {
		return s.repo.Create(ctx, doc)
	})
	s.indexSteps(run, doc, processed.Chunks)

	report := &IngestReport{Document: doc, Created: true, Steps: run.results}
	if err := run.err(); err != nil {
		return report, err
	}
	slog.InfoContext(ctx, "document ingested", "document_id", doc.ID, "url", rawURL, "chunks", doc.ChunkCount, "size", doc.SizeLabel())
	return report, nil
}

// resume re-chunks the stored content of a document whose ingest stopped
// after its row was saved and runs the index steps again. Embedding rows
// are upserted by vector id, so a repeated run overwrites rather than
// duplicates.
func (s *Service) resume(ctx context.Context, doc *Document) (*IngestReport, error) {
	slog.InfoContext(ctx, "resuming unindexed document", "document_id", doc.ID, "url", doc.URL)

	content, err := s.blobs.Get(ctx, doc.BucketPath)
	if err != nil {
		return nil, fmt.Errorf("read content blob: %w", err)
	}
	processed, err := s.processor.Process(ctx, content, doc.ContentType)
	if err != nil {
		return nil, fmt.Errorf("process content: %w", err)
	}

	run := newStepRunner(ctx, "resume", doc.ID)
	s.indexSteps(run, doc, processed.Chunks)

	report := &IngestReport{Document: doc, Created: false, Resumed: true, Steps: run.results}
	if err := run.err(); err != nil {
		return report, err
	}
	slog.InfoContext(ctx, "document ingest resumed", "document_id", doc.ID, "chunks", doc.ChunkCount)
	return report, nil
}

func (s *Service) indexSteps(run *stepRunner, doc *Document, chunks []string) {
	run.step(StepIndexChunks, func() error {
		_, err := s.indexer.IndexDocument(run.ctx, doc.ID, chunks)
		return err
	})
	run.step(StepMarkIndexed, func() error {
		at, err := s.repo.MarkIndexed(run.ctx, doc.ID, len(chunks))
		if err != nil {
			return err
		}
		doc.ChunkCount = len(chunks)
		doc.IndexedAt = &at
		return nil
	})
}

// Enqueue hands ingestion of url to the worker.
func (s *Service) Enqueue(ctx context.Context, rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if err := fetch.Validate(rawURL); err != nil {
		return err
	}
	if s.pub == nil {
		return errors.New("async ingestion not configured")
	}
	body, err := json.Marshal(IngestPayload{URL: rawURL, CorrelationID: middleware.GetCorrelationID(ctx)})
	if err != nil {
		return err
	}
	if err := s.pub.Publish(config.TopicIngestLink, body); err != nil {
		return fmt.Errorf("publish ingest: %w", err)
	}
	slog.InfoContext(ctx, "ingest queued", "url", rawURL)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByURL(ctx context.Context, rawURL string) (*Document, error) {
	return s.repo.GetByURL(ctx, strings.TrimSpace(rawURL))
}

// List returns the most recent documents first.
func (s *Service) List(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.repo.List(ctx, min(limit, MaxListLimit))
}

// Content returns the stored raw bytes of a document.
func (s *Service) Content(ctx context.Context, id string) (*Document, []byte, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.blobs.Get(ctx, doc.BucketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read content blob: %w", err)
	}
	return doc, data, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	embeddings, err := s.repo.CountEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := s.repo.List(ctx, latestInStats)
	if err != nil {
		return nil, err
	}
	local, err := s.indexer.LocalLen(ctx)
	if err != nil {
		// The snapshot is advisory here.
		slog.WarnContext(ctx, "local index size unavailable", "error", err)
	}
	return &Stats{TotalDocuments: total, TotalEmbeddings: embeddings, LocalIndexSize: local, Latest: latest}, nil
}

// Delete removes a document from the indexes, the table and the blob
// store, in that order. A missing document is an error.
func (s *Service) Delete(ctx context.Context, id string) ([]StepResult, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.remove(ctx, doc)
}

func (s *Service) DeleteByURL(ctx context.Context, rawURL string) ([]StepResult, error) {
	doc, err := s.repo.GetByURL(ctx, strings.TrimSpace(rawURL))
	if err != nil {
		return nil, err
	}
	return s.remove(ctx, doc)
}

func (s *Service) remove(ctx context.Context, doc *Document) ([]StepResult, error) {
	run := newStepRunner(ctx, "delete", doc.ID)
	run.step(StepRemoveVectors, func() error {
		return s.indexer.RemoveDocument(ctx, doc.ID, doc.ChunkCount)
	})
	run.step(StepDeleteDocumentRow, func() error {
		return s.repo.Delete(ctx, doc.ID)
	})
	run.step(StepDeleteContentBlob, func() error {
		return s.blobs.Delete(ctx, doc.BucketPath)
	})
	if err := run.err(); err != nil {
		return run.results, err
	}
	slog.InfoContext(ctx, "document deleted", "document_id", doc.ID, "url", doc.URL)
	return run.results, nil
}

// stepRunner executes steps in order and skips everything after the
// first failure.
type stepRunner struct {
	ctx     context.Context
	op      string
	docID   string
	results []StepResult
	done    []string
	failed  *apperr.PartialWriteError
}

func newStepRunner(ctx context.Context, op, docID string) *stepRunner {
	return &stepRunner{ctx: ctx, op: op, docID: docID}
}

func (r *stepRunner) step(name string, fn func() error) {
	if r.failed != nil {
		r.results = append(r.results, StepResult{Name: name, Status: StepSkipped})
		return
	}
	if err := fn(); err != nil {
		slog.ErrorContext(r.ctx, r.op+" step failed", "step", name, "document_id", r.docID, "completed", r.done, "error", err)
		r.results = append(r.results, StepResult{Name: name, Status: StepFailed, Error: err.Error()})
		r.failed = &apperr.PartialWriteError{Step: name, Completed: append([]string(nil), r.done...), Err: err}
		return
	}
	r.results = append(r.results, StepResult{Name: name, Status: StepOK})
	r.done = append(r.done, name)
}

func (r *stepRunner) err() error {
	if r.failed == nil {
		return nil
	}
	return r.failed
}
