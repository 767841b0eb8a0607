// Package document ingests links into the archive and removes them again.
// Ingestion stores the raw content, the document row and the chunk
// embeddings; deletion undoes the same steps. Neither is atomic: each run
// reports which steps completed.
package document

import (
	"context"
	"time"

	"seen/internal/fetch"
	"seen/internal/index"
	"seen/internal/text"
)

type Document struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	ContentType string    `json:"content_type"`
	BucketPath  string    `json:"bucket_path"`
	Size        int64     `json:"size"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
	// IndexedAt is set once every chunk is in the embeddings table and the
	// active indexes. A nil value marks an ingest that stopped part way.
	IndexedAt *time.Time `json:"indexed_at,omitempty"`
}

// SizeLabel renders Size for display.
func (d *Document) SizeLabel() string { return fetch.FormatSize(d.Size) }

const (
	StepPutContentBlob    = "put_content_blob"
	StepSaveDocumentRow   = "save_document_row"
	StepIndexChunks       = "index_chunks"
	StepMarkIndexed       = "mark_indexed"
	StepRemoveVectors     = "remove_vectors"
	StepDeleteDocumentRow = "delete_document_row"
	StepDeleteContentBlob = "delete_content_blob"
)

type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

type StepResult struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

type IngestReport struct {
	Document *Document `json:"document"`
	Created  bool      `json:"created"`
	// Resumed is set when an earlier ingest of the same URL left the
	// document unindexed and this run finished it.
	Resumed bool         `json:"resumed,omitempty"`
	Steps   []StepResult `json:"steps,omitempty"`
}

// StoredDocumentID returns the document id when its row exists, and ""
// when the run failed before the row was saved.
func (r *IngestReport) StoredDocumentID() string {
	if r == nil || r.Document == nil {
		return ""
	}
	if !r.Created {
		return r.Document.ID
	}
	for _, st := range r.Steps {
		if st.Name == StepSaveDocumentRow && st.Status == StepOK {
			return r.Document.ID
		}
	}
	return ""
}

type Stats struct {
	TotalDocuments  int        `json:"total_documents"`
	TotalEmbeddings int        `json:"total_embeddings"`
	LocalIndexSize  int        `json:"local_index_size"`
	Latest          []Document `json:"latest"`
}

type Repository interface {
	Create(ctx context.Context, d *Document) error
	// MarkIndexed records a finished index run and the chunk count it wrote.
	MarkIndexed(ctx context.Context, id string, chunkCount int) (time.Time, error)
	Get(ctx context.Context, id string) (*Document, error)
	GetByURL(ctx context.Context, url string) (*Document, error)
	List(ctx context.Context, limit int) ([]Document, error)
	Count(ctx context.Context) (int, error)
	CountEmbeddings(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Response, error)
}

// Processor turns raw content into title, summary and chunks.
type Processor interface {
	Process(ctx context.Context, content []byte, contentType string) (*text.Processed, error)
}

type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Indexer is the slice of index.Coordinator the service drives.
type Indexer interface {
	IndexDocument(ctx context.Context, documentID string, chunks []string, backends ...index.Backend) (int, error)
	RemoveDocument(ctx context.Context, documentID string, chunkCount int, backends ...index.Backend) error
	LocalLen(ctx context.Context) (int, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// IngestPayload is the NSQ message body on the ingest topic.
type IngestPayload struct {
	URL           string `json:"url"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
