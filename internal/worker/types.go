// Package worker holds the NSQ consumers: queued link ingestion and the
// chained local index rebuild.
package worker

import (
	"context"

	"seen/features/document"
	"seen/features/reindex"
	"seen/internal/index"
)

// DefaultMaxAttempts is how many deliveries a transient failure gets
// before the message is parked as a failed job.
const DefaultMaxAttempts = 3

type Ingester interface {
	Ingest(ctx context.Context, url string) (*document.IngestReport, error)
}

type RebuildRunner interface {
	Continue(ctx context.Context, p reindex.Payload) (index.Progress, error)
}

// FailureRecorder parks work that will not be retried automatically.
type FailureRecorder interface {
	Record(ctx context.Context, topic, documentID string, payload []byte, cause error, retries int) error
}
