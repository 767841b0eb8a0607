// Package blob stores opaque byte objects by key: fetched document content
// and the serialized local vector index.
package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"seen/internal/config"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("blob: not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// Delete is idempotent: removing a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// New builds the Store selected by BLOB_BACKEND. The returned close func
// releases backend resources and is never nil.
func New(cfg *config.Config, logger *slog.Logger) (Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.BlobBackend {
	case "s3":
		client := NewS3Client(S3Options{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		return NewS3(client, cfg.S3Bucket, cfg.S3Prefix), noop, nil
	case "badger":
		b, err := NewBadger(BadgerOptions{Dir: cfg.BlobDir, Logger: logger})
		if err != nil {
			return nil, noop, fmt.Errorf("open badger blob store: %w", err)
		}
		return b, b.Close, nil
	case "local", "":
		l, err := NewLocal(cfg.BlobDir)
		if err != nil {
			return nil, noop, fmt.Errorf("open local blob store: %w", err)
		}
		return l, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}
