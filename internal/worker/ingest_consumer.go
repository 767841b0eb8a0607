package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"seen/features/document"
	"seen/internal/apperr"
	"seen/internal/config"
	"seen/internal/middleware"
)

const ingestTimeout = 5 * time.Minute

type IngestConsumer struct {
	ingester    Ingester
	failures    FailureRecorder
	maxAttempts uint16
}

func NewIngestConsumer(i Ingester, f FailureRecorder, maxAttempts int) *IngestConsumer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &IngestConsumer{ingester: i, failures: f, maxAttempts: uint16(maxAttempts)}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload document.IngestPayload
	err := json.Unmarshal(m.Body, &payload)

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "poison pill: invalid json", "error", err)
		return nil
	}
	if payload.URL == "" {
		slog.ErrorContext(ctx, "ingest message without url, dropping")
		return nil
	}

	ingestCtx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	report, err := h.ingester.Ingest(ingestCtx, payload.URL)
	if err == nil {
		slog.InfoContext(ctx, "queued ingest finished", "url", payload.URL, "document_id", report.Document.ID, "created", report.Created)
		return nil
	}

	var pw *apperr.PartialWriteError
	retryable := !errors.As(err, &pw) && !apperr.IsInvalidInput(err) && !apperr.IsNotFound(err)
	if retryable && m.Attempts < h.maxAttempts {
		slog.WarnContext(ctx, "queued ingest failed, requeueing", "url", payload.URL, "attempt", m.Attempts, "error", err)
		return err
	}

	// Only a saved row can be referenced by the failed job.
	documentID := report.StoredDocumentID()
	slog.ErrorContext(ctx, "queued ingest failed", "url", payload.URL, "attempt", m.Attempts, "error", err)
	if recErr := h.failures.Record(ctx, config.TopicIngestLink, documentID, m.Body, err, int(m.Attempts)); recErr != nil {
		// Keep the message in the queue rather than lose it.
		return recErr
	}
	return nil
}
