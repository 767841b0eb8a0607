package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"seen/features/reindex"
	"seen/internal/config"
	"seen/internal/middleware"
)

type RebuildConsumer struct {
	runner      RebuildRunner
	failures    FailureRecorder
	maxAttempts uint16
}

func NewRebuildConsumer(r RebuildRunner, f FailureRecorder, maxAttempts int) *RebuildConsumer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &RebuildConsumer{runner: r, failures: f, maxAttempts: uint16(maxAttempts)}
}

func (h *RebuildConsumer) HandleMessage(m *nsq.Message) error {
	var payload reindex.Payload
	if len(m.Body) > 0 {
		if err := json.Unmarshal(m.Body, &payload); err != nil {
			slog.Error("poison pill: invalid json", "error", err)
			return nil
		}
	}
	if payload.Round < 1 {
		payload.Round = 1
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	progress, err := h.runner.Continue(ctx, payload)
	if err == nil {
		slog.InfoContext(ctx, "rebuild round finished", "round", payload.Round, "migrated", progress.Migrated, "total", progress.Total)
		return nil
	}

	if m.Attempts < h.maxAttempts {
		slog.WarnContext(ctx, "rebuild round failed, requeueing", "round", payload.Round, "attempt", m.Attempts, "error", err)
		return err
	}
	slog.ErrorContext(ctx, "rebuild round failed", "round", payload.Round, "attempt", m.Attempts, "error", err)
	if recErr := h.failures.Record(ctx, config.TopicIndexRebuild, "", m.Body, err, int(m.Attempts)); recErr != nil {
		return recErr
	}
	return nil
}
