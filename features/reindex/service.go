// Package reindex drives the local index rebuild, either as one bounded
// invocation per request or as a chain of NSQ messages that continues
// until the local index has converged.
package reindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"seen/internal/config"
	"seen/internal/index"
	"seen/internal/middleware"
)

// DefaultMaxRounds bounds a queued rebuild chain.
const DefaultMaxRounds = 200

type Rebuilder interface {
	Rebuild(ctx context.Context) (index.Progress, error)
	ResetLocal(ctx context.Context) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Payload is the body of an index.rebuild message.
type Payload struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	Reset         bool   `json:"reset,omitempty"`
	Round         int    `json:"round"`
	// Migrated is the progress seen by the previous round.
	Migrated int `json:"migrated"`
}

type Service struct {
	rebuilder Rebuilder
	pub       EventPublisher
	maxRounds int
}

func NewService(r Rebuilder, pub EventPublisher) *Service {
	return &Service{rebuilder: r, pub: pub, maxRounds: DefaultMaxRounds}
}

// Run performs one bounded rebuild invocation, optionally resetting the
// local index first.
func (s *Service) Run(ctx context.Context, reset bool) (index.Progress, error) {
	if reset {
		if err := s.rebuilder.ResetLocal(ctx); err != nil {
			return index.Progress{}, fmt.Errorf("reset local index: %w", err)
		}
		slog.InfoContext(ctx, "local index reset")
	}
	return s.rebuilder.Rebuild(ctx)
}

// Schedule queues the first round of a rebuild chain.
func (s *Service) Schedule(ctx context.Context, reset bool) error {
	return s.publish(ctx, Payload{CorrelationID: middleware.GetCorrelationID(ctx), Reset: reset, Round: 1})
}

// Continue runs the round described by p and queues the next one while the
// index is not converged and the previous round made progress.
func (s *Service) Continue(ctx context.Context, p Payload) (index.Progress, error) {
	progress, err := s.Run(ctx, p.Reset && p.Round == 1)
	if err != nil {
		return progress, err
	}

	switch {
	case progress.Converged():
		slog.InfoContext(ctx, "rebuild chain converged", "rounds", p.Round, "total", progress.Total)
		return progress, nil
	case progress.Settled():
		slog.WarnContext(ctx, "rebuild chain settled with unavailable vectors", "rounds", p.Round, "missing", progress.Missing, "total", progress.Total)
		return progress, nil
	case p.Round > 1 && progress.Migrated <= p.Migrated:
		slog.WarnContext(ctx, "rebuild chain stalled", "round", p.Round, "migrated", progress.Migrated, "total", progress.Total)
		return progress, nil
	case p.Round >= s.maxRounds:
		slog.WarnContext(ctx, "rebuild chain hit round limit", "round", p.Round, "migrated", progress.Migrated, "total", progress.Total)
		return progress, nil
	}

	next := Payload{CorrelationID: p.CorrelationID, Round: p.Round + 1, Migrated: progress.Migrated}
	return progress, s.publish(ctx, next)
}

func (s *Service) publish(ctx context.Context, p Payload) error {
	if s.pub == nil {
		return fmt.Errorf("rebuild queue not configured")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.pub.Publish(config.TopicIndexRebuild, body); err != nil {
		return fmt.Errorf("publish rebuild round %d: %w", p.Round, err)
	}
	slog.DebugContext(ctx, "rebuild round queued", "round", p.Round)
	return nil
}
