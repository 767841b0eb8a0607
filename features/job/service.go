package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"seen/internal/apperr"
	"seen/internal/config"
)

const publishTimeout = 5 * time.Second

var ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo    Repository
	pub     EventPublisher
	timeout time.Duration
}

func NewService(repo Repository, pub EventPublisher) *Service {
	return &Service{repo: repo, pub: pub, timeout: publishTimeout}
}

// WithPublishTimeout bounds how long Retry waits on the publisher.
func (s *Service) WithPublishTimeout(d time.Duration) *Service {
	s.timeout = d
	return s
}

func (s *Service) List(ctx context.Context, f Filter) ([]Job, error) {
	if f.Handler != "" && !knownTopic(f.Handler) {
		return nil, apperr.InvalidInput(fmt.Sprintf("unknown handler %q", f.Handler))
	}
	if f.Limit < 0 {
		return nil, apperr.InvalidInput("limit must not be negative")
	}
	return s.repo.List(ctx, f)
}

func knownTopic(topic string) bool {
	for _, t := range config.Topics() {
		if t == topic {
			return true
		}
	}
	return false
}

// Record parks a failed unit of work. A failure to record is logged and
// returned so the caller can decide whether to requeue instead.
func (s *Service) Record(ctx context.Context, topic, documentID string, payload []byte, cause error, retries int) error {
	j := &Job{DocumentID: documentID, Handler: topic, Payload: payload, Error: cause.Error(), Retries: retries}
	if err := s.repo.Save(ctx, j); err != nil {
		slog.ErrorContext(ctx, "failed to record failed job", "handler", topic, "error", err)
		return err
	}
	slog.WarnContext(ctx, "job parked", "id", j.ID, "handler", topic, "error", cause)
	return nil
}

// Retry republishes the job's payload to its topic and removes the record.
// The record survives any publish failure so the retry can be repeated.
func (s *Service) Retry(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !knownTopic(job.Handler) {
		return nil, apperr.InvalidInput(fmt.Sprintf("job %s has unknown handler %q", id, job.Handler))
	}

	done := make(chan error, 1)
	go func() { done <- s.pub.Publish(job.Handler, job.Payload) }()
	select {
	case err := <-done:
		if err != nil {
			return nil, apperr.Transient(err, "requeue job", apperr.Field("id", id))
		}
	case <-time.After(s.timeout):
		return nil, ErrPublishTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("delete requeued job: %w", err)
	}
	slog.InfoContext(ctx, "job requeued", "id", id, "handler", job.Handler)
	return job, nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
