// Package embedding turns text into fixed-dimension vectors. Providers live
// under internal/adapter; this package holds the shared contract and the
// retry and rate-limit decorators every provider is wrapped in.
package embedding

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"seen/internal/apperr"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Func adapts a plain function to Embedder.
type Func func(ctx context.Context, text string) ([]float32, error)

func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

type retrying struct {
	next Embedder
}

// WithRetry retries a failed call exactly once with the same input. A
// second failure is reported as a transient error.
func WithRetry(e Embedder) Embedder {
	return &retrying{next: e}
}

func (r *retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := r.next.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	slog.WarnContext(ctx, "embedding failed, retrying once", "error", err, "length", len(text))

	vec, err = r.next.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, apperr.Transient(err, "embedding failed after retry", apperr.Field("length", len(text)))
}

type limited struct {
	next    Embedder
	limiter *rate.Limiter
}

// WithRateLimit blocks each call until the token bucket allows it.
// A non-positive rps disables limiting.
func WithRateLimit(e Embedder, rps float64, burst int) Embedder {
	if rps <= 0 {
		return e
	}
	if burst < 1 {
		burst = 1
	}
	return &limited{next: e, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *limited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Embed(ctx, text)
}
