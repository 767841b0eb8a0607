package embedding_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seen/internal/apperr"
	"seen/internal/embedding"
)

// scripted returns the queued results in order and counts calls.
type scripted struct {
	results []error
	calls   int
	inputs  []string
}

func (s *scripted) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls++
	s.inputs = append(s.inputs, text)
	if len(s.results) > 0 {
		err := s.results[0]
		s.results = s.results[1:]
		if err != nil {
			return nil, err
		}
	}
	return []float32{0.1, 0.2}, nil
}

func TestWithRetry_FirstTrySucceeds(t *testing.T) {
	inner := &scripted{}
	vec, err := embedding.WithRetry(inner).Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
	assert.Equal(t, 1, inner.calls)
}

func TestWithRetry_RecoversOnSecondAttempt(t *testing.T) {
	inner := &scripted{results: []error{errors.New("503")}}
	vec, err := embedding.WithRetry(inner).Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Len(t, vec, 2)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, []string{"hello", "hello"}, inner.inputs)
}

func TestWithRetry_TwoFailuresAreTransient(t *testing.T) {
	inner := &scripted{results: []error{
		apperr.Request("workers-ai", 500, "x"),
		apperr.Request("workers-ai", 500, "y"),
		nil,
	}}
	_, err := embedding.WithRetry(inner).Embed(context.Background(), "hello")

	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
	assert.Equal(t, 2, inner.calls, "exactly one retry")
}

func TestWithRetry_CancelledContextNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inner := &scripted{results: []error{context.Canceled}}

	_, err := embedding.WithRetry(inner).Embed(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls)
}

func TestWithRateLimit(t *testing.T) {
	inner := &scripted{}
	e := embedding.WithRateLimit(inner, 1000, 1)
	for i := 0; i < 3; i++ {
		_, err := e.Embed(context.Background(), "x")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, inner.calls)

	assert.Same(t, inner, embedding.WithRateLimit(inner, 0, 0).(*scripted))
}

func TestWithRateLimit_HonoursDeadline(t *testing.T) {
	e := embedding.WithRateLimit(&scripted{}, 0.001, 1)
	_, err := e.Embed(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = e.Embed(ctx, "second")
	assert.Error(t, err)
}
