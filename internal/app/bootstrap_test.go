package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"seen/internal/app"
	"seen/internal/config"
)

type mockSchema struct {
	callCount int
	failUntil int
	err       error
}

func (m *mockSchema) EnsureSchema(ctx context.Context) error {
	m.callCount++
	if m.err != nil {
		return m.err
	}
	if m.callCount <= m.failUntil {
		return errors.New("schema error")
	}
	return nil
}

func TestEnsureSchemaWithRetry_Success(t *testing.T) {
	m := &mockSchema{}
	err := app.EnsureSchemaWithRetry(context.Background(), m, 1, time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 1, m.callCount)
}

func TestEnsureSchemaWithRetry_Retries(t *testing.T) {
	m := &mockSchema{failUntil: 2}
	err := app.EnsureSchemaWithRetry(context.Background(), m, 5, time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 3, m.callCount)
}

func TestEnsureSchemaWithRetry_Fail(t *testing.T) {
	m := &mockSchema{err: errors.New("permanent error")}
	err := app.EnsureSchemaWithRetry(context.Background(), m, 3, time.Millisecond)
	assert.EqualError(t, err, "permanent error")
	assert.Equal(t, 3, m.callCount)
}

func TestEnsureSchemaWithRetry_ZeroAttemptsTriesOnce(t *testing.T) {
	m := &mockSchema{}
	assert.NoError(t, app.EnsureSchemaWithRetry(context.Background(), m, 0, time.Millisecond))
	assert.Equal(t, 1, m.callCount)
}

func TestBootstrap_ConfigurationError(t *testing.T) {
	cfg := &config.Config{
		DBHost: "invalid-host",
	}
	deps, err := app.Bootstrap(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, deps)
}
