package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seen/internal/app"
	"seen/internal/config"
	"seen/internal/testutils"
)

// closedPort is assumed to have no listener on the test host.
const closedPort = 54322

func TestBootstrap_Resilience_DBDown(t *testing.T) {
	cfg := &config.Config{
		DBHost:                     "localhost",
		DBPort:                     closedPort,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "test",
		BootstrapRetryAttempts:     1,
		BootstrapRetryDelaySeconds: 0,
	}

	start := time.Now()
	deps, err := app.Bootstrap(context.Background(), cfg)

	require.Error(t, err)
	assert.Nil(t, deps)
	assert.ErrorContains(t, err, "failed to ping db")
	assert.Less(t, time.Since(start), 2*time.Second, "a single attempt must not wait for a retry delay")
}

// TestBootstrap_Resilience_Dependencies starts a healthy stack and breaks
// one dependency per case.
func TestBootstrap_Resilience_Dependencies(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	tests := []struct {
		name        string
		breakIt     func(*config.Config)
		wantErr     string
		minDuration time.Duration
	}{
		{
			name: "weaviate unreachable retries schema setup",
			breakIt: func(c *config.Config) {
				c.WeaviateHost = "localhost:54322"
				c.BootstrapRetryAttempts = 2
				c.BootstrapRetryDelaySeconds = 1
			},
			wantErr:     "weaviate schema error",
			minDuration: time.Second,
		},
		{
			name:    "missing migrations",
			breakIt: func(c *config.Config) { c.MigrationPath = "file:///nonexistent/migrations" },
			wantErr: "migration",
		},
		{
			name:    "unknown remote index",
			breakIt: func(c *config.Config) { c.RemoteIndex = "pinecone" },
			wantErr: `unknown remote index "pinecone"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := suite.GetAppConfig()
			tt.breakIt(cfg)

			start := time.Now()
			deps, err := app.Bootstrap(context.Background(), cfg)

			require.Error(t, err)
			assert.Nil(t, deps)
			assert.ErrorContains(t, err, tt.wantErr)
			assert.GreaterOrEqual(t, time.Since(start), tt.minDuration)
		})
	}
}
