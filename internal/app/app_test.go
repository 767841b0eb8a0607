package app

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seen/internal/adapter/gemini"
	"seen/internal/config"
	"seen/internal/text"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		EmbeddingProvider: "workersai",
		RemoteIndex:       "vectorize",
		VectorDim:         3,
		IndexBackends:     "remote,local",
		SearchBackend:     "remote",
		SearchTopK:        20,
		SnapshotKey:       "index/vector_lite.bin",
		LocalIndexMetric:  "cosine",
		BlobBackend:       "local",
		BlobDir:           t.TempDir(),
	}
}

func TestNew(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	producer, err := nsq.NewProducer("localhost:4150", nsq.NewConfig())
	require.NoError(t, err)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	app, err := New(testConfig(t), db, nil, producer, logger)
	require.NoError(t, err)
	defer app.Close()
	assert.NotNil(t, app.Handler)
	assert.NotNil(t, app.Documents)
	assert.NotNil(t, app.Coordinator)
	assert.NotNil(t, app.IngestConsumer)
	assert.NotNil(t, app.RebuildConsumer)

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"Health", http.MethodGet, "/health", http.StatusOK},
		{"Preflight", http.MethodOptions, "/search", http.StatusOK},
		{"Search Without Query", http.MethodGet, "/search", http.StatusBadRequest},
		{"Search Bad Backend", http.MethodGet, "/search?q=x&backend=disk", http.StatusBadRequest},
		{"Delete Without Target", http.MethodDelete, "/documents", http.StatusBadRequest},
		{"Unknown Route", http.MethodGet, "/sources", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			w := httptest.NewRecorder()
			app.Handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_SeedsGeminiKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, gemini_api_key, search_backend, search_top_k, updated_at FROM settings").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "gemini_api_key", "search_backend", "search_top_k", "updated_at"}).AddRow(1, "", "remote", 20, time.Now()))
	mock.ExpectQuery("INSERT INTO settings").
		WithArgs(1, "env-key", "remote", 20).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))

	cfg := testConfig(t)
	cfg.GeminiAPIKey = "env-key"
	app, err := New(cfg, db, nil, nil, slog.Default())
	require.NoError(t, err)
	defer app.Close()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_InvalidMetric(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig(t)
	cfg.LocalIndexMetric = "manhattan"
	_, err = New(cfg, db, nil, nil, slog.Default())
	assert.Error(t, err)
}

func TestNewProcessor(t *testing.T) {
	cfg := testConfig(t)
	assert.IsType(t, &text.Extractor{}, newProcessor(cfg, nil))

	cfg.ContentProcessor = "gemini"
	assert.IsType(t, &gemini.Processor{}, newProcessor(cfg, nil))
}
