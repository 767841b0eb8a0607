package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seen/internal/app"
	"seen/internal/apperr"
	"seen/internal/config"
	"seen/internal/embedding"
	"seen/internal/fetch"
	"seen/internal/testutils"
)

// wordEmbedder maps text onto three buckets by word hash, so texts that
// share words land close together.
func wordEmbedder() embedding.Embedder {
	return embedding.Func(func(ctx context.Context, text string) ([]float32, error) {
		v := []float32{0.01, 0.01, 0.01}
		for _, w := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(w))
			v[h.Sum32()%3]++
		}
		return v, nil
	})
}

type pageFetcher map[string]string

func (p pageFetcher) Fetch(ctx context.Context, url string) (*fetch.Response, error) {
	body, ok := p[url]
	if !ok {
		return nil, apperr.NotFound("page", url)
	}
	return &fetch.Response{URL: url, ContentType: "text/html", Body: []byte(body)}, nil
}

func TestApp_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E integration test")
	}

	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	cfg := s.GetAppConfig()
	deps, err := app.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer deps.DB.Close()

	pages := pageFetcher{
		"https://example.com/go":   "<html><head><title>Go</title></head><body><p>goroutines channels goroutines</p></body></html>",
		"https://example.com/rust": "<html><head><title>Rust</title></head><body><p>borrow checker lifetimes</p></body></html>",
	}
	application, err := app.New(cfg, deps.DB, deps.Remote, s.NSQ, slog.Default(), &app.Options{
		Embedder: wordEmbedder(),
		Fetcher:  pages,
	})
	require.NoError(t, err)
	defer application.Close()

	do := func(method, target string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		w := httptest.NewRecorder()
		application.Handler.ServeHTTP(w, httptest.NewRequest(method, target, &buf))
		return w
	}

	// 1. Synchronous ingest writes both indexes.
	w := do(http.MethodPost, "/documents", map[string]string{"url": "https://example.com/go"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data struct {
			Document struct {
				ID string `json:"id"`
			} `json:"document"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	docID := created.Data.Document.ID
	require.NotEmpty(t, docID)

	// Re-ingesting the same URL is a no-op.
	w = do(http.MethodPost, "/documents", map[string]string{"url": "https://example.com/go"})
	assert.Equal(t, http.StatusOK, w.Code)

	// 2. Search against each backend.
	searchIDs := func(backend string) []string {
		w := do(http.MethodGet, "/search?q=goroutines&backend="+backend, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var res struct {
			Data []struct {
				Document struct {
					ID string `json:"id"`
				} `json:"document"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		ids := make([]string, len(res.Data))
		for i, r := range res.Data {
			ids[i] = r.Document.ID
		}
		return ids
	}
	assert.Equal(t, []string{docID}, searchIDs("local"))
	assert.Eventually(t, func() bool {
		ids := searchIDs("remote")
		return len(ids) == 1 && ids[0] == docID
	}, 10*time.Second, 500*time.Millisecond)

	// 3. A reset rebuild restores the local index from the remote one.
	w = do(http.MethodPost, "/admin/reindex?reset=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	n, err := application.Coordinator.LocalLen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 4. Asynchronous ingest goes through NSQ.
	w = do(http.MethodPost, "/documents", map[string]interface{}{"url": "https://example.com/rust", "async": true})
	require.Equal(t, http.StatusAccepted, w.Code)

	msg := s.ConsumeOne(config.TopicIngestLink)
	require.NotNil(t, msg, "should receive ingest message")
	require.NoError(t, application.IngestConsumer.HandleMessage(&nsq.Message{Body: msg.Body, Attempts: 1}))

	doc, err := application.Documents.GetByURL(context.Background(), "https://example.com/rust")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.ChunkCount)
	assert.NotNil(t, doc.IndexedAt)

	// 5. Stats reflect both documents.
	w = do(http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"documents":2`)

	// 6. Deleting removes the document from search.
	w = do(http.MethodDelete, "/documents/"+docID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, searchIDs("local"), docID)
}
