package document_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"seen/features/document"
	"seen/internal/apperr"
)

func serve(h *document.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /documents", h.Create)
	mux.HandleFunc("GET /documents", h.List)
	mux.HandleFunc("GET /documents/{id}", h.Get)
	mux.HandleFunc("GET /documents/{id}/content", h.Content)
	mux.HandleFunc("DELETE /documents/{id}", h.Delete)
	mux.HandleFunc("DELETE /documents", h.Delete)
	return mux
}

func do(mux http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHandler_CreateSync(t *testing.T) {
	svc, m := newService()
	expectFetchAndProcess(m)
	m.blobs.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	m.indexer.On("IndexDocument", mock.Anything, mock.Anything, mock.Anything).Return(3, nil)
	m.repo.On("MarkIndexed", mock.Anything, mock.Anything, 3).Return(time.Now(), nil)

	w := do(serve(document.NewHandler(svc)), http.MethodPost, "/documents", map[string]string{"url": pageURL})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Data document.IngestReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Created)
	assert.Equal(t, pageURL, resp.Data.Document.URL)
	assert.NotNil(t, resp.Data.Document.IndexedAt)
}

func TestHandler_CreateExisting(t *testing.T) {
	svc, m := newService()
	indexedAt := time.Now()
	m.repo.On("GetByURL", mock.Anything, pageURL).Return(&document.Document{ID: "d1", URL: pageURL, IndexedAt: &indexedAt}, nil)

	w := do(serve(document.NewHandler(svc)), http.MethodPost, "/documents", map[string]string{"url": pageURL})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_CreateAsync(t *testing.T) {
	svc, m := newService()
	m.pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	w := do(serve(document.NewHandler(svc)), http.MethodPost, "/documents", map[string]interface{}{"url": pageURL, "async": true})
	assert.Equal(t, http.StatusAccepted, w.Code)
	m.repo.AssertNotCalled(t, "GetByURL", mock.Anything, mock.Anything)
}

func TestHandler_CreatePartialWrite(t *testing.T) {
	svc, m := newService()
	expectFetchAndProcess(m)
	m.blobs.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

	w := do(serve(document.NewHandler(svc)), http.MethodPost, "/documents", map[string]string{"url": pageURL})
	require.Equal(t, http.StatusBadGateway, w.Code)

	var resp struct {
		Error map[string]string     `json:"error"`
		Data  document.IngestReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PARTIAL_WRITE", resp.Error["code"])
	assert.Equal(t, document.StepOK, resp.Data.Steps[0].Status)
	assert.Equal(t, document.StepFailed, resp.Data.Steps[1].Status)
}

func TestHandler_CreateValidation(t *testing.T) {
	svc, _ := newService()
	mux := serve(document.NewHandler(svc))

	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/documents", map[string]string{}).Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/documents", map[string]string{"url": "nope"}).Code)
}

func TestHandler_GetNotFound(t *testing.T) {
	svc, m := newService()
	m.repo.On("Get", mock.Anything, "missing").Return(nil, apperr.NotFound("document", "missing"))

	w := do(serve(document.NewHandler(svc)), http.MethodGet, "/documents/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestHandler_Content(t *testing.T) {
	svc, m := newService()
	m.repo.On("Get", mock.Anything, "d1").Return(&document.Document{ID: "d1", ContentType: "text/plain", BucketPath: "content/d1.txt"}, nil)
	m.blobs.On("Get", mock.Anything, "content/d1.txt").Return([]byte("hello"), nil)

	w := do(serve(document.NewHandler(svc)), http.MethodGet, "/documents/d1/content", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, "hello", w.Body.String())
}

func TestHandler_List(t *testing.T) {
	svc, m := newService()
	m.repo.On("List", mock.Anything, 2).Return([]document.Document{{ID: "a"}, {ID: "b"}}, nil)
	mux := serve(document.NewHandler(svc))

	w := do(mux, http.MethodGet, "/documents?limit=2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)

	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/documents?limit=x", nil).Code)
}

func TestHandler_DeleteByURL(t *testing.T) {
	svc, m := newService()
	doc := &document.Document{ID: "d1", URL: pageURL, ChunkCount: 1, BucketPath: "content/d1.html"}
	m.repo.On("GetByURL", mock.Anything, pageURL).Return(doc, nil)
	m.indexer.On("RemoveDocument", mock.Anything, "d1", 1).Return(nil)
	m.repo.On("Delete", mock.Anything, "d1").Return(nil)
	m.blobs.On("Delete", mock.Anything, "content/d1.html").Return(nil)
	mux := serve(document.NewHandler(svc))

	w := do(mux, http.MethodDelete, "/documents?url="+pageURL, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodDelete, "/documents", nil).Code)
}
