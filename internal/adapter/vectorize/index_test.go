package vectorize_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seen/internal/adapter/cloudflare"
	"seen/internal/adapter/vectorize"
	"seen/internal/apperr"
	"seen/internal/index"
)

const base = "/accounts/acct/vectorize/v2/indexes/seen-index/"

func newIndex(t *testing.T, handler http.HandlerFunc) *vectorize.Index {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c := cloudflare.New(cloudflare.Options{BaseURL: ts.URL, AccountID: "acct", APIToken: "tok"})
	return vectorize.New(c, "seen-index")
}

func TestInsert_SendsNDJSON(t *testing.T) {
	var lines []map[string]any
	x := newIndex(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, base+"insert", r.URL.Path)
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			var m map[string]any
			require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
			lines = append(lines, m)
		}
		w.Write([]byte(`{"success":true,"result":{"mutationId":"m1"}}`))
	})

	err := x.Insert(context.Background(), []index.Entry{
		{ID: "doc-0", Values: []float32{0.5, 1}, Metadata: &index.Metadata{DocumentID: "doc", ChunkIndex: 0}},
		{ID: "doc-1", Values: []float32{1, 0}},
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "doc-0", lines[0]["id"])
	assert.Equal(t, "doc", lines[0]["metadata"].(map[string]any)["document_id"])
	assert.NotContains(t, lines[1], "metadata")
}

func TestInsert_Failure(t *testing.T) {
	x := newIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"errors":[{"code":40006,"message":"dimension mismatch"}]}`))
	})
	err := x.Insert(context.Background(), []index.Entry{{ID: "a-0", Values: []float32{1}}})
	require.Error(t, err)
	assert.True(t, apperr.IsRequestFailure(err))
}

func TestQuery(t *testing.T) {
	x := newIndex(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, base+"query", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, float64(20), req["topK"])
		assert.Equal(t, "all", req["returnMetadata"])
		w.Write([]byte(`{"success":true,"result":{"count":2,"matches":[
			{"id":"d1-0","score":0.9,"metadata":{"document_id":"d1","chunk_index":0}},
			{"id":"d2-3","score":0.8}
		]}}`))
	})

	m, err := x.Query(context.Background(), []float32{1, 0}, 20)
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, "d1-0", m[0].ID)
	assert.InDelta(t, 0.9, m[0].Score, 1e-6)
	assert.Equal(t, "d1", m[0].Metadata.DocumentID)
	assert.Nil(t, m[1].Metadata)
}

func TestDeleteByIDs(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		x := newIndex(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, base+"delete_by_ids", r.URL.Path)
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"ids":["d-0","d-1"]}`, string(body))
			w.Write([]byte(`{"success":true,"result":{"mutationId":"x"}}`))
		})
		assert.NoError(t, x.DeleteByIDs(context.Background(), []string{"d-0", "d-1"}))
	})

	t.Run("SuccessFalseOn200", func(t *testing.T) {
		x := newIndex(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":false,"errors":[],"result":null}`))
		})
		err := x.DeleteByIDs(context.Background(), []string{"d-0"})
		require.Error(t, err)
		assert.True(t, apperr.IsRequestFailure(err))
	})

	t.Run("EmptyIsNoop", func(t *testing.T) {
		x := newIndex(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		assert.NoError(t, x.DeleteByIDs(context.Background(), nil))
	})
}

func TestGetByIDs(t *testing.T) {
	x := newIndex(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, base+"get_by_ids", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.True(t, strings.Contains(string(body), `"d-0"`))
		w.Write([]byte(`{"success":true,"result":[{"id":"d-0","values":[0.1,0.2]}]}`))
	})

	got, err := x.GetByIDs(context.Background(), []string{"d-0", "d-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d-0", got[0].ID)
	assert.Equal(t, []float32{0.1, 0.2}, got[0].Values)
}

func TestGetByIDs_Malformed(t *testing.T) {
	x := newIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"result":[{"values":[0.1]}]}`))
	})
	_, err := x.GetByIDs(context.Background(), []string{"d-0"})
	assert.True(t, apperr.IsSerialization(err))
}
