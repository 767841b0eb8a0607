package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_HandleMessage_MissingSessionID(t *testing.T) {
	handler := NewHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp/messages", nil)
	rec := httptest.NewRecorder()
	handler.HandleMessage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp["status"])
	errMap, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, "expected error object in response")
	assert.Equal(t, "VALIDATION_ERROR", errMap["code"])
}

func TestHandler_HandleMessage_SessionNotFound(t *testing.T) {
	handler := NewHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId=unknown-session", nil)
	rec := httptest.NewRecorder()
	handler.HandleMessage(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_HandleMessage_InvalidJSON(t *testing.T) {
	handler := NewHandler(nil, nil)
	handler.sessions["test-session"] = make(chan string, 1)

	req := httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId=test-session", bytes.NewBufferString("{invalid-json"))
	rec := httptest.NewRecorder()
	handler.HandleMessage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_JSON")
}

func TestHandler_HandleMessage_DeliversToSession(t *testing.T) {
	handler := NewHandler(nil, nil)
	ch := make(chan string, 1)
	handler.sessions["test-session"] = ch

	body := `{"jsonrpc":"2.0","method":"ping","id":1}`
	req := httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId=test-session", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.HandleMessage(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case msg := <-ch:
		assert.Contains(t, msg, `"id":1`)
		assert.Contains(t, msg, `"result"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no response delivered to session")
	}
}

func TestHandler_Deliver_ClosedSession(t *testing.T) {
	handler := NewHandler(nil, nil)
	// Must not panic or block.
	handler.deliver("gone", "{}")
}

func TestHandler_SSE_RoundTrip(t *testing.T) {
	handler := NewHandler(nil, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /mcp/sse", handler.HandleSSE)
	mux.HandleFunc("POST /mcp/messages", handler.HandleMessage)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/mcp/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan [2]string, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		var event string
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				events <- [2]string{event, strings.TrimPrefix(line, "data: ")}
			}
		}
		close(events)
	}()

	next := func() [2]string {
		select {
		case ev := <-events:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for sse event")
			return [2]string{}
		}
	}

	ev := next()
	require.Equal(t, "endpoint", ev[0])
	endpoint := strings.ReplaceAll(ev[1], "&amp;", "&")
	assert.Contains(t, endpoint, "/mcp/messages?sessionId=")

	post, err := http.Post(endpoint, "application/json", strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list","id":7}`))
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusAccepted, post.StatusCode)

	ev = next()
	assert.Equal(t, "message", ev[0])
	assert.Contains(t, ev[1], ToolSearch)
	assert.Contains(t, ev[1], `"id":7`)
}
