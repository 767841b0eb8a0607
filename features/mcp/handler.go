// Package mcp serves the search and document tools over the Model Context
// Protocol: plain JSON-RPC POST plus the SSE session transport.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"seen/features/document"
	"seen/internal/index"
	"seen/internal/middleware"
	"seen/internal/retrieval"
	"seen/internal/text"
)

const (
	ToolSearch        = "seen_search"
	ToolListDocuments = "seen_list_documents"
	ToolReadDocument  = "seen_read_document"

	defaultListLimit = 50
	// maxReadChars bounds the text returned by the read tool.
	maxReadChars = 40000
)

type Retriever interface {
	Search(ctx context.Context, query string, opts *retrieval.SearchOptions) ([]retrieval.Result, error)
}

type DocumentReader interface {
	List(ctx context.Context, limit int) ([]document.Document, error)
	Content(ctx context.Context, id string) (*document.Document, []byte, error)
}

type Handler struct {
	retriever    Retriever
	docs         DocumentReader
	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
}

func NewHandler(r Retriever, d DocumentReader) *Handler {
	return &Handler{
		retriever: r,
		docs:      d,
		sessions:  make(map[string]chan string),
	}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type SearchArgs struct {
	Query   string `json:"query"`
	Backend string `json:"backend,omitempty"`
	TopK    *int   `json:"top_k,omitempty"`
}

type ListDocumentsArgs struct {
	Limit *int `json:"limit,omitempty"`
}

type ReadDocumentArgs struct {
	ID string `json:"id"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

var tools = []Tool{
	{
		Name: ToolSearch,
		Description: `Semantic search over every ingested document. Returns up to 5 documents ranked by their best matching chunk, with the matching chunk indexes.

USAGE EXAMPLES:
- seen_search(query="how is the local index rebuilt")
- seen_search(query="retry policy", backend="local", top_k=40)`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]string{
					"type":        "string",
					"description": "Natural language query",
				},
				"backend": map[string]interface{}{
					"type":        "string",
					"description": "Index to query; defaults to the configured search backend.",
					"enum":        []string{"remote", "local"},
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Chunk hits requested before grouping (default 20).",
					"minimum":     1,
					"maximum":     100,
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name: ToolListDocuments,
		Description: `Lists ingested documents, most recent first. Use it to discover what has been indexed.

USAGE EXAMPLE:
seen_list_documents(limit=20)`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"limit": map[string]interface{}{
					"type":    "integer",
					"minimum": 1,
					"maximum": 500,
				},
			},
		},
	},
	{
		Name: ToolReadDocument,
		Description: `Returns the extracted text of one document by id. Use it when a search hit looks relevant and the full content is needed.

USAGE EXAMPLE:
seen_read_document(id="3f2b...")`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id": map[string]string{
					"type":        "string",
					"description": "Document id from a search result or listing",
				},
			},
			"required": []string{"id"},
		},
	},
}

// ProcessRequest handles one JSON-RPC request. It returns nil for
// notifications.
func (h *Handler) ProcessRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "seen-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "ping":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}
	case "tools/call":
		return h.callTool(ctx, req)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func (h *Handler) callTool(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		slog.WarnContext(ctx, "invalid params structure", "error", err)
		resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
		return &resp
	}

	switch params.Name {
	case ToolSearch:
		return h.search(ctx, req.ID, params.Arguments)
	case ToolListDocuments:
		return h.listDocuments(ctx, req.ID, params.Arguments)
	case ToolReadDocument:
		return h.readDocument(ctx, req.ID, params.Arguments)
	}

	slog.WarnContext(ctx, "tool not found", "tool", params.Name)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
	return &resp
}

func (h *Handler) search(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args SearchArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		slog.WarnContext(ctx, "invalid search arguments", "error", err)
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid search arguments")
		return &resp
	}
	if strings.TrimSpace(args.Query) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "Query is required")
		return &resp
	}

	opts := &retrieval.SearchOptions{}
	if args.Backend != "" {
		b, err := index.ParseBackend(args.Backend)
		if err != nil {
			resp := makeErrorResponse(id, ErrInvalidParams, err.Error())
			return &resp
		}
		opts.Backend = b
	}
	if args.TopK != nil {
		if *args.TopK < 1 {
			resp := makeErrorResponse(id, ErrInvalidParams, "top_k must be positive")
			return &resp
		}
		opts.TopK = *args.TopK
	}

	results, err := h.retriever.Search(ctx, args.Query, opts)
	if err != nil {
		slog.ErrorContext(ctx, "search failed", "error", err)
		return toolError(id, "Search failed: "+err.Error())
	}

	var b strings.Builder
	if len(results) == 0 {
		b.WriteString("No results found.")
	}
	for i, res := range results {
		fmt.Fprintf(&b, "Result %d (Score: %.3f):\n", i+1, res.Score)
		if res.Document.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", res.Document.Title)
		}
		fmt.Fprintf(&b, "URL: %s\nDocumentID: %s\n", res.Document.URL, res.Document.ID)
		if res.Document.Summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", res.Document.Summary)
		}
		chunks := make([]string, len(res.Chunks))
		for j, c := range res.Chunks {
			chunks[j] = fmt.Sprintf("%d (%.3f)", c.ChunkIndex, c.Score)
		}
		fmt.Fprintf(&b, "Matching chunks: %s\n---\n", strings.Join(chunks, ", "))
	}
	if len(results) > 0 {
		fmt.Fprintf(&b, "\nUse %s(id=\"...\") to read a full document.\n", ToolReadDocument)
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", ToolSearch, "result_count", len(results))
	return toolText(id, b.String())
}

func (h *Handler) listDocuments(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args ListDocumentsArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
		return &resp
	}
	limit := defaultListLimit
	if args.Limit != nil && *args.Limit > 0 {
		limit = *args.Limit
	}

	docs, err := h.docs.List(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "list_documents failed", "error", err)
		return toolError(id, "Error: "+err.Error())
	}
	if len(docs) == 0 {
		return toolText(id, "No documents found.")
	}

	type simpleDocument struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		URL        string `json:"url"`
		Chunks     int    `json:"chunks"`
		Size       string `json:"size"`
		IngestedAt string `json:"ingested_at"`
	}
	out := make([]simpleDocument, len(docs))
	for i := range docs {
		d := &docs[i]
		out[i] = simpleDocument{
			ID: d.ID, Title: d.Title, URL: d.URL, Chunks: d.ChunkCount,
			Size: d.SizeLabel(), IngestedAt: d.CreatedAt.UTC().Format(time.RFC3339),
		}
	}

	jsonBytes, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal documents", "error", err)
		return toolError(id, "Error marshalling results")
	}
	return toolText(id, string(jsonBytes))
}

func (h *Handler) readDocument(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args ReadDocumentArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
		return &resp
	}
	if args.ID == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "id is required")
		return &resp
	}

	doc, content, err := h.docs.Content(ctx, args.ID)
	if err != nil {
		slog.ErrorContext(ctx, "read_document failed", "id", args.ID, "error", err)
		return toolError(id, "Error: "+err.Error())
	}

	body := text.Extract(content, doc.ContentType)
	truncated := false
	if r := []rune(body); len(r) > maxReadChars {
		body = string(r[:maxReadChars])
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\nURL: %s\n\n%s\n", doc.Title, doc.URL, body)
	if truncated {
		b.WriteString("\n[truncated]\n")
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", ToolReadDocument, "chars", len(body))
	return toolText(id, b.String())
}

// unmarshalArgs accepts absent arguments as an empty object.
func unmarshalArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func toolText(id interface{}, s string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: s}}},
	}
}

func toolError(id interface{}, s string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: s}}, IsError: true},
	}
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.InfoContext(r.Context(), "mcp request received", "method", r.Method, "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.ProcessRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// HandleSSE establishes the SSE connection and manages the session.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		close(msgChan)
		h.sessionsLock.Unlock()
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.Info("sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts a POST for an SSE session, replies 202 and
// delivers the JSON-RPC response on the session stream.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		h.writeHttpError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()
	if !exists {
		slog.Warn("session not found", "session_id", sessionID, "correlation_id", correlationID)
		h.writeHttpError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeHttpError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	bgCtx := context.WithoutCancel(r.Context())
	go func() {
		resp := h.ProcessRequest(bgCtx, req)
		if resp == nil {
			return
		}
		respBytes, err := json.Marshal(resp)
		if err != nil {
			slog.Error("failed to marshal response", "error", err, "correlation_id", correlationID)
			return
		}
		h.deliver(sessionID, string(respBytes))
	}()
}

// deliver sends msg to a live session. The read lock keeps HandleSSE from
// closing the channel mid-send.
func (h *Handler) deliver(sessionID, msg string) {
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()

	ch, ok := h.sessions[sessionID]
	if !ok {
		slog.Warn("session closed before response", "session_id", sessionID)
		return
	}
	select {
	case ch <- msg:
	default:
		slog.Warn("session channel full, dropping message", "session_id", sessionID)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	// JSON-RPC errors travel in a 200 body.
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(makeErrorResponse(id, code, message))
}

func (h *Handler) writeHttpError(w http.ResponseWriter, status int, code string, message string, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"status": "error",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	}
	json.NewEncoder(w).Encode(resp)
}
