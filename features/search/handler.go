// Package search exposes the query engine over HTTP.
package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"seen/internal/apperr"
	"seen/internal/index"
	"seen/internal/middleware"
	"seen/internal/retrieval"
)

type Searcher interface {
	Search(ctx context.Context, query string, opts *retrieval.SearchOptions) ([]retrieval.Result, error)
}

type Handler struct {
	searcher Searcher
}

func NewHandler(s Searcher) *Handler {
	return &Handler{searcher: s}
}

// Search handles GET /search?q=&backend=&top_k=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	opts := &retrieval.SearchOptions{}
	if raw := q.Get("backend"); raw != "" {
		b, err := index.ParseBackend(raw)
		if err != nil {
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		opts.Backend = b
	}
	if raw := q.Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(ctx, w, "VALIDATION_ERROR", "top_k must be a positive integer", http.StatusBadRequest)
			return
		}
		opts.TopK = n
	}

	results, err := h.searcher.Search(ctx, q.Get("q"), opts)
	if err != nil {
		status := apperr.HTTPStatus(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			slog.ErrorContext(ctx, "search failed", "error", err, "correlationId", middleware.GetCorrelationID(ctx))
			msg = "Internal Server Error"
		}
		h.writeError(ctx, w, apperr.PublicCode(err), msg, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": results,
		"meta": map[string]int{"count": len(results)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
