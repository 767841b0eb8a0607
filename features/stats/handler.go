package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"seen/features/document"
	"seen/internal/middleware"
)

type DocumentStats interface {
	Stats(ctx context.Context) (*document.Stats, error)
}

type JobCounter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	docs DocumentStats
	jobs JobCounter
}

func NewHandler(d DocumentStats, j JobCounter) *Handler {
	return &Handler{docs: d, jobs: j}
}

type StatsResponse struct {
	Documents      int `json:"documents"`
	Embeddings     int `json:"embeddings"`
	LocalIndexSize int `json:"local_index_size"`
	// LocalIndexDrift is how many stored embeddings the local index is
	// missing; a positive value means a rebuild has work to do.
	LocalIndexDrift int                 `json:"local_index_drift"`
	FailedJobs      int                 `json:"failed_jobs"`
	Latest          []document.Document `json:"latest"`
}

func (h *Handler) collect(ctx context.Context) (*StatsResponse, error) {
	var (
		st     *document.Stats
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if st, err = h.docs.Stats(gctx); err != nil {
			return fmt.Errorf("document stats: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if failed, err = h.jobs.Count(gctx); err != nil {
			return fmt.Errorf("failed job count: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resp := &StatsResponse{
		Documents:       st.TotalDocuments,
		Embeddings:      st.TotalEmbeddings,
		LocalIndexSize:  st.LocalIndexSize,
		LocalIndexDrift: st.TotalEmbeddings - st.LocalIndexSize,
		FailedJobs:      failed,
		Latest:          st.Latest,
	}
	if resp.Latest == nil {
		resp.Latest = []document.Document{}
	}
	return resp, nil
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.collect(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to collect stats", "error", err)
		h.writeJSON(ctx, w, http.StatusInternalServerError, map[string]interface{}{
			"error":         map[string]string{"code": "INTERNAL_ERROR", "message": "failed to collect stats"},
			"correlationId": middleware.GetCorrelationID(ctx),
		})
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": resp})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
