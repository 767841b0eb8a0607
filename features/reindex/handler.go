package reindex

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"seen/internal/apperr"
	"seen/internal/index"
	"seen/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

type progressResponse struct {
	Total     int  `json:"total"`
	Migrated  int  `json:"migrated"`
	Converged bool `json:"converged"`
	Missing   int  `json:"missing,omitempty"`
}

func toResponse(p index.Progress) progressResponse {
	return progressResponse{Total: p.Total, Migrated: p.Migrated, Converged: p.Converged(), Missing: p.Missing}
}

// Reindex handles POST /admin/reindex[?reset=true][&loop=true].
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reset, err := boolParam(r, "reset")
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "reset must be a boolean", http.StatusBadRequest)
		return
	}
	loop, err := boolParam(r, "loop")
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "loop must be a boolean", http.StatusBadRequest)
		return
	}

	if loop {
		if err := h.service.Schedule(ctx, reset); err != nil {
			slog.ErrorContext(ctx, "failed to queue rebuild", "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
			return
		}
		h.writeJSON(ctx, w, http.StatusAccepted, map[string]interface{}{"data": map[string]string{"status": "queued"}})
		return
	}

	progress, err := h.service.Run(ctx, reset)
	if err != nil {
		slog.ErrorContext(ctx, "rebuild failed", "error", err, "migrated", progress.Migrated, "total", progress.Total)
		status := apperr.HTTPStatus(err)
		h.writeJSON(ctx, w, status, map[string]interface{}{
			"error":         map[string]string{"code": apperr.PublicCode(err), "message": err.Error()},
			"data":          toResponse(progress),
			"correlationId": middleware.GetCorrelationID(ctx),
		})
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": toResponse(progress)})
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(ctx, w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
