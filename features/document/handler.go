package document

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"seen/internal/apperr"
	"seen/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL   string `json:"url"`
		Async bool   `json:"async"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "url is required", http.StatusBadRequest)
		return
	}

	if req.Async {
		if err := h.service.Enqueue(r.Context(), req.URL); err != nil {
			h.fail(r.Context(), w, err)
			return
		}
		h.writeJSON(r.Context(), w, http.StatusAccepted, map[string]interface{}{"data": map[string]string{"status": "queued", "url": req.URL}})
		return
	}

	report, err := h.service.Ingest(r.Context(), req.URL)
	if err != nil {
		var pw *apperr.PartialWriteError
		if errors.As(err, &pw) && report != nil {
			slog.ErrorContext(r.Context(), "ingest partially applied", "url", req.URL, "error", err)
			h.writeJSON(r.Context(), w, http.StatusBadGateway, map[string]interface{}{
				"error":         map[string]string{"code": "PARTIAL_WRITE", "message": err.Error()},
				"data":          report,
				"correlationId": middleware.GetCorrelationID(r.Context()),
			})
			return
		}
		h.fail(r.Context(), w, err)
		return
	}

	status := http.StatusOK
	if report.Created {
		status = http.StatusCreated
	}
	h.writeJSON(r.Context(), w, status, map[string]interface{}{"data": report})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	docs, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": docs, "meta": map[string]int{"count": len(docs)}})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": doc})
}

func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	doc, data, err := h.service.Content(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	ct := doc.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Delete removes by path id, or by ?url= on the collection route.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	var (
		steps []StepResult
		err   error
	)
	if id := r.PathValue("id"); id != "" {
		steps, err = h.service.Delete(r.Context(), id)
	} else if u := r.URL.Query().Get("url"); u != "" {
		steps, err = h.service.DeleteByURL(r.Context(), u)
	} else {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "id or url is required", http.StatusBadRequest)
		return
	}

	if err != nil {
		var pw *apperr.PartialWriteError
		if errors.As(err, &pw) {
			h.writeJSON(r.Context(), w, http.StatusBadGateway, map[string]interface{}{
				"error":         map[string]string{"code": "PARTIAL_WRITE", "message": err.Error()},
				"data":          map[string]interface{}{"steps": steps},
				"correlationId": middleware.GetCorrelationID(r.Context()),
			})
			return
		}
		h.fail(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"steps": steps}})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.ErrorContext(ctx, "operation failed", "error", err)
		msg = "Internal Server Error"
	}
	h.writeError(ctx, w, apperr.PublicCode(err), msg, status)
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
