package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"bookscroll/internal/middleware"
)

type Counter interface {
	Count(ctx context.Context) (int, error)
}

type VectorCounter interface {
	CountVectors(ctx context.Context) (int, error)
}

type Handler struct {
	documents Counter
	snippets  Counter
	jobs      Counter
	vectors   VectorCounter
}

func NewHandler(documents, snippets, jobs Counter, vectors VectorCounter) *Handler {
	return &Handler{documents: documents, snippets: snippets, jobs: jobs, vectors: vectors}
}

type StatsResponse struct {
	Documents  int `json:"documents"`
	Snippets   int `json:"snippets"`
	Vectors    int `json:"vectors"`
	FailedJobs int `json:"failed_jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "getting stats")

	var resp StatsResponse
	counters := []struct {
		name  string
		count func(context.Context) (int, error)
		dst   *int
	}{
		{"documents", h.documents.Count, &resp.Documents},
		{"snippets", h.snippets.Count, &resp.Snippets},
		{"failed jobs", h.jobs.Count, &resp.FailedJobs},
		{"vectors", h.vectors.CountVectors, &resp.Vectors},
	}
	for _, c := range counters {
		n, err := c.count(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count "+c.name, "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count "+c.name, http.StatusInternalServerError)
			return
		}
		*c.dst = n
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
