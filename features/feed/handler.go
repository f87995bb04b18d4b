package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"bookscroll/features/snippet"
	"bookscroll/internal/middleware"
	"bookscroll/internal/retrieval"
)

const DefaultLimit = 10

type Retriever interface {
	Feed(ctx context.Context, q retrieval.FeedQuery) (*retrieval.FeedPage, error)
	Sample(ctx context.Context, scope snippet.Scope, n int) ([]snippet.Item, error)
	Search(ctx context.Context, query string, opts *retrieval.SearchOptions) ([]snippet.Item, error)
}

type Handler struct {
	service Retriever
}

func NewHandler(s Retriever) *Handler {
	return &Handler{service: s}
}

// Feed handles GET /feed?limit=&cursor=&document_id=&theme=
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}

	var cursor int64
	if raw := q.Get("cursor"); raw != "" {
		c, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || c < 0 {
			h.writeError(ctx, w, "VALIDATION_ERROR", "cursor must be a non-negative integer", http.StatusBadRequest)
			return
		}
		cursor = c
	}

	page, err := h.service.Feed(ctx, retrieval.FeedQuery{Limit: limit, Cursor: cursor, Scope: scope})
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": page})
}

// Random handles GET /feed/random?limit=&document_id=&theme=
func (h *Handler) Random(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}

	items, err := h.service.Sample(ctx, scope, limit)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": items})
}

// Search handles GET /search?q=&limit=&document_id=&semantic_weight=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "q is required", http.StatusBadRequest)
		return
	}

	opts := &retrieval.SearchOptions{}
	if q.Has("limit") {
		limit, ok := h.limit(w, r)
		if !ok {
			return
		}
		opts.Limit = &limit
	}
	if raw := q.Get("semantic_weight"); raw != "" {
		weight, err := strconv.ParseFloat(raw, 64)
		if err != nil || weight < 0 || weight > 1 {
			h.writeError(ctx, w, "VALIDATION_ERROR", "semantic_weight must be a number within [0, 1]", http.StatusBadRequest)
			return
		}
		opts.SemanticWeight = &weight
	}
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	opts.DocumentID = scope.DocumentID

	items, err := h.service.Search(ctx, query, opts)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": items,
		"meta": map[string]int{"count": len(items)},
	})
}

func (h *Handler) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (snippet.Scope, bool) {
	q := r.URL.Query()
	scope := snippet.Scope{Theme: strings.TrimSpace(q.Get("theme"))}
	id, err := documentID(q)
	if err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "document_id must be a positive integer", http.StatusBadRequest)
		return scope, false
	}
	scope.DocumentID = id
	return scope, true
}

func documentID(q url.Values) (int64, error) {
	raw := q.Get("document_id")
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id < 1 {
		return 0, errors.New("document id must be positive")
	}
	return id, nil
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, retrieval.ErrInvalidQuery) {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	slog.ErrorContext(ctx, "feed request failed", "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", "failed to load snippets", http.StatusInternalServerError)
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
