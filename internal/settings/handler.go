package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"bookscroll/internal/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// view is what the API returns. The stored key never leaves the server.
type view struct {
	GeminiAPIKey    string  `json:"gemini_api_key"`
	GeminiAPIKeySet bool    `json:"gemini_api_key_set"`
	SemanticWeight  float32 `json:"semantic_weight"`
	SearchTopK      int     `json:"search_top_k"`
}

func newView(s *Settings) view {
	return view{
		GeminiAPIKey:    maskKey(s.GeminiAPIKey),
		GeminiAPIKeySet: s.GeminiAPIKey != "",
		SemanticWeight:  s.SemanticWeight,
		SearchTopK:      s.SearchTopK,
	}
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 8) + key[len(key)-4:]
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Get(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to read settings", "error", err)
		writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	writeData(r.Context(), w, newView(s))
}

// UpdateSettings applies a partial update and returns the merged settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var p Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	s, err := h.svc.Apply(r.Context(), p)
	if err != nil {
		if errors.Is(err, ErrInvalidSettings) {
			writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(r.Context(), "failed to update settings", "error", err)
		writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	slog.InfoContext(r.Context(), "settings updated", "semantic_weight", s.SemanticWeight, "search_top_k", s.SearchTopK)
	writeData(r.Context(), w, newView(s))
}

func writeData(ctx context.Context, w http.ResponseWriter, v view) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": v}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
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
