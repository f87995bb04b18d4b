package logger

import (
	"context"
	"log/slog"

	"bookscroll/internal/middleware"
)

type documentKey struct{}

// WithDocumentID tags every log line emitted with ctx with the document being processed.
func WithDocumentID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, documentKey{}, id)
}

type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(middleware.CorrelationKey).(string); ok && id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if id, ok := ctx.Value(documentKey{}).(int64); ok {
		r.AddAttrs(slog.Int64("document_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}
