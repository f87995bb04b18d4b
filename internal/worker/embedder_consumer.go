package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"bookscroll/features/job"
	"bookscroll/internal/ingest"
	"bookscroll/internal/middleware"
)

// DefaultMaxAttempts is how many deliveries an embed task gets before it is
// parked as a failed job.
const DefaultMaxAttempts = 3

// EmbedderConsumer embeds snippets that were persisted without a vector.
type EmbedderConsumer struct {
	embedder    Embedder
	store       VectorStore
	snippets    SnippetMarker
	jobs        JobRecorder
	maxAttempts uint16
}

func NewEmbedderConsumer(e Embedder, s VectorStore, sn SnippetMarker, j JobRecorder) *EmbedderConsumer {
	return &EmbedderConsumer{
		embedder:    e,
		store:       s,
		snippets:    sn,
		jobs:        j,
		maxAttempts: DefaultMaxAttempts,
	}
}

func (h *EmbedderConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestEmbedPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	if payload.SnippetID <= 0 || payload.Text == "" {
		slog.ErrorContext(ctx, "missing required fields, dropping", "snippet_id", payload.SnippetID)
		return nil
	}

	vec, err := h.embedder.Embed(ctx, payload.Text)
	if err != nil {
		return h.fail(ctx, m, payload, fmt.Errorf("embed: %w", err))
	}

	model := h.embedder.Model()
	err = h.store.StoreVector(ctx, ingest.SnippetVector{
		SnippetID:  payload.SnippetID,
		DocumentID: payload.DocumentID,
		Model:      model,
		Vector:     vec,
	})
	if err != nil {
		return h.fail(ctx, m, payload, fmt.Errorf("store vector: %w", err))
	}

	if err := h.snippets.MarkEmbedded(ctx, []int64{payload.SnippetID}, model); err != nil {
		slog.ErrorContext(ctx, "failed to mark snippet embedded", "error", err, "snippet_id", payload.SnippetID)
		return err
	}

	slog.InfoContext(ctx, "snippet embedded", "snippet_id", payload.SnippetID, "document_id", payload.DocumentID, "model", model)
	return nil
}

// fail requeues the task until its attempts run out, then records it for a
// manual retry and acks it.
func (h *EmbedderConsumer) fail(ctx context.Context, m *nsq.Message, payload IngestEmbedPayload, err error) error {
	if m.Attempts < h.maxAttempts {
		slog.WarnContext(ctx, "embed task failed, retrying", "error", err, "snippet_id", payload.SnippetID, "attempt", m.Attempts)
		return err
	}

	slog.ErrorContext(ctx, "embed task failed", "error", err, "snippet_id", payload.SnippetID)
	failed := &job.Job{
		DocumentID: payload.DocumentID,
		Handler:    job.HandlerIngestEmbed,
		Payload:    json.RawMessage(m.Body),
		Error:      err.Error(),
		Retries:    int(m.Attempts) - 1,
	}
	if saveErr := h.jobs.Save(ctx, failed); saveErr != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", saveErr)
		return err
	}
	return nil
}
