package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"bookscroll/internal/ingest"
	"bookscroll/internal/middleware"
)

// DefaultTouchInterval keeps a long pipeline run from hitting the nsqd
// message timeout (60s by default).
const DefaultTouchInterval = 30 * time.Second

// IngestConsumer runs the extraction pipeline for each ingest.book message.
type IngestConsumer struct {
	ctx           context.Context
	pipeline      PipelineRunner
	touchInterval time.Duration
}

// NewIngestConsumer binds pipeline runs to ctx, so cancelling it stops
// in-flight documents and requeues their messages.
func NewIngestConsumer(ctx context.Context, p PipelineRunner, touchInterval time.Duration) *IngestConsumer {
	if touchInterval <= 0 {
		touchInterval = DefaultTouchInterval
	}
	return &IngestConsumer{ctx: ctx, pipeline: p, touchInterval: touchInterval}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestBookPayload
	err := json.Unmarshal(m.Body, &payload)

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(h.ctx, correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "poison pill: invalid json", "error", err)
		return nil
	}
	if payload.DocumentID <= 0 || payload.Path == "" {
		slog.ErrorContext(ctx, "missing required fields, dropping", "document_id", payload.DocumentID, "path", payload.Path)
		return nil
	}

	stop := h.keepAlive(m)
	defer stop()

	err = h.pipeline.Run(ctx, ingest.Job{DocumentID: payload.DocumentID, Path: payload.Path})
	if err == nil {
		return nil
	}
	if h.ctx.Err() != nil {
		slog.WarnContext(ctx, "pipeline interrupted, requeueing", "document_id", payload.DocumentID)
		return err
	}
	// the pipeline has already marked the document failed and recorded the job
	return nil
}

func (h *IngestConsumer) keepAlive(m *nsq.Message) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(h.touchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.Touch()
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}
