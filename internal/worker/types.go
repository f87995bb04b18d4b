package worker

import (
	"context"

	"bookscroll/features/job"
	"bookscroll/internal/ingest"
)

type PipelineRunner interface {
	Run(ctx context.Context, j ingest.Job) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

type VectorStore interface {
	StoreVector(ctx context.Context, v ingest.SnippetVector) error
}

type SnippetMarker interface {
	MarkEmbedded(ctx context.Context, ids []int64, model string) error
}

type JobRecorder interface {
	Save(ctx context.Context, j *job.Job) error
}
