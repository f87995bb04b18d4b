package worker_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/mock"

	"bookscroll/features/job"
	"bookscroll/internal/ingest"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbedder) Model() string { return "test-embedding" }

type MockVectorStore struct{ mock.Mock }

func (m *MockVectorStore) StoreVector(ctx context.Context, v ingest.SnippetVector) error {
	return m.Called(ctx, v).Error(0)
}

type MockMarker struct{ mock.Mock }

func (m *MockMarker) MarkEmbedded(ctx context.Context, ids []int64, model string) error {
	return m.Called(ctx, ids, model).Error(0)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	return m.Called(ctx, j).Error(0)
}

type MockPipeline struct{ mock.Mock }

func (m *MockPipeline) Run(ctx context.Context, j ingest.Job) error {
	return m.Called(ctx, j).Error(0)
}

// touchCounter records nsq message touches.
type touchCounter struct {
	touches atomic.Int32
}

func (d *touchCounter) OnFinish(*nsq.Message)                     {}
func (d *touchCounter) OnRequeue(*nsq.Message, time.Duration, bool) {}
func (d *touchCounter) OnTouch(*nsq.Message)                      { d.touches.Add(1) }
