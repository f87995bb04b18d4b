package job

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookscroll/internal/config"
)

type stubPublisher struct {
	sleep     time.Duration
	err       error
	LastTopic string
	LastBody  []byte
}

func (m *stubPublisher) Publish(topic string, body []byte) error {
	m.LastTopic = topic
	m.LastBody = body
	time.Sleep(m.sleep)
	return m.err
}

type stubRepo struct {
	Repository
	Handler    string
	Missing    bool
	Deleted    []int64
	LastFilter Filter
}

func (m *stubRepo) Get(ctx context.Context, id int64) (*Job, error) {
	if m.Missing {
		return nil, sql.ErrNoRows
	}
	return &Job{ID: id, DocumentID: 3, Handler: m.Handler, Payload: []byte(`{"document_id":3}`)}, nil
}

func (m *stubRepo) Delete(ctx context.Context, id int64) error {
	if m.Missing {
		return sql.ErrNoRows
	}
	m.Deleted = append(m.Deleted, id)
	return nil
}

func (m *stubRepo) Count(ctx context.Context) (int, error) { return 10, nil }

func (m *stubRepo) List(ctx context.Context, f Filter) ([]Job, error) {
	m.LastFilter = f
	return []Job{{ID: 1}, {ID: 2}}, nil
}

func TestRetry_Timeout(t *testing.T) {
	repo := &stubRepo{}
	service := NewService(repo, &stubPublisher{sleep: 200 * time.Millisecond}, nil)
	service.timeout = 20 * time.Millisecond

	_, err := service.Retry(context.Background(), 1)
	assert.ErrorIs(t, err, ErrPublishTimeout)
	assert.Empty(t, repo.Deleted)
}

func TestRetry_PublishError(t *testing.T) {
	repo := &stubRepo{}
	service := NewService(repo, &stubPublisher{err: errors.New("nsqd down")}, nil)

	_, err := service.Retry(context.Background(), 1)
	assert.ErrorContains(t, err, "nsqd down")
	assert.Empty(t, repo.Deleted)
}

func TestRetry_CancelledContext(t *testing.T) {
	repo := &stubRepo{}
	service := NewService(repo, &stubPublisher{sleep: 200 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.Retry(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, repo.Deleted)
}

func TestRetry_TopicSelection(t *testing.T) {
	tests := []struct {
		name    string
		handler string
		topic   string
	}{
		{"book", HandlerIngestBook, config.TopicIngestBook},
		{"embed", HandlerIngestEmbed, config.TopicIngestEmbed},
		{"unknown", "", config.TopicIngestBook},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &stubPublisher{}
			repo := &stubRepo{Handler: tt.handler}
			service := NewService(repo, pub, nil)

			topic, err := service.Retry(context.Background(), 7)
			require.NoError(t, err)
			assert.Equal(t, tt.topic, topic)
			assert.Equal(t, tt.topic, pub.LastTopic)
			assert.JSONEq(t, `{"document_id":3}`, string(pub.LastBody))
			assert.Equal(t, []int64{7}, repo.Deleted)
		})
	}
}

func TestRetry_NotFound(t *testing.T) {
	pub := &stubPublisher{}
	service := NewService(&stubRepo{Missing: true}, pub, nil)

	_, err := service.Retry(context.Background(), 7)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.Empty(t, pub.LastTopic)
}

func TestService_Discard(t *testing.T) {
	repo := &stubRepo{}
	service := NewService(repo, nil, nil)

	require.NoError(t, service.Discard(context.Background(), 5))
	assert.Equal(t, []int64{5}, repo.Deleted)

	assert.ErrorIs(t, NewService(&stubRepo{Missing: true}, nil, nil).Discard(context.Background(), 5), sql.ErrNoRows)
}

func TestService_CountAndList(t *testing.T) {
	repo := &stubRepo{}
	service := NewService(repo, nil, nil)

	count, err := service.Count(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 10, count)

	jobs, err := service.List(context.Background(), Filter{DocumentID: 4})
	assert.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Equal(t, int64(4), repo.LastFilter.DocumentID)
}
