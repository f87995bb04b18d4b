package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const publishTimeout = 5 * time.Second

var ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo    Repository
	pub     EventPublisher
	logger  *slog.Logger
	timeout time.Duration
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger, timeout: publishTimeout}
}

func (s *Service) Save(ctx context.Context, j *Job) error {
	return s.repo.Save(ctx, j)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Job, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// Retry republishes the stored payload on the topic of the handler that failed
// and forgets the job. It returns the topic used.
func (s *Service) Retry(ctx context.Context, id int64) (string, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	topic := j.Topic()

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(topic, j.Payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("publish retry: %w", err)
		}
	case <-time.After(s.timeout):
		return "", ErrPublishTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}

	s.logger.InfoContext(ctx, "job republished", "job_id", id, "topic", topic, "document_id", j.DocumentID)
	if err := s.repo.Delete(ctx, id); err != nil {
		return "", err
	}
	return topic, nil
}

// Discard drops a failed job without running it again.
func (s *Service) Discard(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "job discarded", "job_id", id)
	return nil
}
