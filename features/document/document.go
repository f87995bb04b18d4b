package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bookscroll/features/snippet"
	"bookscroll/internal/config"
	"bookscroll/internal/middleware"
	"bookscroll/internal/progress"
)

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var (
	ErrDuplicate    = errors.New("duplicate document")
	ErrNotFound     = errors.New("document not found")
	ErrInvalidRange = errors.New("no sentences in range")
)

type Document struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	FilePath    string    `json:"-"`
	ContentHash string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Repository interface {
	Save(ctx context.Context, doc *Document) error
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	Get(ctx context.Context, id int64) (*Document, error)
	List(ctx context.Context) ([]Document, error)
	GetSentences(ctx context.Context, id int64) (map[int]string, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

type VectorStore interface {
	DeleteByDocument(ctx context.Context, documentID int64) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type ProgressReader interface {
	Get(ctx context.Context, jobID int64) (float64, bool, error)
}

type SnippetLister interface {
	ListUnembedded(ctx context.Context, documentID int64) ([]snippet.Snippet, error)
}

type Service struct {
	repo     Repository
	pub      EventPublisher
	vectors  VectorStore
	progress ProgressReader
	snippets SnippetLister
}

func NewService(repo Repository, pub EventPublisher, vectors VectorStore, prog ProgressReader, snippets SnippetLister) *Service {
	return &Service{repo: repo, pub: pub, vectors: vectors, progress: prog, snippets: snippets}
}

// Upload registers a stored file and queues it for the extraction pipeline.
func (s *Service) Upload(ctx context.Context, path, hash string) (*Document, error) {
	exists, err := s.repo.ExistsByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicate
	}

	doc := &Document{
		Status:      StatusProcessing,
		FilePath:    path,
		ContentHash: hash,
	}
	if err := s.repo.Save(ctx, doc); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"document_id":    doc.ID,
		"path":           path,
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicIngestBook, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish ingest event", "error", err, "document_id", doc.ID)
	} else {
		slog.InfoContext(ctx, "published ingest event", "document_id", doc.ID)
	}

	return doc, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (s *Service) List(ctx context.Context) ([]Document, error) {
	return s.repo.List(ctx)
}

// Delete removes the document's vectors, then the document row. Snippets
// and theme links cascade in the database.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.vectors.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return s.repo.Delete(ctx, id)
}

type StatusView struct {
	Status             string  `json:"status"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

// Status reports the lifecycle state and, while the job is tracked, its progress.
func (s *Service) Status(ctx context.Context, id int64) (*StatusView, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &StatusView{Status: doc.Status}
	if doc.Status == StatusCompleted {
		view.ProgressPercentage = progress.Complete
		return view, nil
	}

	pct, ok, err := s.progress.Get(ctx, id)
	if err != nil {
		slog.WarnContext(ctx, "failed to read progress", "error", err, "document_id", id)
	} else if ok {
		view.ProgressPercentage = pct
	}
	return view, nil
}

type SentenceWindow struct {
	From             int    `json:"from"`
	To               int    `json:"to"`
	Text             string `json:"text"`
	PreviousSentence string `json:"previous_sentence"`
	NextSentence     string `json:"next_sentence"`
	Title            string `json:"title"`
	Author           string `json:"author"`
}

// Sentences returns the source text between two indices plus its neighbours.
// The bounds may be given in either order.
func (s *Service) Sentences(ctx context.Context, id int64, from, to int) (*SentenceWindow, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sentences, err := s.repo.GetSentences(ctx, id)
	if err != nil {
		return nil, err
	}

	if from > to {
		from, to = to, from
	}

	var parts []string
	for i := from; i <= to; i++ {
		if t, ok := sentences[i]; ok {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return nil, ErrInvalidRange
	}

	return &SentenceWindow{
		From:             from,
		To:               to,
		Text:             strings.Join(parts, " "),
		PreviousSentence: sentences[from-1],
		NextSentence:     sentences[to+1],
		Title:            doc.Title,
		Author:           doc.Author,
	}, nil
}

// Reembed queues every snippet of the document that has no stored vector.
func (s *Service) Reembed(ctx context.Context, id int64) (int, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return 0, err
	}
	pending, err := s.snippets.ListUnembedded(ctx, id)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, sn := range pending {
		payload, _ := json.Marshal(map[string]interface{}{
			"snippet_id":     sn.ID,
			"document_id":    sn.DocumentID,
			"text":           sn.SnippetText,
			"correlation_id": middleware.GetCorrelationID(ctx),
		})
		if err := s.pub.Publish(config.TopicIngestEmbed, payload); err != nil {
			return queued, fmt.Errorf("publish embed task: %w", err)
		}
		queued++
	}
	return queued, nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
