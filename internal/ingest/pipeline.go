package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"bookscroll/features/document"
	"bookscroll/features/job"
	"bookscroll/features/snippet"
	"bookscroll/internal/logger"
	"bookscroll/internal/progress"
	"bookscroll/internal/text"
)

// Deps wires a Pipeline. Filter may be nil to segment every section.
type Deps struct {
	Source       Source
	Filter       *SectionFilter
	Segmenter    *text.Segmenter
	ChunkWindow  int
	Orchestrator *Orchestrator
	Generator    *Generator
	Documents    DocumentStore
	Snippets     SnippetStore
	Vectors      VectorStore
	FailedJobs   FailedJobRecorder
	Tracker      progress.Tracker
	// RemoveFile deletes the uploaded file once the document is completed. Defaults to os.Remove.
	RemoveFile func(path string) error
}

type Pipeline struct {
	Deps
}

func NewPipeline(d Deps) *Pipeline {
	if d.Segmenter == nil {
		d.Segmenter = text.NewSegmenter(text.DefaultMinSentenceWords)
	}
	if d.ChunkWindow < 1 {
		d.ChunkWindow = text.DefaultChunkWindow
	}
	if d.RemoveFile == nil {
		d.RemoveFile = os.Remove
	}
	return &Pipeline{Deps: d}
}

// Run processes one uploaded book end to end.
//
// On a document-level failure the document is marked failed and the job is
// recorded for retry. A cancelled context leaves the document processing.
func (p *Pipeline) Run(ctx context.Context, j Job) error {
	ctx = logger.WithDocumentID(ctx, j.DocumentID)
	slog.InfoContext(ctx, "pipeline started", "path", j.Path)

	if err := p.Tracker.Start(ctx, j.DocumentID); err != nil {
		slog.WarnContext(ctx, "failed to start progress", "error", err)
	}
	// A retried job starts over from processing.
	if err := p.Documents.UpdateStatus(ctx, j.DocumentID, document.StatusProcessing, ""); err != nil {
		slog.WarnContext(ctx, "failed to mark document processing", "error", err)
	}

	err := p.process(ctx, j)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		slog.WarnContext(ctx, "pipeline interrupted, document left processing", "error", err)
		return err
	}

	p.fail(ctx, j, err)
	return err
}

func (p *Pipeline) process(ctx context.Context, j Job) error {
	book, err := p.Source.Open(ctx, j.Path)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	if len(book.Sections) == 0 {
		return ErrEmptyDocument
	}

	units, sentences := p.segment(ctx, book)
	if len(units) == 0 {
		return ErrEmptyDocument
	}
	slog.InfoContext(ctx, "document segmented", "sections", len(book.Sections), "sentences", len(units))

	if err := p.Documents.SaveContent(ctx, j.DocumentID, book.Title, book.Author, sentences); err != nil {
		return fmt.Errorf("save content: %w", err)
	}

	chunks := text.Batch(units, p.ChunkWindow)
	results := p.Orchestrator.Run(ctx, j.DocumentID, chunks)
	if err := ctx.Err(); err != nil {
		return err
	}

	snippets := NewReconciler(j.DocumentID, sentences).ReconcileAll(ctx, results)
	slog.InfoContext(ctx, "extraction reconciled", "chunks", len(chunks), "results", len(results), "snippets", len(snippets))

	p.Generator.Run(ctx, j.DocumentID, snippets)
	if err := ctx.Err(); err != nil {
		return err
	}

	// A redelivered or retried job replaces whatever an earlier run stored.
	if err := p.Vectors.DeleteByDocument(ctx, j.DocumentID); err != nil {
		return fmt.Errorf("clear vectors: %w", err)
	}
	if err := p.Snippets.SaveForDocument(ctx, j.DocumentID, snippets); err != nil {
		return fmt.Errorf("save snippets: %w", err)
	}
	p.storeVectors(ctx, j.DocumentID, snippets)

	if err := p.Documents.UpdateStatus(ctx, j.DocumentID, document.StatusCompleted, ""); err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	if err := p.Tracker.Advance(ctx, j.DocumentID, progress.Complete); err != nil {
		slog.WarnContext(ctx, "failed to advance progress", "error", err)
	}
	if err := p.Tracker.Finish(ctx, j.DocumentID); err != nil {
		slog.WarnContext(ctx, "failed to finish progress", "error", err)
	}
	if err := p.RemoveFile(j.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.WarnContext(ctx, "failed to remove uploaded file", "error", err, "path", j.Path)
	}

	slog.InfoContext(ctx, "pipeline completed", "snippets", len(snippets))
	return nil
}

// segment filters sections and numbers their sentence units with one running index.
func (p *Pipeline) segment(ctx context.Context, book *Book) ([]text.SentenceUnit, map[int]string) {
	var units []text.SentenceUnit
	sentences := make(map[int]string)
	next := 1

	for _, sec := range book.Sections {
		if !p.Filter.Accept(ctx, sec) {
			continue
		}
		out, n, err := p.Segmenter.Segment(sec.Raw, next)
		if err != nil {
			slog.WarnContext(ctx, "failed to segment section, skipping", "error", err, "section", sec.ID)
			continue
		}
		next = n
		for _, u := range out {
			sentences[u.Index] = u.Text
		}
		units = append(units, out...)
	}
	return units, sentences
}

// storeVectors writes every available vector and marks the stored snippets.
// A failed write leaves that snippet without a vector.
func (p *Pipeline) storeVectors(ctx context.Context, documentID int64, snippets []*snippet.Snippet) {
	stored := make(map[string][]int64)
	for _, sn := range snippets {
		if sn.Vector == nil {
			continue
		}
		err := p.Vectors.StoreVector(ctx, SnippetVector{
			SnippetID:  sn.ID,
			DocumentID: documentID,
			Model:      sn.EmbeddingModel,
			Vector:     sn.Vector,
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to store vector", "error", err, "snippet_id", sn.ID)
			sn.EmbeddingModel = ""
			continue
		}
		stored[sn.EmbeddingModel] = append(stored[sn.EmbeddingModel], sn.ID)
	}

	for model, ids := range stored {
		if err := p.Snippets.MarkEmbedded(ctx, ids, model); err != nil {
			slog.WarnContext(ctx, "failed to mark snippets embedded", "error", err, "count", len(ids))
		}
	}
}

func (p *Pipeline) fail(ctx context.Context, j Job, cause error) {
	slog.ErrorContext(ctx, "pipeline failed", "error", cause)

	if err := p.Documents.UpdateStatus(ctx, j.DocumentID, document.StatusFailed, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "failed to mark document failed", "error", err)
	}
	if err := p.Tracker.Finish(ctx, j.DocumentID); err != nil {
		slog.WarnContext(ctx, "failed to finish progress", "error", err)
	}

	if p.FailedJobs == nil {
		return
	}
	payload, _ := json.Marshal(j)
	failed := &job.Job{
		DocumentID: j.DocumentID,
		Handler:    job.HandlerIngestBook,
		Payload:    payload,
		Error:      cause.Error(),
	}
	if err := p.FailedJobs.Save(ctx, failed); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", err)
	} else {
		slog.InfoContext(ctx, "saved failed job for retry", "job_id", failed.ID)
	}
}
