// Package ingest turns an uploaded book into stored, embedded snippets.
//
// The pipeline is strictly phased per document: sections are filtered and
// segmented into indexed sentence units, batched into chunks, sent to the
// extraction provider with bounded concurrency, reconciled against the
// document's sentence map, embedded with bounded concurrency and persisted.
package ingest

import (
	"context"

	"bookscroll/features/job"
	"bookscroll/features/snippet"
)

// Section is one spine item of a book, still in markup form.
type Section struct {
	ID    string
	Title string
	Raw   string
}

type Book struct {
	Title    string
	Author   string
	Sections []Section
}

// Job identifies one pipeline run. DocumentID doubles as the progress key.
type Job struct {
	DocumentID int64  `json:"document_id"`
	Path       string `json:"path"`
}

// ExtractionResult is one snippet proposed by the extraction provider.
// TaggedSpan echoes the source sentences with their index tags and is only
// used to locate the snippet, never as stored text.
type ExtractionResult struct {
	SnippetText string   `json:"snippetText"`
	Context     string   `json:"context"`
	Themes      []string `json:"themes"`
	TaggedSpan  string   `json:"originalTextWithIndices"`
}

type Source interface {
	Open(ctx context.Context, path string) (*Book, error)
}

// Classifier decides whether a section is front/back matter.
type Classifier interface {
	Reject(ctx context.Context, sec Section) (bool, error)
}

type Extractor interface {
	Extract(ctx context.Context, instructions, chunkText string) ([]ExtractionResult, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

type DocumentStore interface {
	SaveContent(ctx context.Context, id int64, title, author string, sentences map[int]string) error
	UpdateStatus(ctx context.Context, id int64, status, errMsg string) error
}

type SnippetStore interface {
	SaveForDocument(ctx context.Context, documentID int64, snippets []*snippet.Snippet) error
	MarkEmbedded(ctx context.Context, ids []int64, model string) error
}

type SnippetVector struct {
	SnippetID  int64
	DocumentID int64
	Model      string
	Vector     []float32
}

type VectorStore interface {
	StoreVector(ctx context.Context, v SnippetVector) error
	DeleteByDocument(ctx context.Context, documentID int64) error
}

type FailedJobRecorder interface {
	Save(ctx context.Context, j *job.Job) error
}
