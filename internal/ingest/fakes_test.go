package ingest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"bookscroll/features/job"
	"bookscroll/features/snippet"
)

// recordingTracker keeps every accepted percentage so tests can check ordering.
type recordingTracker struct {
	mu       sync.Mutex
	current  map[int64]float64
	history  []float64
	started  int
	finished int
}

func newRecordingTracker() *recordingTracker {
	return &recordingTracker{current: make(map[int64]float64)}
}

func (t *recordingTracker) Start(_ context.Context, id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current[id] = 0
	t.started++
	return nil
}

func (t *recordingTracker) Advance(_ context.Context, id int64, pct float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pct > t.current[id] {
		t.current[id] = pct
	}
	t.history = append(t.history, t.current[id])
	return nil
}

func (t *recordingTracker) Get(_ context.Context, id int64) (float64, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.current[id]
	return v, ok, nil
}

func (t *recordingTracker) Finish(context.Context, int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished++
	return nil
}

func (t *recordingTracker) values() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float64(nil), t.history...)
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(chunkText string) ([]ExtractionResult, error)
}

func (f *fakeExtractor) Extract(_ context.Context, _, chunkText string) ([]ExtractionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(chunkText)
}

type fakeEmbedder struct {
	fail map[string]bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail[text] {
		return nil, errors.New("embedding provider unavailable")
	}
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeEmbedder) Model() string { return "test-embedding" }

type fakeSource struct {
	book *Book
	err  error
}

func (f *fakeSource) Open(context.Context, string) (*Book, error) {
	return f.book, f.err
}

type statusUpdate struct {
	status string
	msg    string
}

type fakeDocuments struct {
	mu        sync.Mutex
	title     string
	author    string
	sentences map[int]string
	statuses  []statusUpdate
}

func (f *fakeDocuments) SaveContent(_ context.Context, _ int64, title, author string, sentences map[int]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.title, f.author, f.sentences = title, author, sentences
	return nil
}

func (f *fakeDocuments) UpdateStatus(_ context.Context, _ int64, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusUpdate{status, errMsg})
	return nil
}

type fakeSnippets struct {
	saved  []*snippet.Snippet
	marked map[string][]int64
	nextID int64
}

func (f *fakeSnippets) SaveForDocument(_ context.Context, documentID int64, snippets []*snippet.Snippet) error {
	for _, s := range snippets {
		f.nextID++
		s.ID = f.nextID
		s.DocumentID = documentID
	}
	kept := f.saved[:0]
	for _, s := range f.saved {
		if s.DocumentID != documentID {
			kept = append(kept, s)
		}
	}
	f.saved = append(kept, snippets...)
	return nil
}

func (f *fakeSnippets) MarkEmbedded(_ context.Context, ids []int64, model string) error {
	if f.marked == nil {
		f.marked = make(map[string][]int64)
	}
	f.marked[model] = append(f.marked[model], ids...)
	return nil
}

type fakeVectors struct {
	stored    []SnippetVector
	failID    int64
	deleteErr error
	deletes   int
}

func (f *fakeVectors) DeleteByDocument(_ context.Context, documentID int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes++
	kept := f.stored[:0]
	for _, v := range f.stored {
		if v.DocumentID != documentID {
			kept = append(kept, v)
		}
	}
	f.stored = kept
	return nil
}

func (f *fakeVectors) StoreVector(_ context.Context, v SnippetVector) error {
	if v.SnippetID == f.failID {
		return errors.New("vector store unavailable")
	}
	f.stored = append(f.stored, v)
	return nil
}

type fakeFailedJobs struct {
	jobs []*job.Job
}

func (f *fakeFailedJobs) Save(_ context.Context, j *job.Job) error {
	f.jobs = append(f.jobs, j)
	return nil
}

// captureLogs redirects the default logger for the duration of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func para(words ...string) string {
	return "<p>" + strings.Join(words, " ") + "</p>"
}
