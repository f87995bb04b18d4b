package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookscroll/features/document"
	"bookscroll/features/job"
	"bookscroll/internal/progress"
	"bookscroll/internal/text"
)

type pipelineFixture struct {
	source    *fakeSource
	extractor *fakeExtractor
	documents *fakeDocuments
	snippets  *fakeSnippets
	vectors   *fakeVectors
	failed    *fakeFailedJobs
	tracker   *recordingTracker
	removed   []string
	pipeline  *Pipeline
}

func newPipelineFixture(book *Book, classifier Classifier) *pipelineFixture {
	f := &pipelineFixture{
		source:    &fakeSource{book: book},
		documents: &fakeDocuments{},
		snippets:  &fakeSnippets{},
		vectors:   &fakeVectors{},
		failed:    &fakeFailedJobs{},
		tracker:   newRecordingTracker(),
		extractor: &fakeExtractor{fn: func(chunk string) ([]ExtractionResult, error) {
			var out []ExtractionResult
			if strings.Contains(chunk, "<3>") {
				out = append(out, ExtractionResult{
					SnippetText: "Indices keep running across sections.",
					Context:     "Segmentation",
					Themes:      []string{"Structure"},
					TaggedSpan:  "<3>echo that differs</3> <2>another echo</2>",
				})
			}
			out = append(out, ExtractionResult{SnippetText: "Untagged but kept.", TaggedSpan: "no tags"})
			return out, nil
		}},
	}
	f.pipeline = NewPipeline(Deps{
		Source:       f.source,
		Filter:       NewSectionFilter(classifier, DefaultErrorPolicy),
		Segmenter:    text.NewSegmenter(5),
		ChunkWindow:  20,
		Orchestrator: NewOrchestrator(f.extractor, f.tracker, 4),
		Generator:    NewGenerator(&fakeEmbedder{}, f.tracker, 4),
		Documents:    f.documents,
		Snippets:     f.snippets,
		Vectors:      f.vectors,
		FailedJobs:   f.failed,
		Tracker:      f.tracker,
		RemoveFile: func(path string) error {
			f.removed = append(f.removed, path)
			return nil
		},
	})
	return f
}

func sampleBook() *Book {
	return &Book{
		Title:  "A Tale",
		Author: "Someone",
		Sections: []Section{
			{ID: "toc", Raw: "<p>Contents</p>"},
			{ID: "ch1", Raw: para("The quick brown fox jumps over the lazy dog.") + para("A second sentence that is long enough here.")},
			{ID: "ch2", Raw: para("Third sentence continues the running index nicely.")},
		},
	}
}

func TestPipeline_Run_Completes(t *testing.T) {
	f := newPipelineFixture(sampleBook(), HeuristicClassifier{})
	j := Job{DocumentID: 11, Path: "/uploads/tale.epub"}

	require.NoError(t, f.pipeline.Run(context.Background(), j))

	// Sentence map is numbered across sections, skipping the rejected one.
	assert.Equal(t, "A Tale", f.documents.title)
	assert.Equal(t, map[int]string{
		1: "The quick brown fox jumps over the lazy dog.",
		2: "A second sentence that is long enough here.",
		3: "Third sentence continues the running index nicely.",
	}, f.documents.sentences)

	require.Len(t, f.snippets.saved, 2)
	var ranged, fallback = f.snippets.saved[0], f.snippets.saved[1]
	if ranged.StartIndex == 1 {
		ranged, fallback = fallback, ranged
	}
	assert.Equal(t, 2, ranged.StartIndex)
	assert.Equal(t, 3, ranged.EndIndex)
	assert.Equal(t, "A second sentence that is long enough here. Third sentence continues the running index nicely.", ranged.SentenceText)
	assert.Equal(t, []string{"structure"}, ranged.Themes)
	assert.Equal(t, 1, fallback.StartIndex)

	assert.Len(t, f.vectors.stored, 2)
	assert.ElementsMatch(t, []int64{1, 2}, f.snippets.marked["test-embedding"])

	require.NotEmpty(t, f.documents.statuses)
	assert.Equal(t, document.StatusCompleted, f.documents.statuses[len(f.documents.statuses)-1].status)
	assert.Equal(t, []string{"/uploads/tale.epub"}, f.removed)
	assert.Empty(t, f.failed.jobs)
	assert.Equal(t, 1, f.tracker.finished)
}

func TestPipeline_Run_ProgressReachesCompleteOnceAtTheEnd(t *testing.T) {
	f := newPipelineFixture(sampleBook(), nil)

	require.NoError(t, f.pipeline.Run(context.Background(), Job{DocumentID: 1, Path: "p"}))

	values := f.tracker.values()
	require.NotEmpty(t, values)
	completes := 0
	for i, v := range values {
		if i > 0 {
			assert.GreaterOrEqual(t, v, values[i-1])
		}
		if v == progress.Complete {
			completes++
		}
	}
	assert.Equal(t, 1, completes)
	assert.Equal(t, progress.Complete, values[len(values)-1])
}

func TestPipeline_Run_VectorFailureKeepsSnippet(t *testing.T) {
	f := newPipelineFixture(sampleBook(), nil)
	f.vectors.failID = 1

	require.NoError(t, f.pipeline.Run(context.Background(), Job{DocumentID: 1, Path: "p"}))

	assert.Len(t, f.snippets.saved, 2)
	assert.Equal(t, []int64{2}, f.snippets.marked["test-embedding"])
}

func TestPipeline_Run_EmptyDocument(t *testing.T) {
	books := map[string]*Book{
		"NoSections":    {Title: "Empty"},
		"OnlyRejected":  {Sections: []Section{{ID: "cover", Raw: "<p>Cover</p>"}, {ID: "copyright", Raw: "<p>All rights reserved</p>"}}},
		"BlankSections": {Sections: []Section{{ID: "ch1", Raw: "<p>   </p>"}}},
	}

	for name, book := range books {
		t.Run(name, func(t *testing.T) {
			f := newPipelineFixture(book, HeuristicClassifier{})
			j := Job{DocumentID: 5, Path: "/uploads/empty.epub"}

			err := f.pipeline.Run(context.Background(), j)
			assert.ErrorIs(t, err, ErrEmptyDocument)
			assert.Zero(t, f.extractor.calls)

			require.Len(t, f.documents.statuses, 2)
			assert.Equal(t, document.StatusProcessing, f.documents.statuses[0].status)
			assert.Equal(t, document.StatusFailed, f.documents.statuses[1].status)
			assert.NotEmpty(t, f.documents.statuses[1].msg)

			require.Len(t, f.failed.jobs, 1)
			assert.Equal(t, job.HandlerIngestBook, f.failed.jobs[0].Handler)
			var payload Job
			require.NoError(t, json.Unmarshal(f.failed.jobs[0].Payload, &payload))
			assert.Equal(t, j, payload)

			assert.Empty(t, f.removed)
			assert.Equal(t, 1, f.tracker.finished)
		})
	}
}

func TestPipeline_Run_SourceError(t *testing.T) {
	f := newPipelineFixture(nil, nil)
	f.source.err = errors.New("not a zip file")

	err := f.pipeline.Run(context.Background(), Job{DocumentID: 2, Path: "bad.epub"})
	assert.Error(t, err)
	require.Len(t, f.failed.jobs, 1)
	assert.Contains(t, f.failed.jobs[0].Error, "not a zip file")
}

func TestPipeline_Run_CancelledLeavesProcessing(t *testing.T) {
	f := newPipelineFixture(sampleBook(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.extractor.fn = func(string) ([]ExtractionResult, error) {
		cancel()
		return nil, context.Canceled
	}

	err := f.pipeline.Run(ctx, Job{DocumentID: 3, Path: "p"})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, f.documents.statuses, 1)
	assert.Equal(t, document.StatusProcessing, f.documents.statuses[0].status)
	assert.Empty(t, f.failed.jobs)
	assert.Empty(t, f.snippets.saved)
}

func TestPipeline_Run_RerunReplacesSnippetsAndVectors(t *testing.T) {
	f := newPipelineFixture(sampleBook(), HeuristicClassifier{})
	j := Job{DocumentID: 11, Path: "/uploads/tale.epub"}

	require.NoError(t, f.pipeline.Run(context.Background(), j))
	require.NoError(t, f.pipeline.Run(context.Background(), j))

	require.Len(t, f.snippets.saved, 2)
	require.Len(t, f.vectors.stored, 2)
	assert.Equal(t, 2, f.vectors.deletes)

	var ids []int64
	for _, s := range f.snippets.saved {
		ids = append(ids, s.ID)
	}
	for _, v := range f.vectors.stored {
		assert.Contains(t, ids, v.SnippetID)
		assert.Equal(t, int64(11), v.DocumentID)
	}
}

func TestPipeline_Run_VectorClearFailureFailsDocument(t *testing.T) {
	f := newPipelineFixture(sampleBook(), nil)
	f.vectors.deleteErr = errors.New("weaviate unavailable")

	err := f.pipeline.Run(context.Background(), Job{DocumentID: 4, Path: "p"})
	assert.ErrorContains(t, err, "clear vectors")
	assert.Empty(t, f.snippets.saved)
	require.Len(t, f.failed.jobs, 1)
	assert.Equal(t, document.StatusFailed, f.documents.statuses[len(f.documents.statuses)-1].status)
}
