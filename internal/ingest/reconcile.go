package ingest

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"bookscroll/features/snippet"
	"bookscroll/internal/text"
)

// fallbackIndex is used when an extraction result carries no parsable index tag.
const fallbackIndex = 1

// Reconciler anchors extraction results to the document's sentence map.
type Reconciler struct {
	documentID int64
	sentences  map[int]string
	first      int
	last       int
}

func NewReconciler(documentID int64, sentences map[int]string) *Reconciler {
	r := &Reconciler{documentID: documentID, sentences: sentences}
	if len(sentences) > 0 {
		keys := make([]int, 0, len(sentences))
		for k := range sentences {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		r.first, r.last = keys[0], keys[len(keys)-1]
	}
	return r
}

// Reconcile resolves the sentence range of res and rebuilds its source text
// from the stored sentences. It reports false when the range holds no sentence.
func (r *Reconciler) Reconcile(ctx context.Context, res ExtractionResult) (*snippet.Snippet, bool) {
	start, end := fallbackIndex, fallbackIndex
	if parsed := text.ParseTaggedSpan(res.TaggedSpan); parsed.OK() {
		start, end = parsed.Bounds()
	} else {
		slog.ErrorContext(ctx, "no index tags in extraction result, anchoring to first sentence",
			"reason", parsed.Reason, "snippet", res.SnippetText)
	}

	if start > end {
		start, end = end, start
	}

	if len(r.sentences) == 0 {
		slog.WarnContext(ctx, "document has no sentences, extraction result dropped", "start", start, "end", end)
		return nil, false
	}
	if start < r.first || end > r.last {
		slog.WarnContext(ctx, "clamping extraction range", "start", start, "end", end, "first", r.first, "last", r.last)
		start = min(max(start, r.first), r.last)
		end = min(max(end, r.first), r.last)
	}

	var parts []string
	for i := start; i <= end; i++ {
		if s, ok := r.sentences[i]; ok {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		slog.WarnContext(ctx, "extraction range holds no sentences, dropped", "start", start, "end", end)
		return nil, false
	}

	return &snippet.Snippet{
		DocumentID:   r.documentID,
		StartIndex:   start,
		EndIndex:     end,
		SnippetText:  res.SnippetText,
		Context:      res.Context,
		Themes:       snippet.NormalizeThemes(res.Themes),
		SentenceText: strings.Join(parts, " "),
	}, true
}

// ReconcileAll reconciles every result, keeping only anchored snippets.
func (r *Reconciler) ReconcileAll(ctx context.Context, results []ExtractionResult) []*snippet.Snippet {
	out := make([]*snippet.Snippet, 0, len(results))
	for _, res := range results {
		if sn, ok := r.Reconcile(ctx, res); ok {
			out = append(out, sn)
		}
	}
	return out
}
