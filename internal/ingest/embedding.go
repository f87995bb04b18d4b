package ingest

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"bookscroll/features/snippet"
	"bookscroll/internal/progress"
)

const DefaultEmbeddingConcurrency = 15

// Generator attaches an embedding vector to each snippet.
type Generator struct {
	embedder    Embedder
	tracker     progress.Tracker
	concurrency int
}

func NewGenerator(e Embedder, tracker progress.Tracker, concurrency int) *Generator {
	if concurrency < 1 {
		concurrency = DefaultEmbeddingConcurrency
	}
	return &Generator{embedder: e, tracker: tracker, concurrency: concurrency}
}

// Run embeds the snippets in place and returns how many received a vector.
// A snippet whose embedding fails is kept without one.
func (g *Generator) Run(ctx context.Context, jobID int64, snippets []*snippet.Snippet) int {
	total := len(snippets)
	if total == 0 {
		return 0
	}

	var (
		mu       sync.Mutex
		done     int
		embedded int
	)
	model := g.embedder.Model()

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)

	for _, sn := range snippets {
		eg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			vec, err := g.embedder.Embed(ctx, sn.SnippetText)
			if err != nil || len(vec) == 0 {
				slog.WarnContext(ctx, "snippet embedding failed, keeping snippet without vector",
					"error", err, "start", sn.StartIndex, "end", sn.EndIndex)
			} else {
				sn.Vector = vec
				sn.EmbeddingModel = model
			}

			mu.Lock()
			defer mu.Unlock()
			done++
			if sn.Vector != nil {
				embedded++
			}
			pct := progress.EmbeddingPercent(done, total)
			if err := g.tracker.Advance(ctx, jobID, pct); err != nil {
				slog.WarnContext(ctx, "failed to advance progress", "error", err, "progress", pct)
			}
			return nil
		})
	}
	_ = eg.Wait()

	slog.InfoContext(ctx, "embedding finished", "embedded", embedded, "total", total, "model", model)
	return embedded
}
