package ingest

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"bookscroll/internal/progress"
	"bookscroll/internal/text"
)

const DefaultExtractionConcurrency = 15

// Orchestrator fans chunks out to the extraction provider.
type Orchestrator struct {
	extractor    Extractor
	tracker      progress.Tracker
	instructions string
	concurrency  int
}

func NewOrchestrator(e Extractor, tracker progress.Tracker, concurrency int) *Orchestrator {
	if concurrency < 1 {
		concurrency = DefaultExtractionConcurrency
	}
	return &Orchestrator{
		extractor:    e,
		tracker:      tracker,
		instructions: ExtractionInstructions,
		concurrency:  concurrency,
	}
}

// Run extracts every chunk with at most concurrency calls in flight.
// A failed chunk contributes no results and does not stop its siblings.
// Results come back in completion order.
func (o *Orchestrator) Run(ctx context.Context, jobID int64, chunks []text.Chunk) []ExtractionResult {
	var (
		mu      sync.Mutex
		results []ExtractionResult
		done    int
	)
	total := len(chunks)

	var g errgroup.Group
	g.SetLimit(o.concurrency)

	for i, chunk := range chunks {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			out, err := o.extractor.Extract(ctx, o.instructions, chunk.Text)
			if err != nil {
				slog.WarnContext(ctx, "chunk extraction failed", "error", err, "chunk", i, "start", chunk.Start(), "end", chunk.End())
				out = nil
			}

			mu.Lock()
			defer mu.Unlock()
			results = append(results, out...)
			done++
			pct := progress.ExtractionPercent(done, total)
			if err := o.tracker.Advance(ctx, jobID, pct); err != nil {
				slog.WarnContext(ctx, "failed to advance progress", "error", err, "progress", pct)
			}
			slog.DebugContext(ctx, "chunk extracted", "chunk", i, "snippets", len(out), "done", done, "total", total)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
