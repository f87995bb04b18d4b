// Package progress tracks per-job completion percentages for the extraction pipeline.
//
// A job's percentage never decreases. Extraction owns [0, ExtractionCeiling],
// embedding owns (ExtractionCeiling, EmbeddingCeiling] and the final point is
// only granted once the snippets are durably stored.
package progress

import (
	"context"
	"math"
	"time"
)

const (
	ExtractionWeight  = 0.95
	ExtractionCeiling = 95.0
	EmbeddingCeiling  = 99.0
	Complete          = 100.0
)

// DefaultRetention is how long a finished job stays queryable.
const DefaultRetention = time.Hour

type Tracker interface {
	// Start registers the job at 0%. Restarting a job resets it.
	Start(ctx context.Context, jobID int64) error
	// Advance raises the job to pct. Lower values are ignored.
	Advance(ctx context.Context, jobID int64, pct float64) error
	Get(ctx context.Context, jobID int64) (float64, bool, error)
	// Finish keeps the final value around for the retention period, then forgets it.
	Finish(ctx context.Context, jobID int64) error
}

// ExtractionPercent maps finished extraction calls onto the extraction share.
func ExtractionPercent(done, total int) float64 {
	if total <= 0 {
		return ExtractionCeiling
	}
	return math.Round(100 * float64(done) / float64(total) * ExtractionWeight)
}

// EmbeddingPercent maps finished embedding calls onto the embedding share.
func EmbeddingPercent(done, total int) float64 {
	if total <= 0 {
		return EmbeddingCeiling
	}
	return ExtractionCeiling + math.Round((EmbeddingCeiling-ExtractionCeiling)*float64(done)/float64(total))
}

func clamp(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > Complete {
		return Complete
	}
	return pct
}
