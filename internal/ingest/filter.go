package ingest

import (
	"context"
	"log/slog"

	"bookscroll/internal/text"
)

// ErrorPolicy decides what happens to a section when the classifier fails.
type ErrorPolicy int

const (
	AcceptOnError ErrorPolicy = iota
	RejectOnError
)

// DefaultErrorPolicy keeps the section, so an unreachable classifier degrades
// to segmenting the whole book.
const DefaultErrorPolicy = AcceptOnError

type SectionFilter struct {
	classifier Classifier
	policy     ErrorPolicy
}

// NewSectionFilter returns a filter backed by c. A nil classifier accepts everything.
func NewSectionFilter(c Classifier, policy ErrorPolicy) *SectionFilter {
	return &SectionFilter{classifier: c, policy: policy}
}

func (f *SectionFilter) Accept(ctx context.Context, sec Section) bool {
	if f == nil || f.classifier == nil {
		return true
	}
	reject, err := f.classifier.Reject(ctx, sec)
	if err != nil {
		accept := f.policy == AcceptOnError
		slog.WarnContext(ctx, "section classifier failed", "error", err, "section", sec.ID, "accepted", accept)
		return accept
	}
	if reject {
		slog.InfoContext(ctx, "section rejected", "section", sec.ID)
	}
	return !reject
}

// HeuristicClassifier rejects sections by identifier and content shape, without a provider.
type HeuristicClassifier struct{}

func (HeuristicClassifier) Reject(_ context.Context, sec Section) (bool, error) {
	return text.IsBoilerplateSection(sec.ID, text.PlainText(sec.Raw)), nil
}
