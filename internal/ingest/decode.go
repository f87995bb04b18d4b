package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
)

type wireResult struct {
	SnippetText *string   `json:"snippetText"`
	Context     *string   `json:"context"`
	Themes      *[]string `json:"themes"`
	TaggedSpan  *string   `json:"originalTextWithIndices"`
}

// DecodeExtractionResponse validates a provider response of the form
// {"snippets":[...]}. Any violation rejects the whole response.
func DecodeExtractionResponse(raw []byte) ([]ExtractionResult, error) {
	var env struct {
		Snippets *[]wireResult `json:"snippets"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedExtraction, err)
	}
	if env.Snippets == nil {
		return nil, fmt.Errorf("%w: missing snippets array", ErrMalformedExtraction)
	}

	results := make([]ExtractionResult, 0, len(*env.Snippets))
	for i, w := range *env.Snippets {
		switch {
		case w.SnippetText == nil || strings.TrimSpace(*w.SnippetText) == "":
			return nil, fmt.Errorf("%w: snippet %d has no snippetText", ErrMalformedExtraction, i)
		case w.Context == nil:
			return nil, fmt.Errorf("%w: snippet %d has no context", ErrMalformedExtraction, i)
		case w.Themes == nil:
			return nil, fmt.Errorf("%w: snippet %d has no themes", ErrMalformedExtraction, i)
		case w.TaggedSpan == nil:
			return nil, fmt.Errorf("%w: snippet %d has no originalTextWithIndices", ErrMalformedExtraction, i)
		}
		results = append(results, ExtractionResult{
			SnippetText: strings.TrimSpace(*w.SnippetText),
			Context:     strings.TrimSpace(*w.Context),
			Themes:      *w.Themes,
			TaggedSpan:  *w.TaggedSpan,
		})
	}
	return results, nil
}
