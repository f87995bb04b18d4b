package text

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMinSentenceWords is the word count a unit must exceed before it is sealed.
const DefaultMinSentenceWords = 5

// blockSelector lists the block-level elements whose text becomes sentence fragments.
const blockSelector = "p, li, blockquote, pre, h1, h2, h3, h4, h5, h6, div"

// SentenceUnit is the smallest addressable piece of a document.
// Index is 1-based and unique within the document.
type SentenceUnit struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type Segmenter struct {
	MinWords int
}

func NewSegmenter(minWords int) *Segmenter {
	if minWords < 1 {
		minWords = DefaultMinSentenceWords
	}
	return &Segmenter{MinWords: minWords}
}

// Segment turns section markup into sentence units numbered from next.
// The returned int is the next unused index, to be threaded into the following section.
func (s *Segmenter) Segment(raw string, next int) ([]SentenceUnit, int, error) {
	fragments, err := Fragments(raw)
	if err != nil {
		return nil, next, err
	}

	var units []SentenceUnit
	var parts []string
	words := 0

	seal := func() {
		units = append(units, SentenceUnit{Index: next, Text: strings.Join(parts, " ")})
		next++
		parts = parts[:0]
		words = 0
	}

	for _, f := range fragments {
		parts = append(parts, f)
		words += len(strings.Fields(f))
		if words > s.MinWords {
			seal()
		}
	}
	// A short tail is still a unit.
	if len(parts) > 0 {
		seal()
	}

	return units, next, nil
}

// Fragments returns the normalised text of every innermost block element in document order.
// Markup without any block element yields its whole text as a single fragment.
func Fragments(raw string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse section markup: %w", err)
	}

	var fragments []string
	doc.Find(blockSelector).Each(func(_ int, sel *goquery.Selection) {
		// Outer blocks are skipped so nested text is emitted once.
		if sel.Find(blockSelector).Length() > 0 {
			return
		}
		if frag := Normalize(sel.Text()); frag != "" {
			fragments = append(fragments, frag)
		}
	})

	if len(fragments) == 0 {
		if body := Normalize(doc.Find("body").Text()); body != "" {
			fragments = append(fragments, body)
		}
	}
	return fragments, nil
}

// PlainText flattens section markup into a single normalised string.
func PlainText(raw string) string {
	fragments, err := Fragments(raw)
	if err != nil {
		return ""
	}
	return strings.Join(fragments, " ")
}

// Normalize replaces control whitespace with spaces, collapses runs and trims.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
