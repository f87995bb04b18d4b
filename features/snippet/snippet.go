package snippet

import (
	"strings"
	"time"
)

// textToSearchWords is how many leading words of the source passage are used
// to locate a snippet inside the reader.
const textToSearchWords = 8

type Snippet struct {
	ID             int64     `json:"id"`
	DocumentID     int64     `json:"document_id"`
	StartIndex     int       `json:"start_index"`
	EndIndex       int       `json:"end_index"`
	SnippetText    string    `json:"snippet_text"`
	Context        string    `json:"context"`
	Themes         []string  `json:"themes"`
	SentenceText   string    `json:"sentence_text"`
	Vector         []float32 `json:"-"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Item is a snippet as served by the feed and search endpoints.
type Item struct {
	Snippet
	DocumentTitle  string  `json:"document_title"`
	DocumentAuthor string  `json:"document_author"`
	TextToSearch   string  `json:"text_to_search"`
	Score          float64 `json:"score,omitempty"`
}

// Scope narrows feed and search queries. The zero value is global.
type Scope struct {
	DocumentID int64
	Theme      string
}

func TextToSearch(sentenceText string) string {
	words := strings.Fields(sentenceText)
	if len(words) > textToSearchWords {
		words = words[:textToSearchWords]
	}
	return strings.Join(words, " ")
}

// NormalizeThemes lower-cases and trims themes, dropping blanks and duplicates.
func NormalizeThemes(themes []string) []string {
	seen := make(map[string]bool, len(themes))
	out := make([]string, 0, len(themes))
	for _, t := range themes {
		t = strings.ToLower(strings.Join(strings.Fields(t), " "))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
