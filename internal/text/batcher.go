package text

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultChunkWindow is the number of sentence units sent to the extraction provider per call.
const DefaultChunkWindow = 20

// Chunk is a contiguous window of sentence units rendered with index tags.
type Chunk struct {
	Indices []int
	Text    string
}

func (c Chunk) Start() int {
	if len(c.Indices) == 0 {
		return 0
	}
	return c.Indices[0]
}

func (c Chunk) End() int {
	if len(c.Indices) == 0 {
		return 0
	}
	return c.Indices[len(c.Indices)-1]
}

// Batch partitions units into windows of at most window units, in index order.
// Every unit lands in exactly one chunk.
func Batch(units []SentenceUnit, window int) []Chunk {
	if window < 1 {
		window = DefaultChunkWindow
	}

	sorted := make([]SentenceUnit, len(units))
	copy(sorted, units)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	chunks := make([]Chunk, 0, (len(sorted)+window-1)/window)
	for start := 0; start < len(sorted); start += window {
		end := start + window
		if end > len(sorted) {
			end = len(sorted)
		}

		group := sorted[start:end]
		indices := make([]int, len(group))
		tagged := make([]string, len(group))
		for i, u := range group {
			indices[i] = u.Index
			tagged[i] = fmt.Sprintf("<%d>%s</%d>", u.Index, u.Text, u.Index)
		}
		chunks = append(chunks, Chunk{Indices: indices, Text: strings.Join(tagged, " ")})
	}
	return chunks
}
