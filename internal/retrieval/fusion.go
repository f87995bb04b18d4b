package retrieval

import "sort"

// Ranked is one fused search hit with the signals it was built from.
type Ranked struct {
	ID       int64
	Score    float64
	Semantic float64
	Lexical  float64
}

// Fuse blends semantic and lexical scores as w*semantic + (1-w)*lexical.
// A missing signal counts as zero and an item is dropped only when both are
// zero. Results are sorted by score descending, then id ascending, and cut to
// limit when limit is positive.
func Fuse(semantic, lexical map[int64]float64, w float64, limit int) []Ranked {
	ids := make(map[int64]struct{}, len(semantic)+len(lexical))
	for id := range semantic {
		ids[id] = struct{}{}
	}
	for id := range lexical {
		ids[id] = struct{}{}
	}

	out := make([]Ranked, 0, len(ids))
	for id := range ids {
		sem, lex := semantic[id], lexical[id]
		if sem == 0 && lex == 0 {
			continue
		}
		out = append(out, Ranked{
			ID:       id,
			Score:    w*sem + (1-w)*lex,
			Semantic: sem,
			Lexical:  lex,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
