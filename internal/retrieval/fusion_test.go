package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuse_WeightedBlend(t *testing.T) {
	semantic := map[int64]float64{1: 0.9, 2: 0.1}
	lexical := map[int64]float64{1: 0.1, 2: 0.9}

	got := Fuse(semantic, lexical, 0.7, 0)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.InDelta(t, 0.66, got[0].Score, 1e-9)
	assert.Equal(t, int64(2), got[1].ID)
	assert.InDelta(t, 0.34, got[1].Score, 1e-9)
}

func TestFuse_MissingSignalCountsAsZero(t *testing.T) {
	got := Fuse(map[int64]float64{1: 0.8}, map[int64]float64{2: 0.5}, 0.5, 0)
	require.Len(t, got, 2)
	assert.Equal(t, Ranked{ID: 1, Score: 0.4, Semantic: 0.8}, got[0])
	assert.Equal(t, Ranked{ID: 2, Score: 0.25, Lexical: 0.5}, got[1])
}

func TestFuse_ExcludesOnlyWhenBothZero(t *testing.T) {
	semantic := map[int64]float64{1: 0, 2: 0.3}
	lexical := map[int64]float64{1: 0, 3: 0.2}

	got := Fuse(semantic, lexical, 1, 0)
	ids := make([]int64, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	// id 3 has a lexical score, so it stays even though its weight is zero
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestFuse_TiesBreakByID(t *testing.T) {
	lexical := map[int64]float64{9: 0.5, 4: 0.5, 7: 0.5}
	got := Fuse(nil, lexical, 0.3, 0)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{4, 7, 9}, []int64{got[0].ID, got[1].ID, got[2].ID})
}

func TestFuse_Limit(t *testing.T) {
	lexical := map[int64]float64{1: 0.1, 2: 0.2, 3: 0.3}
	got := Fuse(nil, lexical, 0, 2)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(2), got[1].ID)
}

func TestFuse_Empty(t *testing.T) {
	assert.Empty(t, Fuse(nil, nil, 0.7, 10))
}
