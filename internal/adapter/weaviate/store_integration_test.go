package weaviate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookscroll/internal/adapter/weaviate"
	"bookscroll/internal/ingest"
	"bookscroll/internal/testutils"
)

func TestWeaviateStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	store := weaviate.NewStore(s.Weaviate)
	ctx := context.Background()

	require.NoError(t, store.EnsureSchema(ctx))
	// second call only reconciles properties
	require.NoError(t, store.EnsureSchema(ctx))

	vectors := []ingest.SnippetVector{
		{SnippetID: 1, DocumentID: 10, Model: "m", Vector: []float32{1, 0, 0}},
		{SnippetID: 2, DocumentID: 10, Model: "m", Vector: []float32{0, 1, 0}},
		{SnippetID: 3, DocumentID: 11, Model: "m", Vector: []float32{1, 0.1, 0}},
	}
	for _, v := range vectors {
		require.NoError(t, store.StoreVector(ctx, v))
	}

	require.Eventually(t, func() bool {
		n, err := store.CountVectors(ctx)
		return err == nil && n == 3
	}, 10*time.Second, 200*time.Millisecond)

	scores, err := store.NearVector(ctx, []float32{1, 0, 0}, 0, 10)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, scores[1], 1e-3)
	assert.Greater(t, scores[3], scores[2])

	scoped, err := store.NearVector(ctx, []float32{1, 0, 0}, 11, 10)
	require.NoError(t, err)
	assert.Len(t, scoped, 1)
	assert.Contains(t, scoped, int64(3))

	require.NoError(t, store.DeleteByDocument(ctx, 10))
	require.Eventually(t, func() bool {
		n, err := store.CountVectors(ctx)
		return err == nil && n == 1
	}, 10*time.Second, 200*time.Millisecond)
}
