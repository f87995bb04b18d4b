package app

import (
	"context"

	"bookscroll/internal/ingest"
)

// MockVectorStore is a no-op VectorStore whose EnsureSchema returns EnsureSchemaErr.
type MockVectorStore struct {
	EnsureSchemaErr error
	Count           int
}

func (m *MockVectorStore) EnsureSchema(ctx context.Context) error {
	return m.EnsureSchemaErr
}

func (m *MockVectorStore) StoreVector(ctx context.Context, v ingest.SnippetVector) error {
	return nil
}

func (m *MockVectorStore) DeleteByDocument(ctx context.Context, documentID int64) error {
	return nil
}

func (m *MockVectorStore) NearVector(ctx context.Context, vec []float32, documentID int64, limit int) (map[int64]float64, error) {
	return map[int64]float64{}, nil
}

func (m *MockVectorStore) CountVectors(ctx context.Context) (int, error) {
	return m.Count, nil
}
