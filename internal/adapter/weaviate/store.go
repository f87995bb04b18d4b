package weaviate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"bookscroll/internal/ingest"
	"bookscroll/internal/vector"
)

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) StoreVector(ctx context.Context, v ingest.SnippetVector) error {
	_, err := s.client.Data().Creator().
		WithClassName(vector.ClassName).
		WithProperties(map[string]interface{}{
			"snippetId":  v.SnippetID,
			"documentId": v.DocumentID,
			"model":      v.Model,
		}).
		WithVector(v.Vector).
		Do(ctx)
	return err
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID int64) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(documentFilter(documentID)).
		Do(ctx)
	return err
}

// NearVector returns cosine similarities keyed by snippet id for the closest
// stored vectors. A documentID of zero searches every document.
func (s *Store) NearVector(ctx context.Context, vec []float32, documentID int64, limit int) (map[int64]float64, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "snippetId"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	get := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(fields...)
	if documentID > 0 {
		get = get.WithWhere(documentFilter(documentID))
	}

	res, err := get.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	scores := make(map[int64]float64)
	data, _ := res.Data["Get"].(map[string]interface{})
	objects, _ := data[vector.ClassName].([]interface{})
	for _, o := range objects {
		props, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		id, ok := props["snippetId"].(float64)
		if !ok {
			continue
		}
		additional, _ := props["_additional"].(map[string]interface{})
		distance, ok := number(additional["distance"])
		if !ok {
			continue
		}
		sim := clamp01(1 - distance)
		// the same snippet may have been stored twice by a retried job
		if prev, seen := scores[int64(id)]; !seen || sim > prev {
			scores[int64(id)] = sim
		}
	}
	return scores, nil
}

func (s *Store) CountVectors(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	data, _ := res.Data["Aggregate"].(map[string]interface{})
	groups, _ := data[vector.ClassName].([]interface{})
	if len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	meta, _ := group["meta"].(map[string]interface{})
	count, _ := number(meta["count"])
	return int(count), nil
}

func documentFilter(documentID int64) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"documentId"}).
		WithOperator(filters.Equal).
		WithValueInt(documentID)
}

// number reads a GraphQL numeric value, which some server versions send as a string.
func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewClientSchema(s.client))
}
