package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the Weaviate class holding one embedding per snippet.
const ClassName = "SnippetVector"

type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

func snippetProperties() []*models.Property {
	return []*models.Property{
		{Name: "snippetId", DataType: []string{"int"}},
		{Name: "documentId", DataType: []string{"int"}},
		{Name: "model", DataType: []string{"text"}, Tokenization: "field"},
	}
}

// EnsureSchema creates the snippet vector class, or adds whatever properties an
// older deployment is missing. Vectors are supplied by the application and
// compared by cosine distance.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassName)
	if err != nil {
		return err
	}

	properties := snippetProperties()
	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:             ClassName,
			Description:       "Embedding of an extracted snippet",
			Vectorizer:        "none",
			VectorIndexConfig: map[string]interface{}{"distance": "cosine"},
			Properties:        properties,
		})
	}

	class, err := client.GetClass(ctx, ClassName)
	if err != nil {
		return err
	}

	have := make(map[string]bool, len(class.Properties))
	for _, p := range class.Properties {
		have[p.Name] = true
	}
	for _, p := range properties {
		if have[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, ClassName, p); err != nil {
			return err
		}
	}
	return nil
}
