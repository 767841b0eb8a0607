// Package vector manages the Weaviate schema for chunk vectors.
package vector

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ClassName holds one object per chunk vector; vectors are supplied by
// the caller, never computed by Weaviate.
const ClassName = "VectorChunk"

// SchemaClient defines the Weaviate schema operations EnsureSchema needs.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// Properties returns the VectorChunk properties. Ids use field
// tokenization so filters match them exactly.
func Properties() []*models.Property {
	return []*models.Property{
		{Name: "vectorId", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "documentId", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "chunkIndex", DataType: []string{"int"}},
	}
}

// EnsureSchema creates the class, or adds any properties an older
// deployment is missing.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassName)
	if err != nil {
		return fmt.Errorf("check class %s: %w", ClassName, err)
	}

	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:       ClassName,
			Description: "An embedded chunk of an archived document",
			Vectorizer:  "none",
			Properties:  Properties(),
		})
	}

	class, err := client.GetClass(ctx, ClassName)
	if err != nil {
		return fmt.Errorf("get class %s: %w", ClassName, err)
	}
	have := make(map[string]bool, len(class.Properties))
	for _, p := range class.Properties {
		have[p.Name] = true
	}
	for _, p := range Properties() {
		if have[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, ClassName, p); err != nil {
			return fmt.Errorf("add property %s: %w", p.Name, err)
		}
	}
	return nil
}
