// Package weaviate is a RemoteIndex backed by a Weaviate class with
// caller-supplied vectors.
package weaviate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"seen/internal/apperr"
	"seen/internal/index"
	"seen/internal/vector"
)

const service = "weaviate"

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// EnsureSchema creates or migrates the VectorChunk class.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewSchemaAdapter(s.client))
}

// ObjectID maps a vector id onto a stable Weaviate object UUID so
// re-inserting the same chunk replaces it.
func ObjectID(vectorID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(vectorID)).String())
}

func (s *Store) Insert(ctx context.Context, entries []index.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	objs := make([]*models.Object, 0, len(entries))
	for _, e := range entries {
		props := map[string]interface{}{"vectorId": e.ID}
		if e.Metadata != nil {
			props["documentId"] = e.Metadata.DocumentID
			props["chunkIndex"] = e.Metadata.ChunkIndex
		}
		objs = append(objs, &models.Object{
			Class:      vector.ClassName,
			ID:         ObjectID(e.ID),
			Properties: props,
			Vector:     models.C11yVector(e.Values),
		})
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate batch insert: %w", err)
	}
	var failures []string
	for _, r := range res {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, item := range r.Result.Errors.Error {
			failures = append(failures, item.Message)
		}
	}
	if len(failures) > 0 {
		return apperr.Request(service, 200, strings.Join(failures, "; "))
	}
	slog.DebugContext(ctx, "vectors inserted", "class", vector.ClassName, "count", len(objs))
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, topK int) ([]index.Match, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	fields := []graphql.Field{
		{Name: "vectorId"},
		{Name: "documentId"},
		{Name: "chunkIndex"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query: %w", err)
	}
	rows, err := objects(res)
	if err != nil {
		return nil, err
	}

	out := make([]index.Match, 0, len(rows))
	for _, props := range rows {
		id, _ := props["vectorId"].(string)
		if id == "" {
			continue
		}
		m := index.Match{ID: id, Metadata: metadata(props)}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				// cosine distance lies in [0, 2]
				m.Score = float32(1 - d)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	res, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(byVectorIDs(ids)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate batch delete: %w", err)
	}
	if res != nil && res.Results != nil && res.Results.Failed > 0 {
		return apperr.Request(service, 200, fmt.Sprintf("%d of %d deletions failed", res.Results.Failed, res.Results.Matches))
	}
	return nil
}

func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]index.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	fields := []graphql.Field{
		{Name: "vectorId"},
		{Name: "documentId"},
		{Name: "chunkIndex"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "vector"}}},
	}
	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithWhere(byVectorIDs(ids)).
		WithLimit(len(ids)).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate get by ids: %w", err)
	}
	rows, err := objects(res)
	if err != nil {
		return nil, err
	}

	// Keep the requested order; Weaviate does not.
	byID := make(map[string]index.Entry, len(rows))
	for _, props := range rows {
		id, _ := props["vectorId"].(string)
		additional, _ := props["_additional"].(map[string]interface{})
		raw, _ := additional["vector"].([]interface{})
		if id == "" || len(raw) == 0 {
			return nil, apperr.Serialization(fmt.Errorf("object without vectorId or vector"), service)
		}
		values := make([]float32, len(raw))
		for i, v := range raw {
			f, ok := v.(float64)
			if !ok {
				return nil, apperr.Serialization(fmt.Errorf("vector component %d is %T", i, v), service)
			}
			values[i] = float32(f)
		}
		byID[id] = index.Entry{ID: id, Values: values, Metadata: metadata(props)}
	}
	out := make([]index.Entry, 0, len(byID))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func byVectorIDs(ids []string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"vectorId"}).
		WithOperator(filters.ContainsAny).
		WithValueText(ids...)
}

func objects(res *models.GraphQLResponse) ([]map[string]interface{}, error) {
	if len(res.Errors) > 0 {
		msgs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, apperr.Request(service, 200, "graphql: "+strings.Join(msgs, "; "))
	}
	get, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, apperr.Serialization(fmt.Errorf("graphql response without Get"), service)
	}
	raw, _ := get[vector.ClassName].([]interface{})
	out := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out, nil
}

func metadata(props map[string]interface{}) *index.Metadata {
	doc, ok := props["documentId"].(string)
	if !ok || doc == "" {
		return nil
	}
	m := &index.Metadata{DocumentID: doc}
	if c, ok := props["chunkIndex"].(float64); ok {
		m.ChunkIndex = int(c)
	}
	return m
}

var _ index.RemoteIndex = (*Store)(nil)
