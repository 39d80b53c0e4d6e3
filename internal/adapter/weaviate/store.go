package weaviate

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"chunkforge/internal/embedding"
	"chunkforge/internal/vector"
)

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, s)
}

func (s *Store) StoreChunk(ctx context.Context, c embedding.VectorChunk) error {
	props := map[string]interface{}{
		"content":      c.Content,
		"chunkId":      c.ChunkID,
		"fileId":       c.FileID,
		"workspaceId":  c.WorkspaceID,
		"generation":   c.Generation,
		"chunkIndex":   c.ChunkIndex,
		"pageNumber":   c.PageNumber,
		"hasTimestamp": c.HasTimestamp,
	}
	if c.Timestamp != nil {
		props["timestamp"] = *c.Timestamp
	}

	_, err := s.client.Data().Creator().
		WithClassName(vector.ClassName).
		WithProperties(props).
		WithVector(c.Vector).
		Do(ctx)
	return err
}

func fileFilter(fileID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"fileId"}).
		WithOperator(filters.Equal).
		WithValueString(fileID)
}

func (s *Store) DeleteChunksByFile(ctx context.Context, fileID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(fileFilter(fileID)).
		Do(ctx)
	return err
}

// DeleteStaleGenerations removes the file's vectors that belong to any
// generation other than the given one.
func (s *Store) DeleteStaleGenerations(ctx context.Context, fileID, generation string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				fileFilter(fileID),
				filters.Where().
					WithPath([]string{"generation"}).
					WithOperator(filters.NotEqual).
					WithValueString(generation),
			})).
		Do(ctx)
	return err
}

func (s *Store) CountChunks(ctx context.Context) (int, error) {
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

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	groups, ok := agg[vector.ClassName].([]interface{})
	if !ok || len(groups) == 0 {
		return 0, nil
	}
	group, ok := groups[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := group["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int(count), nil
}
