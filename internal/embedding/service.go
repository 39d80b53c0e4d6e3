package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chunkforge/features/chunk"
)

var ErrEmptyVector = errors.New("embedder returned an empty vector")

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorChunk is what the vector store keeps for one embedded chunk.
type VectorChunk struct {
	ChunkID      string
	FileID       string
	WorkspaceID  string
	Generation   string
	ChunkIndex   int
	Content      string
	PageNumber   int
	Timestamp    *float64
	HasTimestamp bool
	Vector       []float32
}

type VectorStore interface {
	StoreChunk(ctx context.Context, c VectorChunk) error
	DeleteStaleGenerations(ctx context.Context, fileID, generation string) error
}

type ChunkSource interface {
	ListUnembedded(ctx context.Context, fileID string) ([]chunk.Chunk, error)
	MarkEmbedded(ctx context.Context, ids []string) error
}

type Service struct {
	chunks   ChunkSource
	embedder Embedder
	store    VectorStore
}

func NewService(chunks ChunkSource, embedder Embedder, store VectorStore) *Service {
	return &Service{chunks: chunks, embedder: embedder, store: store}
}

// EmbedFile embeds every unembedded active chunk of the file. Vectors left
// over from earlier generations are removed first. The first failure stops
// the run; chunks embedded before it stay marked.
func (s *Service) EmbedFile(ctx context.Context, fileID string) error {
	pending, err := s.chunks.ListUnembedded(ctx, fileID)
	if err != nil {
		return fmt.Errorf("list unembedded chunks: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "no chunks to embed", "file_id", fileID)
		return nil
	}

	generation := pending[0].Generation
	if err := s.store.DeleteStaleGenerations(ctx, fileID, generation); err != nil {
		return fmt.Errorf("delete stale vectors: %w", err)
	}

	for _, c := range pending {
		vec, err := s.embedder.Embed(ctx, c.Content)
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", c.ChunkIndex, err)
		}
		if len(vec) == 0 {
			return fmt.Errorf("embed chunk %d: %w", c.ChunkIndex, ErrEmptyVector)
		}

		vc := VectorChunk{
			ChunkID:     c.ID,
			FileID:      fileID,
			WorkspaceID: c.WorkspaceID,
			Generation:  c.Generation,
			ChunkIndex:  c.ChunkIndex,
			Content:     c.Content,
			PageNumber:  c.Metadata.PageNumber,
			Vector:      vec,
		}
		if src := c.Metadata.Source; src != nil {
			vc.Timestamp = src.Timestamp
			vc.HasTimestamp = src.HasTimestamp
		}

		if err := s.store.StoreChunk(ctx, vc); err != nil {
			return fmt.Errorf("store vector for chunk %d: %w", c.ChunkIndex, err)
		}
		if err := s.chunks.MarkEmbedded(ctx, []string{c.ID}); err != nil {
			return fmt.Errorf("mark chunk %d embedded: %w", c.ChunkIndex, err)
		}
	}

	slog.InfoContext(ctx, "chunks embedded", "file_id", fileID, "generation", generation, "count", len(pending))
	return nil
}
