package chunk

import (
	"context"
	"time"

	"chunkforge/internal/text"
)

// Chunk is the persisted, citation-addressable unit of a file.
type Chunk struct {
	ID          string        `json:"id"`
	FileID      string        `json:"file_id"`
	WorkspaceID string        `json:"workspace_id"`
	UserID      string        `json:"user_id"`
	Generation  string        `json:"generation"`
	ChunkIndex  int           `json:"chunk_index"`
	Content     string        `json:"content"`
	TokenCount  int           `json:"token_count"`
	StartToken  int           `json:"start_token"`
	EndToken    int           `json:"end_token"`
	Metadata    text.Metadata `json:"metadata"`
	IsEmbedded  bool          `json:"is_embedded"`
	IsActive    bool          `json:"is_active"`
	CreatedAt   time.Time     `json:"created_at"`
}

type Repository interface {
	// ReplaceForFile deactivates the file's active generation and inserts chunks
	// as the new one in a single transaction. On error nothing is committed.
	ReplaceForFile(ctx context.Context, fileID string, chunks []Chunk) (int, error)
	SoftDeleteByFile(ctx context.Context, fileID string) error
	DeleteGeneration(ctx context.Context, fileID, generation string) (int64, error)
	ListActive(ctx context.Context, fileID string) ([]Chunk, error)
	GetActiveByIndex(ctx context.Context, fileID string, index int) (*Chunk, error)
	ListUnembedded(ctx context.Context, fileID string) ([]Chunk, error)
	MarkEmbedded(ctx context.Context, ids []string) error
	CountActive(ctx context.Context) (int, error)
}
