package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chunkforge/features/chunk"
	"chunkforge/internal/citation"
	"chunkforge/internal/config"
	"chunkforge/internal/middleware"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Source types. URL and YouTube files carry transcript-style chunk metadata.
const (
	SourceText    = "text"
	SourcePDF     = "pdf"
	SourceURL     = "url"
	SourceYouTube = "youtube"
)

var (
	ErrInvalidFile       = errors.New("invalid file")
	ErrInvalidExtraction = errors.New("invalid extraction result")
)

type File struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	UserID      string         `json:"user_id"`
	Name        string         `json:"name"`
	SourceType  string         `json:"source_type"`
	Status      string         `json:"processing_status"`
	IsProcessed bool           `json:"is_processed"`
	IsActive    bool           `json:"is_active"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsTranscriptSource reports whether chunks of this file are addressed by
// chunk number and timestamp rather than character span.
func (f *File) IsTranscriptSource() bool {
	return f.SourceType == SourceURL || f.SourceType == SourceYouTube
}

// Completion is stamped into file metadata when chunking succeeds.
type Completion struct {
	FinishedAt    time.Time
	ChunksCreated int
	TotalPages    int
	TotalTokens   int
}

type Repository interface {
	Create(ctx context.Context, f *File) error
	Get(ctx context.Context, id string) (*File, error)
	GetOwned(ctx context.Context, id, userID string) (*File, error)
	List(ctx context.Context, workspaceID string) ([]File, error)
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, c Completion) error
	MarkFailed(ctx context.Context, id, reason string, chunksCreated int) error
	SoftDelete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// ExtractionResult is the message published on the ingest.result topic once
// text extraction for a file has finished.
type ExtractionResult struct {
	FileID        string               `json:"file_id"`
	UserID        string               `json:"user_id"`
	Status        string               `json:"status"`
	Error         string               `json:"error,omitempty"`
	Text          string               `json:"text"`
	Pages         int                  `json:"pages"`
	PageTexts     []string             `json:"page_texts,omitempty"`
	Metadata      map[string]any       `json:"metadata,omitempty"`
	Transcript    *citation.Transcript `json:"transcript,omitempty"`
	CorrelationID string               `json:"correlation_id,omitempty"`
}

type ChunkStore interface {
	ListActive(ctx context.Context, fileID string) ([]chunk.Chunk, error)
	GetActiveByIndex(ctx context.Context, fileID string, index int) (*chunk.Chunk, error)
	SoftDeleteByFile(ctx context.Context, fileID string) error
}

type VectorCleaner interface {
	DeleteChunksByFile(ctx context.Context, fileID string) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo    Repository
	chunks  ChunkStore
	vectors VectorCleaner
	pub     EventPublisher
}

func NewService(repo Repository, chunks ChunkStore, vectors VectorCleaner, pub EventPublisher) *Service {
	return &Service{repo: repo, chunks: chunks, vectors: vectors, pub: pub}
}

func (s *Service) Register(ctx context.Context, f *File) error {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" || f.WorkspaceID == "" || f.UserID == "" {
		return fmt.Errorf("%w: name, workspace_id and user_id are required", ErrInvalidFile)
	}
	if f.SourceType == "" {
		f.SourceType = SourceText
	}
	f.Status = StatusPending
	f.IsActive = true
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	return s.repo.Create(ctx, f)
}

type Detail struct {
	File
	Chunks      []chunk.Chunk `json:"chunks"`
	TotalChunks int           `json:"total_chunks"`
}

func (s *Service) Get(ctx context.Context, id string, includeChunks bool) (*Detail, error) {
	f, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &Detail{File: *f, Chunks: []chunk.Chunk{}}
	if !includeChunks {
		return detail, nil
	}

	chunks, err := s.chunks.ListActive(ctx, id)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch chunks", "error", err, "file_id", id)
		return detail, nil
	}
	if chunks != nil {
		detail.Chunks = chunks
	}
	detail.TotalChunks = len(detail.Chunks)
	return detail, nil
}

func (s *Service) List(ctx context.Context, workspaceID string) ([]File, error) {
	return s.repo.List(ctx, workspaceID)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.vectors.DeleteChunksByFile(ctx, id); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := s.chunks.SoftDeleteByFile(ctx, id); err != nil {
		return fmt.Errorf("deactivate chunks: %w", err)
	}
	return s.repo.SoftDelete(ctx, id)
}

// SubmitExtraction queues an extraction result for chunking.
func (s *Service) SubmitExtraction(ctx context.Context, id string, res ExtractionResult) error {
	f, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	res.FileID = f.ID
	if res.UserID == "" {
		res.UserID = f.UserID
	}
	if res.Status == "" {
		res.Status = "success"
	}
	if res.Status == "success" && strings.TrimSpace(res.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidExtraction)
	}
	res.CorrelationID = middleware.GetCorrelationID(ctx)

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal extraction result: %w", err)
	}
	if err := s.pub.Publish(config.TopicIngestResult, payload); err != nil {
		return fmt.Errorf("publish extraction result: %w", err)
	}
	slog.InfoContext(ctx, "published extraction result", "file_id", f.ID, "pages", res.Pages)
	return nil
}

// Reembed asks the embedder to embed any active chunks of the file that are
// still missing vectors.
func (s *Service) Reembed(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]string{
		"file_id":        id,
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicIngestEmbed, payload); err != nil {
		return fmt.Errorf("publish embed request: %w", err)
	}
	return nil
}

// CitationRef points a chunk back at its place in the source document.
type CitationRef struct {
	FileID       string   `json:"file_id"`
	FileName     string   `json:"file_name"`
	ChunkIndex   int      `json:"chunk_index"`
	ChunkType    string   `json:"chunk_type,omitempty"`
	PageNumber   *int     `json:"page_number,omitempty"`
	StartChar    *int     `json:"start_char,omitempty"`
	EndChar      *int     `json:"end_char,omitempty"`
	ChunkNumber  *int     `json:"chunk_number,omitempty"`
	Timestamp    *float64 `json:"timestamp,omitempty"`
	HasTimestamp bool     `json:"has_timestamp"`
	Excerpt      string   `json:"excerpt"`
}

const excerptRunes = 200

func (s *Service) Citation(ctx context.Context, id string, index int) (*CitationRef, error) {
	f, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := s.chunks.GetActiveByIndex(ctx, id, index)
	if err != nil {
		return nil, err
	}

	ref := &CitationRef{
		FileID:     f.ID,
		FileName:   f.Name,
		ChunkIndex: c.ChunkIndex,
		Excerpt:    excerpt(c.Content),
	}

	m := c.Metadata
	if m.Source != nil {
		n := m.Source.ChunkNumber
		ref.ChunkNumber = &n
		ref.Timestamp = m.Source.Timestamp
		ref.HasTimestamp = m.Source.HasTimestamp
		return ref, nil
	}

	ref.ChunkType = string(m.ChunkType)
	start, end := m.StartChar, m.EndChar
	ref.StartChar = &start
	ref.EndChar = &end
	if m.IsPaginated() {
		p := m.PageNumber
		ref.PageNumber = &p
	}
	return ref, nil
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= excerptRunes {
		return s
	}
	return string(r[:excerptRunes]) + "..."
}
