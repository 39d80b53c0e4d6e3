package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chunkforge/features/chunk"
	"chunkforge/features/file"
	"chunkforge/internal/citation"
	"chunkforge/internal/text"
)

// Input errors. They are terminal for the given extraction result.
var (
	ErrFileNotFound = errors.New("file not found")
	ErrEmptyText    = errors.New("extracted text is empty")
	ErrNoTokens     = errors.New("text produced no tokens")
	ErrNoChunks     = errors.New("segmentation produced no chunks")
)

// IsInputError reports whether err is caused by the request itself, so
// retrying the same input cannot succeed.
func IsInputError(err error) bool {
	return errors.Is(err, ErrFileNotFound) ||
		errors.Is(err, ErrEmptyText) ||
		errors.Is(err, ErrNoTokens) ||
		errors.Is(err, ErrNoChunks)
}

type FileStore interface {
	GetOwned(ctx context.Context, id, userID string) (*file.File, error)
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, c file.Completion) error
	MarkFailed(ctx context.Context, id, reason string, chunksCreated int) error
}

type ChunkStore interface {
	ReplaceForFile(ctx context.Context, fileID string, chunks []chunk.Chunk) (int, error)
	SoftDeleteByFile(ctx context.Context, fileID string) error
	DeleteGeneration(ctx context.Context, fileID, generation string) (int64, error)
}

// VectorCleaner removes every vector stored for a file.
type VectorCleaner interface {
	DeleteChunksByFile(ctx context.Context, fileID string) error
}

// EmbeddingTrigger embeds every unembedded active chunk of a file.
type EmbeddingTrigger interface {
	EmbedFile(ctx context.Context, fileID string) error
}

// Extraction is the output of the text extraction service for one file.
// A nil PageTexts means no page information is available.
type Extraction struct {
	Text      string
	Pages     int
	PageTexts []string
	Metadata  map[string]any
}

type Request struct {
	FileID     string
	UserID     string
	Extraction Extraction
	Transcript *citation.Transcript
}

type Result struct {
	FileID        string
	Generation    string
	ChunksCreated int
	TotalTokens   int
	TotalPages    int
	PageAware     bool
	Timestamped   int
}

type Processor struct {
	files         FileStore
	chunks        ChunkStore
	embedder      EmbeddingTrigger
	vectors       VectorCleaner
	segmenter     *text.Segmenter
	tok           text.Tokenizer
	locator       *citation.Locator
	now           func() time.Time
	newGeneration func() string
}

func NewProcessor(files FileStore, chunks ChunkStore, embedder EmbeddingTrigger, vectors VectorCleaner, tok text.Tokenizer, opts text.Options, locator *citation.Locator) (*Processor, error) {
	seg, err := text.NewSegmenter(tok, opts)
	if err != nil {
		return nil, err
	}
	if locator == nil {
		locator = citation.NewLocator()
	}
	return &Processor{
		files:         files,
		chunks:        chunks,
		embedder:      embedder,
		vectors:       vectors,
		segmenter:     seg,
		tok:           tok,
		locator:       locator,
		now:           time.Now,
		newGeneration: func() string { return uuid.New().String() },
	}, nil
}

// ProcessFile turns an extraction result into the file's active chunk
// generation. Once the file is marked processing, any failure marks it failed
// and clears its chunks and vectors before the error is returned.
func (p *Processor) ProcessFile(ctx context.Context, req Request) (*Result, error) {
	f, err := p.files.GetOwned(ctx, req.FileID, req.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, req.FileID)
		}
		return nil, fmt.Errorf("load file: %w", err)
	}
	if !f.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, req.FileID)
	}

	if err := p.files.MarkProcessing(ctx, f.ID, p.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, req.FileID)
		}
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	slog.InfoContext(ctx, "chunking started", "file_id", f.ID, "source_type", f.SourceType)

	generation := p.newGeneration()
	res, created, err := p.run(ctx, f, req, generation)
	if err != nil {
		p.fail(ctx, f.ID, generation, created, err)
		return nil, err
	}

	slog.InfoContext(ctx, "chunking completed",
		"file_id", f.ID,
		"chunks", res.ChunksCreated,
		"tokens", res.TotalTokens,
		"pages", res.TotalPages,
		"page_aware", res.PageAware,
	)
	return res, nil
}

func (p *Processor) run(ctx context.Context, f *file.File, req Request, generation string) (*Result, int, error) {
	ext := req.Extraction
	if strings.TrimSpace(ext.Text) == "" {
		return nil, 0, ErrEmptyText
	}

	tokens, err := p.tok.Encode(ext.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("tokenize: %w", err)
	}
	if len(tokens) == 0 {
		return nil, 0, ErrNoTokens
	}

	pageAware := len(ext.PageTexts) > 0
	var segments []text.Chunk
	if pageAware {
		segments, err = p.segmenter.Pages(tokens, ext.Text, ext.PageTexts)
	} else {
		segments, err = p.segmenter.Window(tokens, ext.Text)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("segment: %w", err)
	}
	if len(segments) == 0 {
		return nil, 0, ErrNoChunks
	}

	timestamped := p.applySource(ctx, f, req.Transcript, segments)

	records := make([]chunk.Chunk, len(segments))
	for i, s := range segments {
		records[i] = chunk.Chunk{
			FileID:      f.ID,
			WorkspaceID: f.WorkspaceID,
			UserID:      f.UserID,
			Generation:  generation,
			ChunkIndex:  s.Index,
			Content:     s.Content,
			TokenCount:  s.TokenCount,
			StartToken:  s.StartToken,
			EndToken:    s.EndToken,
			Metadata:    s.Metadata,
			IsActive:    true,
		}
	}

	created, err := p.chunks.ReplaceForFile(ctx, f.ID, records)
	if err != nil {
		return nil, created, fmt.Errorf("persist chunks: %w", err)
	}
	slog.InfoContext(ctx, "chunks stored", "file_id", f.ID, "generation", generation, "count", created)

	if err := p.embedder.EmbedFile(ctx, f.ID); err != nil {
		return nil, created, fmt.Errorf("embed chunks: %w", err)
	}

	pages := ext.Pages
	if pages == 0 && pageAware {
		pages = len(ext.PageTexts)
	}
	if err := p.files.MarkCompleted(ctx, f.ID, file.Completion{
		FinishedAt:    p.now(),
		ChunksCreated: created,
		TotalPages:    pages,
		TotalTokens:   len(tokens),
	}); err != nil {
		return nil, created, fmt.Errorf("mark completed: %w", err)
	}

	return &Result{
		FileID:        f.ID,
		Generation:    generation,
		ChunksCreated: created,
		TotalTokens:   len(tokens),
		TotalPages:    pages,
		PageAware:     pageAware,
		Timestamped:   timestamped,
	}, created, nil
}

// applySource tags URL and transcript chunks and locates their timestamps.
// It returns how many chunks received one.
func (p *Processor) applySource(ctx context.Context, f *file.File, transcript *citation.Transcript, segments []text.Chunk) int {
	if !f.IsTranscriptSource() && transcript == nil {
		return 0
	}

	sourceType := f.SourceType
	if !f.IsTranscriptSource() {
		sourceType = file.SourceYouTube
	}
	text.ApplySource(segments, sourceType)

	snippets := transcript.UsableSnippets()
	if transcript != nil && len(snippets) == 0 {
		slog.WarnContext(ctx, "transcript unusable, chunks get no timestamps", "file_id", f.ID, "transcript_error", transcript.Error)
	}
	if len(snippets) == 0 {
		return 0
	}

	located := 0
	for i := range segments {
		if start, ok := p.locator.Locate(segments[i].Content, snippets); ok {
			segments[i].SetTimestamp(start)
			located++
		}
	}
	return located
}

// fail records the failure and leaves the file with no active chunks and no
// vectors. The attempt's rows are deleted, and an earlier generation left
// active by a rolled back replace is deactivated. Cleanup runs even if ctx
// was cancelled; its errors are logged and never replace cause.
func (p *Processor) fail(ctx context.Context, fileID, generation string, created int, cause error) {
	cleanupCtx := context.WithoutCancel(ctx)
	slog.ErrorContext(ctx, "chunking failed", "file_id", fileID, "error", cause, "chunks_created", created)

	if err := p.files.MarkFailed(cleanupCtx, fileID, cause.Error(), created); err != nil {
		slog.ErrorContext(ctx, "failed to mark file failed", "file_id", fileID, "error", err)
	}

	if created > 0 {
		deleted, err := p.chunks.DeleteGeneration(cleanupCtx, fileID, generation)
		if err != nil {
			slog.ErrorContext(ctx, "failed to delete chunks of failed attempt", "file_id", fileID, "generation", generation, "error", err)
		} else {
			slog.InfoContext(ctx, "deleted chunks of failed attempt", "file_id", fileID, "generation", generation, "count", deleted)
		}
	}

	if err := p.chunks.SoftDeleteByFile(cleanupCtx, fileID); err != nil {
		slog.ErrorContext(ctx, "failed to deactivate chunks of failed file", "file_id", fileID, "error", err)
	}
	if err := p.vectors.DeleteChunksByFile(cleanupCtx, fileID); err != nil {
		slog.ErrorContext(ctx, "failed to delete vectors of failed file", "file_id", fileID, "error", err)
	}
}
