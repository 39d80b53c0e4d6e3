package pipeline_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chunkforge/features/file"
	"chunkforge/internal/citation"
	"chunkforge/internal/pipeline"
	"chunkforge/internal/text"
)

func activeFile(sourceType string) *file.File {
	return &file.File{ID: "f1", WorkspaceID: "w1", UserID: "u1", Name: "doc", SourceType: sourceType, IsActive: true}
}

func newProcessor(t *testing.T, files *MockFileStore, store *memStore, emb *MockEmbedder, opts text.Options) *pipeline.Processor {
	t.Helper()
	return newProcessorWithVectors(t, files, store, emb, newMemVectors(), opts)
}

func newProcessorWithVectors(t *testing.T, files *MockFileStore, store *memStore, emb *MockEmbedder, vectors *memVectors, opts text.Options) *pipeline.Processor {
	t.Helper()
	p, err := pipeline.NewProcessor(files, store, emb, vectors, runeTokenizer{}, opts, nil)
	require.NoError(t, err)
	return p
}

func expectHappyPath(files *MockFileStore, emb *MockEmbedder, f *file.File) {
	files.On("GetOwned", mock.Anything, f.ID, f.UserID).Return(f, nil)
	files.On("MarkProcessing", mock.Anything, f.ID, mock.Anything).Return(nil)
	files.On("MarkCompleted", mock.Anything, f.ID, mock.Anything).Return(nil)
	emb.On("EmbedFile", mock.Anything, f.ID).Return(nil)
}

func TestProcessFile_WindowScenario(t *testing.T) {
	files, emb, store := new(MockFileStore), new(MockEmbedder), newMemStore()
	f := activeFile(file.SourceText)
	files.On("GetOwned", mock.Anything, "f1", "u1").Return(f, nil)
	files.On("MarkProcessing", mock.Anything, "f1", mock.Anything).Return(nil)
	files.On("MarkCompleted", mock.Anything, "f1", mock.MatchedBy(func(c file.Completion) bool {
		return c.ChunksCreated == 3 && c.TotalTokens == 1200 && c.TotalPages == 1 && !c.FinishedAt.IsZero()
	})).Return(nil)
	emb.On("EmbedFile", mock.Anything, "f1").Return(nil)

	p := newProcessor(t, files, store, emb, text.DefaultOptions())
	res, err := p.ProcessFile(context.Background(), pipeline.Request{
		FileID:     "f1",
		UserID:     "u1",
		Extraction: pipeline.Extraction{Text: strings.Repeat("x", 1200), Pages: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ChunksCreated)
	assert.False(t, res.PageAware)

	chunks := store.active("f1")
	require.Len(t, chunks, 3)
	want := [][2]int{{0, 499}, {400, 899}, {800, 1199}}
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, want[i][0], c.StartToken)
		assert.Equal(t, want[i][1], c.EndToken)
		assert.Equal(t, c.EndToken-c.StartToken+1, c.TokenCount)
		assert.Equal(t, res.Generation, c.Generation)
		assert.Equal(t, "w1", c.WorkspaceID)
		assert.False(t, c.IsEmbedded)
		assert.Equal(t, text.ChunkTypeRegular, c.Metadata.ChunkType)
	}
	assert.Equal(t, 400, chunks[2].TokenCount)

	files.AssertExpectations(t)
	emb.AssertExpectations(t)
	files.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessFile_ReprocessingIsIdempotent(t *testing.T) {
	files, emb, store := new(MockFileStore), new(MockEmbedder), newMemStore()
	expectHappyPath(files, emb, activeFile(file.SourceText))

	p := newProcessor(t, files, store, emb, text.DefaultOptions())
	req := pipeline.Request{FileID: "f1", UserID: "u1", Extraction: pipeline.Extraction{Text: strings.Repeat("y", 2000)}}

	first, err := p.ProcessFile(context.Background(), req)
	require.NoError(t, err)
	firstChunks := store.active("f1")

	second, err := p.ProcessFile(context.Background(), req)
	require.NoError(t, err)
	secondChunks := store.active("f1")

	assert.NotEqual(t, first.Generation, second.Generation)
	require.Equal(t, len(firstChunks), len(secondChunks))
	for i := range firstChunks {
		assert.Equal(t, firstChunks[i].ChunkIndex, secondChunks[i].ChunkIndex)
		assert.Equal(t, firstChunks[i].StartToken, secondChunks[i].StartToken)
		assert.Equal(t, firstChunks[i].EndToken, secondChunks[i].EndToken)
		assert.Equal(t, second.Generation, secondChunks[i].Generation)
	}
}

func TestProcessFile_PersistFailureCleansUp(t *testing.T) {
	files, emb, store := new(MockFileStore), new(MockEmbedder), newMemStore()
	store.failAt = 2
	f := activeFile(file.SourceText)
	files.On("GetOwned", mock.Anything, "f1", "u1").Return(f, nil)
	files.On("MarkProcessing", mock.Anything, "f1", mock.Anything).Return(nil)
	files.On("MarkFailed", mock.Anything, "f1", mock.MatchedBy(func(reason string) bool {
		return strings.Contains(reason, "disk full")
	}), 0).Return(nil)

	p := newProcessor(t, files, store, emb, text.DefaultOptions())
	_, err := p.ProcessFile(context.Background(), pipeline.Request{
		FileID:     "f1",
		UserID:     "u1",
		Extraction: pipeline.Extraction{Text: strings.Repeat("z", 1500)},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist chunks")
	assert.Empty(t, store.active("f1"))
	assert.Empty(t, store.generations("f1"))
	files.AssertExpectations(t)
	emb.AssertNotCalled(t, "EmbedFile", mock.Anything, mock.Anything)
	files.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessFile_ReprocessPersistFailureLeavesNoActiveChunks(t *testing.T) {
	files, emb, store, vectors := new(MockFileStore), new(MockEmbedder), newMemStore(), newMemVectors()
	f := activeFile(file.SourceText)
	files.On("GetOwned", mock.Anything, "f1", "u1").Return(f, nil)
	files.On("MarkProcessing", mock.Anything, "f1", mock.Anything).Return(nil)
	files.On("MarkCompleted", mock.Anything, "f1", mock.Anything).Return(nil).Once()
	files.On("MarkFailed", mock.Anything, "f1", mock.Anything, 0).Return(nil).Once()
	emb.On("EmbedFile", mock.Anything, "f1").Run(func(args mock.Arguments) {
		vectors.byFile["f1"] = len(store.active("f1"))
	}).Return(nil).Once()

	p := newProcessorWithVectors(t, files, store, emb, vectors, text.DefaultOptions())
	req := pipeline.Request{FileID: "f1", UserID: "u1", Extraction: pipeline.Extraction{Text: strings.Repeat("r", 1200)}}

	_, err := p.ProcessFile(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, store.active("f1"), 3)
	require.Equal(t, 3, vectors.count("f1"))

	store.failAt = 1
	_, err = p.ProcessFile(context.Background(), req)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist chunks")
	assert.Empty(t, store.active("f1"))
	assert.Zero(t, vectors.count("f1"))
	files.AssertExpectations(t)
	emb.AssertNumberOfCalls(t, "EmbedFile", 1)
}

func TestProcessFile_EmbeddingFailureRemovesVectors(t *testing.T) {
	files, emb, store, vectors := new(MockFileStore), new(MockEmbedder), newMemStore(), newMemVectors()
	f := activeFile(file.SourceText)
	files.On("GetOwned", mock.Anything, "f1", "u1").Return(f, nil)
	files.On("MarkProcessing", mock.Anything, "f1", mock.Anything).Return(nil)
	files.On("MarkFailed", mock.Anything, "f1", mock.Anything, 3).Return(nil)
	emb.On("EmbedFile", mock.Anything, "f1").Run(func(args mock.Arguments) {
		vectors.byFile["f1"] = 1
	}).Return(errors.New("rate limited"))

	ctx, cancel := context.WithCancel(context.Background())
	p := newProcessorWithVectors(t, files, store, emb, vectors, text.DefaultOptions())
	_, err := p.ProcessFile(ctx, pipeline.Request{
		FileID:     "f1",
		UserID:     "u1",
		Extraction: pipeline.Extraction{Text: strings.Repeat("v", 1200)},
	})
	cancel()

	require.Error(t, err)
	assert.Zero(t, vectors.count("f1"))
	assert.Equal(t, []string{"f1"}, vectors.cleared)
	assert.Empty(t, store.generations("f1"))
	files.AssertExpectations(t)
}

func TestProcessFile_EmbeddingFailureFailsRun(t *testing.T) {
	files, emb, store := new(MockFileStore), new(MockEmbedder), newMemStore()
	f := activeFile(file.SourceText)
	files.On("GetOwned", mock.Anything, "f1", "u1").Return(f, nil)
	files.On("MarkProcessing", mock.Anything, "f1", mock.Anything).Return(nil)
	files.On("MarkFailed", mock.Anything, "f1", mock.Anything, 3).Return(nil)
	emb.On("EmbedFile", mock.Anything, "f1").Return(errors.New("quota exceeded"))

	p := newProcessor(t, files, store, emb, text.DefaultOptions())
	_, err := p.ProcessFile(context.Background(), pipeline.Request{
		FileID:     "f1",
		UserID:     "u1",
		Extraction: pipeline.Extraction{Text: strings.Repeat("e", 1200)},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.False(t, pipeline.IsInputError(err))
	assert.Empty(t, store.active("f1"))
	files.AssertExpectations(t)
}

func TestProcessFile_CleanupErrorKeepsCause(t *testing.T) {
	files, emb, store := new(MockFileStore), new(MockEmbedder), newMemStore()
	f := activeFile(file.SourceText)
	files.On("GetOwned", mock.Anything, "f1", "u1").Return(f, nil)
	files.On("MarkProcessing", mock.Anything, "f1", mock.Anything).Return(nil)
	files.On("MarkFailed", mock.Anything, "f1", mock.Anything, mock.Anything).Return(errors.New("db gone"))
	emb.On("EmbedFile", mock.Anything, "f1").Return(errors.New("embedder offline"))

	p := newProcessor(t, files, store, emb, text.DefaultOptions())
	_, err := p.ProcessFile(context.Background(), pipeline.Request{
		FileID:     "f1",
		UserID:     "u1",
		Extraction: pipeline.Extraction{Text: "short"},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedder offline")
	assert.NotContains(t, err.Error(), "db gone")
	assert.Empty(t, store.active("f1"))
}

func TestProcessFile_InputErrors(t *testing.T) {
	t.Run("Empty text", func(t *testing.T) {
		files, emb, store := new(MockFileStore), new(MockEmbedder), newMemStore()
		f := activeFile(file.SourceText)
		files.On("GetOwned", mock.Anything, "f1", "u1").Return(f, nil)
		files.On("MarkProcessing", mock.Anything, "f1", mock.Anything).Return(nil)
		files.On("MarkFailed", mock.Anything, "f1", pipeline.ErrEmptyText.Error(), 0).Return(nil)

		p := newProcessor(t, files, store, emb, text.DefaultOptions())
		_, err := p.ProcessFile(context.Background(), pipeline.Request{FileID: "f1", UserID: "u1", Extraction: pipeline.Extraction{Text: " \n\t"}})

		assert.ErrorIs(t, err, pipeline.ErrEmptyText)
		assert.True(t, pipeline.IsInputError(err))
		files.AssertExpectations(t)
	})

	t.Run("File not found", func(t *testing.T) {
		files, emb, store := new(MockFileStore), new(MockEmbedder), newMemStore()
		files.On("GetOwned", mock.Anything, "f1", "intruder").Return(nil, sql.ErrNoRows)

		p := newProcessor(t, files, store, emb, text.DefaultOptions())
		_, err := p.ProcessFile(context.Background(), pipeline.Request{FileID: "f1", UserID: "intruder", Extraction: pipeline.Extraction{Text: "hello"}})

		assert.ErrorIs(t, err, pipeline.ErrFileNotFound)
		files.AssertNotCalled(t, "MarkProcessing", mock.Anything, mock.Anything, mock.Anything)
		files.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Inactive file", func(t *testing.T) {
		files, emb, store := new(MockFileStore), new(MockEmbedder), newMemStore()
		f := activeFile(file.SourceText)
		f.IsActive = false
		files.On("GetOwned", mock.Anything, "f1", "u1").Return(f, nil)

		p := newProcessor(t, files, store, emb, text.DefaultOptions())
		_, err := p.ProcessFile(context.Background(), pipeline.Request{FileID: "f1", UserID: "u1", Extraction: pipeline.Extraction{Text: "hello"}})

		assert.ErrorIs(t, err, pipeline.ErrFileNotFound)
	})
}

func TestProcessFile_PageAware(t *testing.T) {
	files, emb, store := new(MockFileStore), new(MockEmbedder), newMemStore()
	f := activeFile(file.SourcePDF)
	files.On("GetOwned", mock.Anything, "f1", "u1").Return(f, nil)
	files.On("MarkProcessing", mock.Anything, "f1", mock.Anything).Return(nil)
	files.On("MarkCompleted", mock.Anything, "f1", mock.MatchedBy(func(c file.Completion) bool {
		return c.TotalPages == 3 && c.ChunksCreated == 4
	})).Return(nil)
	emb.On("EmbedFile", mock.Anything, "f1").Return(nil)

	pages := []string{strings.Repeat("a", 300), "", strings.Repeat("b", 1250)}
	p := newProcessor(t, files, store, emb, text.DefaultOptions())
	res, err := p.ProcessFile(context.Background(), pipeline.Request{
		FileID:     "f1",
		UserID:     "u1",
		Extraction: pipeline.Extraction{Text: strings.Join(pages, ""), PageTexts: pages},
	})
	require.NoError(t, err)
	assert.True(t, res.PageAware)

	chunks := store.active("f1")
	require.Len(t, chunks, 4)
	assert.Equal(t, text.ChunkTypePageComplete, chunks[0].Metadata.ChunkType)
	assert.Equal(t, 1, chunks[0].Metadata.PageNumber)
	for i, c := range chunks[1:] {
		assert.Equal(t, text.ChunkTypePagePartial, c.Metadata.ChunkType)
		assert.Equal(t, 3, c.Metadata.PageNumber)
		assert.Equal(t, i == 0, c.Metadata.IsPageBoundary)
		assert.Equal(t, i+1, c.ChunkIndex)
	}
	files.AssertExpectations(t)
}

func TestProcessFile_TranscriptTimestamps(t *testing.T) {
	files, emb, store := new(MockFileStore), new(MockEmbedder), newMemStore()
	expectHappyPath(files, emb, activeFile(file.SourceYouTube))

	transcript := &citation.Transcript{
		VideoID: "abc",
		Snippets: []citation.Snippet{
			{Text: "the quick brown fox", Start: 0, Duration: 5},
			{Text: "jumps over lazy dogs", Start: 5, Duration: 5},
		},
		Success: true,
	}

	p := newProcessor(t, files, store, emb, text.Options{WindowSize: 20, Overlap: 2})
	res, err := p.ProcessFile(context.Background(), pipeline.Request{
		FileID:     "f1",
		UserID:     "u1",
		Extraction: pipeline.Extraction{Text: "the quick brown fox jumps over lazy dogs"},
		Transcript: transcript,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Timestamped)

	chunks := store.active("f1")
	require.Len(t, chunks, 3)
	wantStarts := []float64{0, 5, 5}
	for i, c := range chunks {
		require.NotNil(t, c.Metadata.Source)
		assert.Equal(t, i+1, c.Metadata.Source.ChunkNumber)
		assert.Equal(t, i == 2, c.Metadata.Source.IsLastChunk)
		assert.Equal(t, "youtube", c.Metadata.Source.SourceType)
		require.True(t, c.Metadata.Source.HasTimestamp)
		assert.Equal(t, wantStarts[i], *c.Metadata.Source.Timestamp)
	}
}

func TestProcessFile_FailedTranscriptGivesNoTimestamps(t *testing.T) {
	files, emb, store := new(MockFileStore), new(MockEmbedder), newMemStore()
	expectHappyPath(files, emb, activeFile(file.SourceURL))

	p := newProcessor(t, files, store, emb, text.DefaultOptions())
	res, err := p.ProcessFile(context.Background(), pipeline.Request{
		FileID:     "f1",
		UserID:     "u1",
		Extraction: pipeline.Extraction{Text: "some page text"},
		Transcript: &citation.Transcript{Error: "transcripts disabled", Snippets: []citation.Snippet{{Text: "some page text"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Timestamped)

	chunks := store.active("f1")
	require.Len(t, chunks, 1)
	require.NotNil(t, chunks[0].Metadata.Source)
	assert.Equal(t, "url", chunks[0].Metadata.Source.SourceType)
	assert.False(t, chunks[0].Metadata.Source.HasTimestamp)
}

func TestNewProcessor_RejectsBadWindow(t *testing.T) {
	_, err := pipeline.NewProcessor(new(MockFileStore), newMemStore(), new(MockEmbedder), newMemVectors(), runeTokenizer{}, text.Options{WindowSize: 100, Overlap: 100}, nil)
	assert.ErrorIs(t, err, text.ErrInvalidWindow)
}
