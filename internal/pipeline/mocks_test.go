package pipeline_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"chunkforge/features/chunk"
	"chunkforge/features/file"
)

type MockFileStore struct {
	mock.Mock
}

func (m *MockFileStore) GetOwned(ctx context.Context, id, userID string) (*file.File, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*file.File), args.Error(1)
}

func (m *MockFileStore) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	args := m.Called(ctx, id, startedAt)
	return args.Error(0)
}

func (m *MockFileStore) MarkCompleted(ctx context.Context, id string, c file.Completion) error {
	args := m.Called(ctx, id, c)
	return args.Error(0)
}

func (m *MockFileStore) MarkFailed(ctx context.Context, id, reason string, chunksCreated int) error {
	args := m.Called(ctx, id, reason, chunksCreated)
	return args.Error(0)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedFile(ctx context.Context, fileID string) error {
	args := m.Called(ctx, fileID)
	return args.Error(0)
}

// memStore mirrors the transactional chunk repo: a failing replace leaves
// the previous rows untouched and reports nothing committed.
type memStore struct {
	mu     sync.Mutex
	rows   []chunk.Chunk
	failAt int
}

func newMemStore() *memStore {
	return &memStore{failAt: -1}
}

func (m *memStore) ReplaceForFile(ctx context.Context, fileID string, chunks []chunk.Chunk) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAt >= 0 && m.failAt < len(chunks) {
		return 0, errors.New("disk full")
	}
	for i := range m.rows {
		if m.rows[i].FileID == fileID {
			m.rows[i].IsActive = false
		}
	}
	for _, c := range chunks {
		c.IsActive = true
		m.rows = append(m.rows, c)
	}
	return len(chunks), nil
}

func (m *memStore) SoftDeleteByFile(ctx context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.rows {
		if m.rows[i].FileID == fileID {
			m.rows[i].IsActive = false
		}
	}
	return nil
}

func (m *memStore) DeleteGeneration(ctx context.Context, fileID, generation string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.rows[:0]
	var deleted int64
	for _, c := range m.rows {
		if c.FileID == fileID && c.Generation == generation {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	m.rows = kept
	return deleted, nil
}

func (m *memStore) active(fileID string) []chunk.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []chunk.Chunk
	for _, c := range m.rows {
		if c.FileID == fileID && c.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

func (m *memStore) generations(fileID string) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	gens := map[string]int{}
	for _, c := range m.rows {
		if c.FileID == fileID {
			gens[c.Generation]++
		}
	}
	return gens
}

// memVectors counts stored vectors per file.
type memVectors struct {
	mu      sync.Mutex
	byFile  map[string]int
	cleared []string
}

func newMemVectors() *memVectors {
	return &memVectors{byFile: map[string]int{}}
}

func (v *memVectors) DeleteChunksByFile(ctx context.Context, fileID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.byFile, fileID)
	v.cleared = append(v.cleared, fileID)
	return nil
}

func (v *memVectors) count(fileID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.byFile[fileID]
}

// runeTokenizer maps every rune to one token.
type runeTokenizer struct{}

func (runeTokenizer) Encode(s string) ([]int, error) {
	var out []int
	for _, r := range s {
		out = append(out, int(r))
	}
	return out, nil
}

func (runeTokenizer) Decode(tokens []int) (string, error) {
	rs := make([]rune, len(tokens))
	for i, t := range tokens {
		rs[i] = rune(t)
	}
	return string(rs), nil
}
