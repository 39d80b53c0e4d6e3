package file_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chunkforge/features/chunk"
	"chunkforge/features/file"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Create(ctx context.Context, f *file.File) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*file.File, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*file.File), args.Error(1)
}

func (m *MockRepo) GetOwned(ctx context.Context, id, userID string) (*file.File, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*file.File), args.Error(1)
}

func (m *MockRepo) List(ctx context.Context, workspaceID string) ([]file.File, error) {
	args := m.Called(ctx, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]file.File), args.Error(1)
}

func (m *MockRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	args := m.Called(ctx, id, startedAt)
	return args.Error(0)
}

func (m *MockRepo) MarkCompleted(ctx context.Context, id string, c file.Completion) error {
	args := m.Called(ctx, id, c)
	return args.Error(0)
}

func (m *MockRepo) MarkFailed(ctx context.Context, id, reason string, chunksCreated int) error {
	args := m.Called(ctx, id, reason, chunksCreated)
	return args.Error(0)
}

func (m *MockRepo) SoftDelete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockChunkStore struct {
	mock.Mock
}

func (m *MockChunkStore) ListActive(ctx context.Context, fileID string) ([]chunk.Chunk, error) {
	args := m.Called(ctx, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]chunk.Chunk), args.Error(1)
}

func (m *MockChunkStore) GetActiveByIndex(ctx context.Context, fileID string, index int) (*chunk.Chunk, error) {
	args := m.Called(ctx, fileID, index)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chunk.Chunk), args.Error(1)
}

func (m *MockChunkStore) SoftDeleteByFile(ctx context.Context, fileID string) error {
	args := m.Called(ctx, fileID)
	return args.Error(0)
}

type MockVectorCleaner struct {
	mock.Mock
}

func (m *MockVectorCleaner) DeleteChunksByFile(ctx context.Context, fileID string) error {
	args := m.Called(ctx, fileID)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}
