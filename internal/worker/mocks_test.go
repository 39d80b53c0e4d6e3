package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chunkforge/features/file"
	"chunkforge/features/job"
	"chunkforge/internal/pipeline"
)

type MockPipeline struct {
	mock.Mock
}

func (m *MockPipeline) ProcessFile(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Result), args.Error(1)
}

type MockFileFailer struct {
	mock.Mock
}

func (m *MockFileFailer) GetOwned(ctx context.Context, id, userID string) (*file.File, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*file.File), args.Error(1)
}

func (m *MockFileFailer) MarkFailed(ctx context.Context, id, reason string, chunksCreated int) error {
	args := m.Called(ctx, id, reason, chunksCreated)
	return args.Error(0)
}

type MockJobRecorder struct {
	mock.Mock
}

func (m *MockJobRecorder) Record(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

type MockEmbedRunner struct {
	mock.Mock
}

func (m *MockEmbedRunner) EmbedFile(ctx context.Context, fileID string) error {
	args := m.Called(ctx, fileID)
	return args.Error(0)
}
