package worker

import (
	"context"
	"time"

	"chunkforge/features/file"
	"chunkforge/features/job"
	"chunkforge/internal/pipeline"
)

type Pipeline interface {
	ProcessFile(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// FileFailer records an extraction that never reached the pipeline.
type FileFailer interface {
	GetOwned(ctx context.Context, id, userID string) (*file.File, error)
	MarkFailed(ctx context.Context, id, reason string, chunksCreated int) error
}

type JobRecorder interface {
	Record(ctx context.Context, j *job.Job) error
}

type EmbedRunner interface {
	EmbedFile(ctx context.Context, fileID string) error
}

// Default deadlines for one message. Long documents can take several embedding
// round trips.
const (
	DefaultProcessTimeout = 10 * time.Minute
	DefaultEmbedTimeout   = 5 * time.Minute
)
