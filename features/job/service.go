package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chunkforge/internal/config"
)

const publishTimeout = 5 * time.Second

var (
	ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")
	ErrUnknownHandler = errors.New("unknown job handler")
	ErrInvalidFileID  = errors.New("invalid file id")
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo   Repository
	pub    EventPublisher
	logger *slog.Logger
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger}
}

func (s *Service) List(ctx context.Context, f Filter) ([]Job, error) {
	if f.FileID != "" {
		if _, err := uuid.Parse(f.FileID); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFileID, f.FileID)
		}
	}
	if f.Handler != "" {
		if _, err := topicFor(f.Handler); err != nil {
			return nil, err
		}
	}
	return s.repo.List(ctx, f)
}

// Discard drops a failed job without retrying it.
func (s *Service) Discard(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "job discarded", "job_id", id)
	return nil
}

// Record persists a failed message so it can be retried by hand.
func (s *Service) Record(ctx context.Context, j *Job) error {
	if err := s.repo.Save(ctx, j); err != nil {
		return fmt.Errorf("save failed job: %w", err)
	}
	s.logger.InfoContext(ctx, "saved failed job for retry", "job_id", j.ID, "file_id", j.FileID, "handler", j.Handler)
	return nil
}

func topicFor(handler string) (string, error) {
	switch handler {
	case HandlerResult:
		return config.TopicIngestResult, nil
	case HandlerEmbed:
		return config.TopicIngestEmbed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownHandler, handler)
	}
}

// Retry republishes the job's payload to the topic of its handler and removes
// the job once the publish is acknowledged.
func (s *Service) Retry(ctx context.Context, id string) error {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	topic, err := topicFor(j.Handler)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(topic, j.Payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("publish retry: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return ErrPublishTimeout
	}

	s.logger.InfoContext(ctx, "job retried", "job_id", id, "file_id", j.FileID, "topic", topic)
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
