package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"chunkforge/features/job"
	"chunkforge/internal/middleware"
)

// MaxEmbedAttempts is how often a re-embedding request is delivered before it
// is parked as a failed job.
const MaxEmbedAttempts = 5

// EmbedderConsumer serves re-embedding requests from ingest.embed. Errors are
// returned so NSQ requeues the message, until the last attempt.
type EmbedderConsumer struct {
	embedder EmbedRunner
	jobs     JobRecorder
	timeout  time.Duration
}

func NewEmbedderConsumer(e EmbedRunner, j JobRecorder) *EmbedderConsumer {
	return &EmbedderConsumer{embedder: e, jobs: j, timeout: DefaultEmbedTimeout}
}

func (h *EmbedderConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload EmbedRequest
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if payload.FileID == "" {
		slog.Error("missing file_id, dropping")
		return nil
	}

	ctx := middleware.EnsureCorrelationID(context.Background(), payload.CorrelationID)
	ctx = middleware.WithFileID(ctx, payload.FileID)

	embedCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.embedder.EmbedFile(embedCtx, payload.FileID); err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err, "attempts", m.Attempts)
		if m.Attempts < MaxEmbedAttempts {
			return err
		}
		failed := &job.Job{
			FileID:  payload.FileID,
			Handler: job.HandlerEmbed,
			Payload: json.RawMessage(m.Body),
			Error:   err.Error(),
			Retries: int(m.Attempts),
		}
		if err := h.jobs.Record(ctx, failed); err != nil {
			slog.ErrorContext(ctx, "failed to save failed job", "error", err)
			return err
		}
		return nil
	}

	slog.InfoContext(ctx, "file embedded")
	return nil
}
