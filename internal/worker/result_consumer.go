package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"chunkforge/features/file"
	"chunkforge/features/job"
	"chunkforge/internal/middleware"
	"chunkforge/internal/pipeline"
)

const statusFailed = "failed"

// ResultConsumer turns extraction results from ingest.result into chunks.
type ResultConsumer struct {
	pipeline Pipeline
	files    FileFailer
	jobs     JobRecorder
	timeout  time.Duration
}

func NewResultConsumer(p Pipeline, f FileFailer, j JobRecorder) *ResultConsumer {
	return &ResultConsumer{pipeline: p, files: f, jobs: j, timeout: DefaultProcessTimeout}
}

func (h *ResultConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload file.ExtractionResult
	err := json.Unmarshal(m.Body, &payload)

	ctx := middleware.EnsureCorrelationID(context.Background(), payload.CorrelationID)

	if err != nil {
		slog.ErrorContext(ctx, "poison pill: invalid json", "error", err)
		return nil
	}
	if payload.FileID == "" {
		slog.ErrorContext(ctx, "missing file_id, dropping")
		return nil
	}
	ctx = middleware.WithFileID(ctx, payload.FileID)

	if payload.Status == statusFailed {
		h.markExtractionFailed(ctx, payload)
		return nil
	}

	slog.InfoContext(ctx, "received extraction result", "text_len", len(payload.Text), "pages", payload.Pages, "page_texts", len(payload.PageTexts))

	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	res, err := h.pipeline.ProcessFile(runCtx, pipeline.Request{
		FileID: payload.FileID,
		UserID: payload.UserID,
		Extraction: pipeline.Extraction{
			Text:      payload.Text,
			Pages:     payload.Pages,
			PageTexts: payload.PageTexts,
			Metadata:  payload.Metadata,
		},
		Transcript: payload.Transcript,
	})
	if err != nil {
		if pipeline.IsInputError(err) {
			// Replaying the same payload cannot succeed.
			slog.WarnContext(ctx, "dropping unprocessable result", "error", err)
			return nil
		}
		slog.ErrorContext(ctx, "pipeline failed", "error", err)
		failed := &job.Job{
			FileID:  payload.FileID,
			Handler: job.HandlerResult,
			Payload: json.RawMessage(m.Body),
			Error:   err.Error(),
		}
		if err := h.jobs.Record(ctx, failed); err != nil {
			slog.ErrorContext(ctx, "failed to save failed job", "error", err)
		}
		return nil
	}

	slog.InfoContext(ctx, "file chunked", "generation", res.Generation, "chunks", res.ChunksCreated, "tokens", res.TotalTokens)
	return nil
}

// markExtractionFailed fails a file whose text could not be extracted. Only
// the owner's files that have not finished chunking are touched.
func (h *ResultConsumer) markExtractionFailed(ctx context.Context, payload file.ExtractionResult) {
	slog.ErrorContext(ctx, "extraction failed", "error", payload.Error)

	f, err := h.files.GetOwned(ctx, payload.FileID, payload.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.WarnContext(ctx, "dropping extraction failure for unknown file", "user_id", payload.UserID)
			return
		}
		slog.WarnContext(ctx, "failed to load file", "error", err)
		return
	}
	if f.Status != file.StatusPending && f.Status != file.StatusProcessing {
		slog.WarnContext(ctx, "ignoring extraction failure", "status", f.Status)
		return
	}

	reason := payload.Error
	if reason == "" {
		reason = "extraction failed"
	}
	if err := h.files.MarkFailed(ctx, f.ID, reason, 0); err != nil {
		slog.WarnContext(ctx, "failed to mark file failed", "error", err)
	}
}
