package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"chunkforge/internal/middleware"
)

// Counter is satisfied by the file, chunk and job repositories.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type ChunkCounter interface {
	CountActive(ctx context.Context) (int, error)
}

type VectorStore interface {
	CountChunks(ctx context.Context) (int, error)
}

type Handler struct {
	files       Counter
	chunks      ChunkCounter
	jobs        Counter
	vectorStore VectorStore
}

func NewHandler(files Counter, chunks ChunkCounter, jobs Counter, v VectorStore) *Handler {
	return &Handler{files: files, chunks: chunks, jobs: jobs, vectorStore: v}
}

type StatsResponse struct {
	Files      int `json:"files"`
	Chunks     int `json:"chunks"`
	Vectors    int `json:"vectors"`
	FailedJobs int `json:"failed_jobs"`
}

func (h *Handler) collect(ctx context.Context) (StatsResponse, error) {
	var resp StatsResponse
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := h.files.Count(gctx)
		if err != nil {
			return fmt.Errorf("count files: %w", err)
		}
		resp.Files = n
		return nil
	})
	g.Go(func() error {
		n, err := h.chunks.CountActive(gctx)
		if err != nil {
			return fmt.Errorf("count chunks: %w", err)
		}
		resp.Chunks = n
		return nil
	})
	g.Go(func() error {
		n, err := h.jobs.Count(gctx)
		if err != nil {
			return fmt.Errorf("count jobs: %w", err)
		}
		resp.FailedJobs = n
		return nil
	})
	g.Go(func() error {
		n, err := h.vectorStore.CountChunks(gctx)
		if err != nil {
			return fmt.Errorf("count vectors: %w", err)
		}
		resp.Vectors = n
		return nil
	})

	err := g.Wait()
	return resp, err
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	resp, err := h.collect(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to collect stats", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
