package file

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"chunkforge/internal/middleware"
)

// Extraction results can carry whole books; cap them at the reader.
const maxExtractionBytes = 50 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkspaceID string         `json:"workspace_id"`
		UserID      string         `json:"user_id"`
		Name        string         `json:"name"`
		SourceType  string         `json:"source_type"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	f := &File{
		WorkspaceID: req.WorkspaceID,
		UserID:      req.UserID,
		Name:        req.Name,
		SourceType:  req.SourceType,
		Metadata:    req.Metadata,
	}
	if err := h.service.Register(r.Context(), f); err != nil {
		if errors.Is(err, ErrInvalidFile) {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(r.Context(), "failed to register file", "error", err, "workspace_id", req.WorkspaceID)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": f}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "workspace_id is required", http.StatusBadRequest)
		return
	}

	files, err := h.service.List(r.Context(), workspaceID)
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []File{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": files,
		"meta": map[string]int{"count": len(files)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	includeChunks := r.URL.Query().Get("exclude_chunks") != "true"

	detail, err := h.service.Get(r.Context(), id, includeChunks)
	if err != nil {
		h.writeLookupError(r.Context(), w, err, "File not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": detail}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeLookupError(r.Context(), w, err, "File not found")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxExtractionBytes)

	var res ExtractionResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(r.Context(), w, "PAYLOAD_TOO_LARGE", "Extraction result too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.SubmitExtraction(r.Context(), r.PathValue("id"), res); err != nil {
		if errors.Is(err, ErrInvalidExtraction) {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.writeLookupError(r.Context(), w, err, "File not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) Reembed(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reembed(r.Context(), r.PathValue("id")); err != nil {
		h.writeLookupError(r.Context(), w, err, "File not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) Citation(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "index must be a non-negative integer", http.StatusBadRequest)
		return
	}

	ref, err := h.service.Citation(r.Context(), r.PathValue("id"), index)
	if err != nil {
		h.writeLookupError(r.Context(), w, err, "Chunk not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": ref}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeLookupError(ctx context.Context, w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(ctx, w, "NOT_FOUND", notFound, http.StatusNotFound)
		return
	}
	slog.ErrorContext(ctx, "file request failed", "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
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
