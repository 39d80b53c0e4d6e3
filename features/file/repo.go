package file

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const fileColumns = `id, workspace_id, user_id, name, source_type, processing_status, is_processed, is_active, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*File, error) {
	f := &File{}
	var meta []byte
	if err := row.Scan(&f.ID, &f.WorkspaceID, &f.UserID, &f.Name, &f.SourceType, &f.Status, &f.IsProcessed, &f.IsActive, &meta, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Metadata = map[string]any{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &f.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for file %s: %w", f.ID, err)
		}
	}
	return f, nil
}

func (r *PostgresRepo) Create(ctx context.Context, f *File) error {
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(f.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := `INSERT INTO files (workspace_id, user_id, name, source_type, metadata) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, f.WorkspaceID, f.UserID, f.Name, f.SourceType, meta).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1 AND is_active = TRUE`
	return scanFile(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) GetOwned(ctx context.Context, id, userID string) (*File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1 AND user_id = $2 AND is_active = TRUE`
	return scanFile(r.db.QueryRowContext(ctx, query, id, userID))
}

func (r *PostgresRepo) List(ctx context.Context, workspaceID string) ([]File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE workspace_id = $1 AND is_active = TRUE ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// updateStatus sets the status and merges patch into metadata after removing
// the listed keys. A file that is gone or inactive yields sql.ErrNoRows.
func (r *PostgresRepo) updateStatus(ctx context.Context, id, status string, processed bool, patch map[string]any, drop ...string) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal metadata patch: %w", err)
	}
	if drop == nil {
		drop = []string{}
	}
	query := `UPDATE files SET processing_status = $2, is_processed = $3, metadata = (metadata - $4::text[]) || $5::jsonb, updated_at = NOW() WHERE id = $1 AND is_active = TRUE`
	res, err := r.db.ExecContext(ctx, query, id, status, processed, pq.Array(drop), body)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	return r.updateStatus(ctx, id, StatusProcessing, false, map[string]any{
		"chunkingStarted": startedAt.UTC().Format(time.RFC3339Nano),
	}, "chunkingFailed", "error")
}

func (r *PostgresRepo) MarkCompleted(ctx context.Context, id string, c Completion) error {
	return r.updateStatus(ctx, id, StatusCompleted, true, map[string]any{
		"chunkingCompleted": c.FinishedAt.UTC().Format(time.RFC3339Nano),
		"chunksCreated":     c.ChunksCreated,
		"totalPages":        c.TotalPages,
		"totalTokens":       c.TotalTokens,
	})
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, id, reason string, chunksCreated int) error {
	return r.updateStatus(ctx, id, StatusFailed, false, map[string]any{
		"chunkingFailed": time.Now().UTC().Format(time.RFC3339Nano),
		"error":          reason,
		"chunksCreated":  chunksCreated,
	}, "chunkingCompleted")
}

func (r *PostgresRepo) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE files SET is_active = FALSE, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM files WHERE is_active = TRUE`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
