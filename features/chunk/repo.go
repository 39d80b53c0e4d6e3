package chunk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const chunkColumns = `id, file_id, workspace_id, user_id, generation, chunk_index, content, token_count, start_token, end_token, metadata, is_embedded, is_active, created_at`

func (r *PostgresRepo) ReplaceForFile(ctx context.Context, fileID string, chunks []Chunk) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.WarnContext(ctx, "failed to rollback chunk replace", "file_id", fileID, "error", err)
		}
	}()

	if _, err := tx.ExecContext(ctx, `UPDATE file_chunks SET is_active = FALSE, updated_at = NOW() WHERE file_id = $1 AND is_active = TRUE`, fileID); err != nil {
		return 0, fmt.Errorf("deactivate chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO file_chunks (file_id, workspace_id, user_id, generation, chunk_index, content, token_count, start_token, end_token, metadata, is_embedded, is_active) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, TRUE)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshal metadata for chunk %d: %w", c.ChunkIndex, err)
		}
		if _, err := stmt.ExecContext(ctx, fileID, c.WorkspaceID, c.UserID, c.Generation, c.ChunkIndex, c.Content, c.TokenCount, c.StartToken, c.EndToken, meta); err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit chunks: %w", err)
	}
	return len(chunks), nil
}

func (r *PostgresRepo) SoftDeleteByFile(ctx context.Context, fileID string) error {
	query := `UPDATE file_chunks SET is_active = FALSE, updated_at = NOW() WHERE file_id = $1 AND is_active = TRUE`
	_, err := r.db.ExecContext(ctx, query, fileID)
	return err
}

// DeleteGeneration physically removes one generation. Used to clean up a failed run.
func (r *PostgresRepo) DeleteGeneration(ctx context.Context, fileID, generation string) (int64, error) {
	query := `DELETE FROM file_chunks WHERE file_id = $1 AND generation = $2`
	res, err := r.db.ExecContext(ctx, query, fileID, generation)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) ListActive(ctx context.Context, fileID string) ([]Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM file_chunks WHERE file_id = $1 AND is_active = TRUE ORDER BY chunk_index`
	return r.list(ctx, query, fileID)
}

func (r *PostgresRepo) ListUnembedded(ctx context.Context, fileID string) ([]Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM file_chunks WHERE file_id = $1 AND is_active = TRUE AND is_embedded = FALSE ORDER BY chunk_index`
	return r.list(ctx, query, fileID)
}

func (r *PostgresRepo) GetActiveByIndex(ctx context.Context, fileID string, index int) (*Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM file_chunks WHERE file_id = $1 AND chunk_index = $2 AND is_active = TRUE`
	c, err := scanChunk(r.db.QueryRowContext(ctx, query, fileID, index))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresRepo) MarkEmbedded(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE file_chunks SET is_embedded = TRUE, updated_at = NOW() WHERE id = ANY($1)`
	_, err := r.db.ExecContext(ctx, query, pq.Array(ids))
	return err
}

func (r *PostgresRepo) CountActive(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM file_chunks WHERE is_active = TRUE`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

func (r *PostgresRepo) list(ctx context.Context, query string, args ...interface{}) ([]Chunk, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(s scanner) (*Chunk, error) {
	var c Chunk
	var meta []byte
	if err := s.Scan(&c.ID, &c.FileID, &c.WorkspaceID, &c.UserID, &c.Generation, &c.ChunkIndex, &c.Content,
		&c.TokenCount, &c.StartToken, &c.EndToken, &meta, &c.IsEmbedded, &c.IsActive, &c.CreatedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for chunk %s: %w", c.ID, err)
		}
	}
	return &c, nil
}
