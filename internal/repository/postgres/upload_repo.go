// internal/repository/postgres/upload_repo.go
package postgres

import (
	"context"
	"fmt"

	"audiotricks-service/internal/domain/upload"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UploadRepository struct {
	db querier
}

func NewUploadRepository(db *pgxpool.Pool) *UploadRepository {
	return &UploadRepository{db: db}
}

func (r *UploadRepository) WithTx(tx pgx.Tx) *UploadRepository {
	return &UploadRepository{db: tx}
}

const uploadColumns = `id::text, user_id, workspace_id, filename, content_type, size_bytes, chunk_size, total_parts,
	status, storage_key, created_at, completed_at`

func scanUpload(row pgx.Row) (*upload.Upload, error) {
	var u upload.Upload
	err := row.Scan(&u.ID, &u.UserID, &u.WorkspaceID, &u.Filename, &u.ContentType, &u.SizeBytes, &u.ChunkSize,
		&u.TotalParts, &u.Status, &u.StorageKey, &u.CreatedAt, &u.CompletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *UploadRepository) Create(ctx context.Context, u *upload.Upload) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO uploads (id, user_id, workspace_id, filename, content_type, size_bytes, chunk_size, total_parts, status, storage_key)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, u.ID, u.UserID, u.WorkspaceID, u.Filename, u.ContentType, u.SizeBytes, u.ChunkSize, u.TotalParts, u.Status, u.StorageKey,
	).Scan(&u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}
	return nil
}

func (r *UploadRepository) FindByID(ctx context.Context, id string) (*upload.Upload, error) {
	u, err := scanUpload(r.db.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1::uuid`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to find upload: %w", err)
	}
	return u, nil
}

// UpsertPart records a stored part; a re-sent part replaces the previous one.
func (r *UploadRepository) UpsertPart(ctx context.Context, p *upload.Part) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO upload_parts (upload_id, part_number, size_bytes, checksum, storage_key)
		VALUES ($1::uuid, $2, $3, $4, $5)
		ON CONFLICT (upload_id, part_number) DO UPDATE
		SET size_bytes = EXCLUDED.size_bytes, checksum = EXCLUDED.checksum,
		    storage_key = EXCLUDED.storage_key, created_at = NOW()
		RETURNING created_at
	`, p.UploadID, p.PartNumber, p.SizeBytes, p.Checksum, p.StorageKey).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save upload part: %w", err)
	}
	return nil
}

func (r *UploadRepository) ListParts(ctx context.Context, uploadID string) ([]*upload.Part, error) {
	rows, err := r.db.Query(ctx, `
		SELECT upload_id::text, part_number, size_bytes, checksum, storage_key, created_at
		FROM upload_parts WHERE upload_id = $1::uuid ORDER BY part_number
	`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload parts: %w", err)
	}
	defer rows.Close()

	parts := []*upload.Part{}
	for rows.Next() {
		var p upload.Part
		if err := rows.Scan(&p.UploadID, &p.PartNumber, &p.SizeBytes, &p.Checksum, &p.StorageKey, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload part: %w", err)
		}
		parts = append(parts, &p)
	}
	return parts, rows.Err()
}

// Transition moves the upload from one of the allowed states to next.
func (r *UploadRepository) Transition(ctx context.Context, id string, next upload.Status, from ...upload.Status) error {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE uploads
		SET status = $2, completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE completed_at END
		WHERE id = $1::uuid AND status = ANY($3)
	`, id, next, fromStrs)
	if err != nil {
		return fmt.Errorf("failed to update upload status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %s cannot move to %s: %w", id, next, xerrors.ErrInvalidState)
	}
	return nil
}

func (r *UploadRepository) DeleteParts(ctx context.Context, uploadID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM upload_parts WHERE upload_id = $1::uuid`, uploadID); err != nil {
		return fmt.Errorf("failed to delete upload parts: %w", err)
	}
	return nil
}
