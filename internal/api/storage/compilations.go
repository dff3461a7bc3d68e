package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/platecompiler/internal/api/domain"
	"github.com/cuongbtq/platecompiler/internal/api/model"
)

const compilationColumns = `
	compile_id, idempotency_key, plate_ids, printer_model, routine_name, mode,
	skip_missing_routine, status, retry_count, max_retries, diagnostics,
	error_message, compiled_plates, duration_seconds, artifact_digest,
	artifact_size, created_at, updated_at, completed_at
`

// CreateCompilation inserts c unless its idempotency key is already used. It
// returns the stored row and whether it was created by this call.
func (s *Storage) CreateCompilation(ctx context.Context, c *model.Compilation) (*model.Compilation, bool, error) {
	rows, err := s.db.NamedQueryContext(ctx, `
		INSERT INTO compilations (
			compile_id, idempotency_key, plate_ids, printer_model, routine_name,
			mode, skip_missing_routine, status, max_retries, created_at, updated_at
		) VALUES (
			:compile_id, :idempotency_key, :plate_ids, :printer_model, :routine_name,
			:mode, :skip_missing_routine, :status, :max_retries, :created_at, :updated_at
		)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING compile_id
	`, c)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create compilation: %w", err)
	}
	created := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to create compilation: %w", err)
	}

	if created {
		return c, true, nil
	}

	existing, err := s.getCompilation(ctx, "idempotency_key", c.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Storage) GetCompilation(ctx context.Context, compileID string) (*model.Compilation, error) {
	return s.getCompilation(ctx, "compile_id", compileID)
}

func (s *Storage) getCompilation(ctx context.Context, column, value string) (*model.Compilation, error) {
	var c model.Compilation
	query := `SELECT ` + compilationColumns + ` FROM compilations WHERE ` + column + ` = $1`
	if err := s.db.GetContext(ctx, &c, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCompilationNotFound
		}
		return nil, fmt.Errorf("failed to get compilation: %w", err)
	}
	return &c, nil
}

// GetArtifact returns the compressed output of a completed compilation.
func (s *Storage) GetArtifact(ctx context.Context, compileID string) (*model.Artifact, error) {
	var row struct {
		Status string         `db:"status"`
		Data   []byte         `db:"artifact"`
		Digest sql.NullString `db:"artifact_digest"`
		Size   sql.NullInt64  `db:"artifact_size"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT status, artifact, artifact_digest, artifact_size
		FROM compilations
		WHERE compile_id = $1
	`, compileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCompilationNotFound
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	if row.Status != domain.CompileStatusCompleted || len(row.Data) == 0 {
		return nil, domain.ErrArtifactNotReady
	}

	return &model.Artifact{Data: row.Data, Digest: row.Digest.String, Size: row.Size.Int64}, nil
}

// CancelCompilation moves a pending compilation to CANCELED.
func (s *Storage) CancelCompilation(ctx context.Context, compileID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE compilations
		SET status = $1, completed_at = NOW(), updated_at = NOW()
		WHERE compile_id = $2 AND status = $3
	`, domain.CompileStatusCanceled, compileID, domain.CompileStatusPending)
	if err != nil {
		return fmt.Errorf("failed to cancel compilation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.GetCompilation(ctx, compileID); err != nil {
		return err
	}
	return domain.ErrNotCancelable
}
