package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/platecompiler/internal/blob"
	"github.com/cuongbtq/platecompiler/internal/diag"
	"github.com/cuongbtq/platecompiler/internal/plate"
	"github.com/cuongbtq/platecompiler/internal/worker/domain"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimCompilation moves a compilation from PENDING to RUNNING. Only one
// worker can win the claim.
func (s *Storage) ClaimCompilation(ctx context.Context, compileID, workerID string) (*domain.Compilation, error) {
	query := `
		UPDATE compilations
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE compile_id = $3
		  AND status = $4
		RETURNING compile_id, plate_ids, printer_model, routine_name, mode,
		          skip_missing_routine, retry_count, max_retries, timeout_seconds
	`

	var c domain.Compilation
	var plateIDs pq.StringArray
	err := s.db.QueryRowContext(ctx, query, domain.CompileStatusRunning, workerID, compileID, domain.CompileStatusPending).Scan(
		&c.CompileID,
		&plateIDs,
		&c.PrinterModel,
		&c.RoutineName,
		&c.Mode,
		&c.SkipMissingRoutine,
		&c.RetryCount,
		&c.MaxRetries,
		&c.TimeoutSeconds,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim compilation - already claimed or not found",
				slog.String("compile_id", compileID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim compilation: %w", err)
	}
	c.PlateIDs = plateIDs

	s.logger.Info("Compilation claimed",
		slog.String("compile_id", compileID),
		slog.String("worker_id", workerID),
		slog.Int("plates", len(c.PlateIDs)),
	)

	return &c, nil
}

type plateRow struct {
	PlateID         string         `db:"plate_id"`
	Name            string         `db:"name"`
	PrinterModel    string         `db:"printer_model"`
	DurationSeconds int64          `db:"duration_seconds"`
	Filaments       types.JSONText `db:"filaments"`
	Thumbnail       string         `db:"thumbnail"`
	Program         []byte         `db:"program"`
	ProgramDigest   string         `db:"program_digest"`
	SourceEntry     sql.NullString `db:"source_entry"`
	SourceDigest    sql.NullString `db:"source_digest"`
	SourceData      []byte         `db:"source_data"`
}

// LoadPlates reads the plates in the given order and decodes their programs.
// Plates cut from the same container share one decoded copy of it.
func (s *Storage) LoadPlates(ctx context.Context, plateIDs []string) ([]domain.StoredPlate, error) {
	query := `
		SELECT p.plate_id::text AS plate_id, p.name, p.printer_model,
		       p.duration_seconds, p.filaments, p.thumbnail, p.program,
		       p.program_digest, p.source_entry, p.source_digest,
		       a.data AS source_data
		FROM plates p
		LEFT JOIN source_archives a ON a.digest = p.source_digest
		WHERE p.plate_id::text = ANY($1)
	`

	var rows []plateRow
	if err := s.db.SelectContext(ctx, &rows, query, pq.Array(plateIDs)); err != nil {
		return nil, fmt.Errorf("failed to load plates: %w", err)
	}

	byID := make(map[string]*plateRow, len(rows))
	for i := range rows {
		byID[rows[i].PlateID] = &rows[i]
	}

	sources := map[string][]byte{}
	out := make([]domain.StoredPlate, 0, len(plateIDs))
	for _, id := range plateIDs {
		row, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrPlateNotFound, id)
		}

		p, err := decodePlate(row, sources)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func decodePlate(row *plateRow, sources map[string][]byte) (domain.StoredPlate, error) {
	program, err := (&blob.Blob{Digest: row.ProgramDigest, Compressed: row.Program}).Verify()
	if err != nil {
		return domain.StoredPlate{}, fmt.Errorf("failed to decode program of plate %s: %w", row.PlateID, err)
	}

	p := domain.StoredPlate{
		PlateID:      row.PlateID,
		Name:         row.Name,
		PrinterModel: row.PrinterModel,
		Duration:     time.Duration(row.DurationSeconds) * time.Second,
		Thumbnail:    row.Thumbnail,
		Program:      string(program),
	}
	if len(row.Filaments) > 0 {
		if err := row.Filaments.Unmarshal(&p.Filaments); err != nil {
			return domain.StoredPlate{}, fmt.Errorf("failed to decode filaments of plate %s: %w", row.PlateID, err)
		}
	}

	if row.SourceDigest.Valid && len(row.SourceData) > 0 {
		data, ok := sources[row.SourceDigest.String]
		if !ok {
			data, err = (&blob.Blob{Digest: row.SourceDigest.String, Compressed: row.SourceData}).Verify()
			if err != nil {
				return domain.StoredPlate{}, fmt.Errorf("failed to decode source of plate %s: %w", row.PlateID, err)
			}
			sources[row.SourceDigest.String] = data
		}
		p.Source = &plate.SourceArchive{Bytes: data, Entry: row.SourceEntry.String}
	}
	return p, nil
}

// CompleteCompilation stores the artifact and marks the compilation COMPLETED
func (s *Storage) CompleteCompilation(ctx context.Context, compileID string, out *domain.Outcome) error {
	diags, err := marshalDiagnostics(out.Diagnostics)
	if err != nil {
		return err
	}

	query := `
		UPDATE compilations
		SET status = $1,
		    diagnostics = $2,
		    compiled_plates = $3,
		    duration_seconds = $4,
		    artifact = $5,
		    artifact_digest = $6,
		    artifact_size = $7,
		    error_message = NULL,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE compile_id = $8
	`

	_, err = s.db.ExecContext(ctx, query,
		domain.CompileStatusCompleted,
		diags,
		out.Compiled,
		int64(out.Duration/time.Second),
		out.Artifact.Compressed,
		out.Artifact.Digest,
		out.Artifact.Size,
		compileID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete compilation: %w", err)
	}

	s.logger.Info("Compilation status updated",
		slog.String("compile_id", compileID),
		slog.String("status", domain.CompileStatusCompleted),
	)
	return nil
}

// FailCompilation marks the compilation FAILED with its diagnostics
func (s *Storage) FailCompilation(ctx context.Context, compileID string, list diag.List, errorMsg string) error {
	diags, err := marshalDiagnostics(list)
	if err != nil {
		return err
	}

	query := `
		UPDATE compilations
		SET status = $1,
		    diagnostics = $2,
		    error_message = $3,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE compile_id = $4
	`

	if _, err := s.db.ExecContext(ctx, query, domain.CompileStatusFailed, diags, errorMsg, compileID); err != nil {
		return fmt.Errorf("failed to fail compilation: %w", err)
	}

	s.logger.Info("Compilation status updated",
		slog.String("compile_id", compileID),
		slog.String("status", domain.CompileStatusFailed),
	)
	return nil
}

// RequeueCompilation puts a RUNNING compilation back to PENDING for another
// attempt and counts the retry
func (s *Storage) RequeueCompilation(ctx context.Context, compileID, errorMsg string) error {
	query := `
		UPDATE compilations
		SET status = $1,
		    retry_count = retry_count + 1,
		    error_message = $2,
		    worker_id = NULL,
		    updated_at = NOW()
		WHERE compile_id = $3 AND status = $4
	`

	if _, err := s.db.ExecContext(ctx, query, domain.CompileStatusPending, errorMsg, compileID, domain.CompileStatusRunning); err != nil {
		return fmt.Errorf("failed to requeue compilation: %w", err)
	}
	return nil
}

// UpdateHeartbeat updates the last_heartbeat_at timestamp for a running compilation
func (s *Storage) UpdateHeartbeat(ctx context.Context, compileID string) error {
	query := `
		UPDATE compilations
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE compile_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, compileID, domain.CompileStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Heartbeat update - no rows affected (compilation may not be running)",
			slog.String("compile_id", compileID),
		)
	}

	return nil
}

func marshalDiagnostics(list diag.List) ([]byte, error) {
	if list == nil {
		list = diag.List{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal diagnostics: %w", err)
	}
	return data, nil
}
