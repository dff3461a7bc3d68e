package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/platecompiler/internal/api/domain"
	"github.com/cuongbtq/platecompiler/internal/api/model"
	"github.com/cuongbtq/platecompiler/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return New(pg.GetDB())
}

// New wraps an open database handle.
func New(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

// plateColumns leaves out the program blob, which only the worker reads.
const plateColumns = `
	plate_id, upload_id, name, file_name, printer_model, duration_seconds,
	filaments, thumbnail, program_digest, program_size, source_digest,
	source_entry, created_at
`

// CreatePlates stores the source containers and plates of one upload. Source
// containers already present (same digest) are kept as they are.
func (s *Storage) CreatePlates(ctx context.Context, archives []model.SourceArchive, plates []model.Plate) error {
	return postgresql.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for _, a := range archives {
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO source_archives (digest, data, size_bytes)
				VALUES (:digest, :data, :size_bytes)
				ON CONFLICT (digest) DO NOTHING
			`, a)
			if err != nil {
				return fmt.Errorf("failed to store source archive: %w", err)
			}
		}

		for _, p := range plates {
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO plates (
					plate_id, upload_id, name, file_name, printer_model,
					duration_seconds, filaments, thumbnail, program,
					program_digest, program_size, source_digest, source_entry,
					created_at
				) VALUES (
					:plate_id, :upload_id, :name, :file_name, :printer_model,
					:duration_seconds, :filaments, :thumbnail, :program,
					:program_digest, :program_size, :source_digest, :source_entry,
					:created_at
				)
			`, p)
			if err != nil {
				return fmt.Errorf("failed to create plate: %w", err)
			}
		}
		return nil
	})
}

func (s *Storage) GetPlate(ctx context.Context, plateID string) (*model.Plate, error) {
	var plate model.Plate
	err := s.db.GetContext(ctx, &plate, `SELECT `+plateColumns+` FROM plates WHERE plate_id = $1`, plateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPlateNotFound
		}
		return nil, fmt.Errorf("failed to get plate: %w", err)
	}

	return &plate, nil
}

type PlateFilter struct {
	UploadID     string
	PrinterModel string
	PageSize     int
	Cursor       *PlateCursor
}

type PlateCursor struct {
	CreatedAt time.Time
	PlateID   string
}

func (s *Storage) ListPlates(ctx context.Context, filter PlateFilter) ([]model.Plate, error) {
	query := `SELECT ` + plateColumns + ` FROM plates WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UploadID != "" {
		query += fmt.Sprintf(" AND upload_id = $%d", argIdx)
		args = append(args, filter.UploadID)
		argIdx++
	}

	if filter.PrinterModel != "" {
		query += fmt.Sprintf(" AND printer_model = $%d", argIdx)
		args = append(args, filter.PrinterModel)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, plate_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.PlateID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, plate_id DESC"

	// One extra row tells the caller whether another page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var plates []model.Plate
	if err := s.db.SelectContext(ctx, &plates, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list plates: %w", err)
	}

	return plates, nil
}

// MissingPlates returns the ids in plateIDs that are not stored.
func (s *Storage) MissingPlates(ctx context.Context, plateIDs []string) ([]string, error) {
	var found []string
	err := s.db.SelectContext(ctx, &found, `SELECT plate_id::text FROM plates WHERE plate_id::text = ANY($1)`, pq.Array(plateIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to check plates: %w", err)
	}

	have := make(map[string]bool, len(found))
	for _, id := range found {
		have[id] = true
	}

	var missing []string
	for _, id := range plateIDs {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// DeletePlate removes a plate and, when no other plate uses it, its source
// container. Plates referenced by a pending or running compilation are kept.
func (s *Storage) DeletePlate(ctx context.Context, plateID string) error {
	return postgresql.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var inUse bool
		err := tx.GetContext(ctx, &inUse, `
			SELECT EXISTS (
				SELECT 1 FROM compilations
				WHERE $1 = ANY(plate_ids) AND status IN ($2, $3)
			)
		`, plateID, domain.CompileStatusPending, domain.CompileStatusRunning)
		if err != nil {
			return fmt.Errorf("failed to check plate usage: %w", err)
		}
		if inUse {
			return domain.ErrPlateInUse
		}

		var source sql.NullString
		err = tx.GetContext(ctx, &source, `DELETE FROM plates WHERE plate_id = $1 RETURNING source_digest`, plateID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrPlateNotFound
			}
			return fmt.Errorf("failed to delete plate: %w", err)
		}

		if source.Valid {
			_, err = tx.ExecContext(ctx, `
				DELETE FROM source_archives
				WHERE digest = $1
				  AND NOT EXISTS (SELECT 1 FROM plates WHERE source_digest = $1)
			`, source.String)
			if err != nil {
				return fmt.Errorf("failed to delete source archive: %w", err)
			}
		}
		return nil
	})
}
