package model

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// Plate is one stored plate job. Program holds the xz-compressed G-code.
type Plate struct {
	PlateID         string         `db:"plate_id"`
	UploadID        string         `db:"upload_id"`
	Name            string         `db:"name"`
	FileName        string         `db:"file_name"`
	PrinterModel    string         `db:"printer_model"`
	DurationSeconds int64          `db:"duration_seconds"`
	Filaments       types.JSONText `db:"filaments"`
	Thumbnail       string         `db:"thumbnail"`
	Program         []byte         `db:"program"`
	ProgramDigest   string         `db:"program_digest"`
	ProgramSize     int64          `db:"program_size"`
	SourceDigest    sql.NullString `db:"source_digest"`
	SourceEntry     sql.NullString `db:"source_entry"`
	CreatedAt       time.Time      `db:"created_at"`
}

// SourceArchive is a deduplicated, xz-compressed upload container.
type SourceArchive struct {
	Digest    string `db:"digest"`
	Data      []byte `db:"data"`
	SizeBytes int64  `db:"size_bytes"`
}

// Compilation is a merge request and, once done, its result.
type Compilation struct {
	CompileID          string         `db:"compile_id"`
	IdempotencyKey     string         `db:"idempotency_key"`
	PlateIDs           pq.StringArray `db:"plate_ids"`
	PrinterModel       string         `db:"printer_model"`
	RoutineName        string         `db:"routine_name"`
	Mode               string         `db:"mode"`
	SkipMissingRoutine bool           `db:"skip_missing_routine"`
	Status             string         `db:"status"`
	RetryCount         int            `db:"retry_count"`
	MaxRetries         int            `db:"max_retries"`
	Diagnostics        types.JSONText `db:"diagnostics"`
	ErrorMessage       sql.NullString `db:"error_message"`
	CompiledPlates     int            `db:"compiled_plates"`
	DurationSeconds    int64          `db:"duration_seconds"`
	ArtifactDigest     sql.NullString `db:"artifact_digest"`
	ArtifactSize       sql.NullInt64  `db:"artifact_size"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
	CompletedAt        sql.NullTime   `db:"completed_at"`
}

// Artifact is the compressed output container of a compilation.
type Artifact struct {
	Data   []byte `db:"artifact"`
	Digest string `db:"artifact_digest"`
	Size   int64  `db:"artifact_size"`
}
