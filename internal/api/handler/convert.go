package handler

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/platecompiler/internal/api/dto"
	"github.com/cuongbtq/platecompiler/internal/api/model"
	"github.com/cuongbtq/platecompiler/internal/blob"
	"github.com/cuongbtq/platecompiler/internal/compiler"
	"github.com/cuongbtq/platecompiler/internal/ingest"
	"github.com/cuongbtq/platecompiler/internal/plate"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// uploadRows turns ingest results into rows. Each container is stored once,
// however many plates it holds.
func uploadRows(uploadID string, results []ingest.Result, now time.Time) ([]model.SourceArchive, []model.Plate, error) {
	var archives []model.SourceArchive
	var plates []model.Plate

	for _, res := range results {
		var source sql.NullString
		for _, job := range res.Jobs {
			if job.HasSource() && !source.Valid {
				b, err := blob.Encode(job.Source.Bytes)
				if err != nil {
					return nil, nil, fmt.Errorf("failed to encode source of %s: %w", res.Name, err)
				}
				archives = append(archives, model.SourceArchive{Digest: b.Digest, Data: b.Compressed, SizeBytes: b.Size})
				source = sql.NullString{String: b.Digest, Valid: true}
			}

			row, err := plateRow(uploadID, res.Name, job, source, now)
			if err != nil {
				return nil, nil, err
			}
			plates = append(plates, row)
		}
	}
	return archives, plates, nil
}

func plateRow(uploadID, fileName string, job *plate.Job, source sql.NullString, now time.Time) (model.Plate, error) {
	program, err := blob.Encode([]byte(job.Program.String()))
	if err != nil {
		return model.Plate{}, fmt.Errorf("failed to encode program of %s: %w", job.Name, err)
	}

	filaments, err := json.Marshal(job.Filaments)
	if err != nil {
		return model.Plate{}, fmt.Errorf("failed to marshal filaments: %w", err)
	}

	row := model.Plate{
		PlateID:         uuid.NewString(),
		UploadID:        uploadID,
		Name:            job.Name,
		FileName:        fileName,
		PrinterModel:    job.Printer.Model,
		DurationSeconds: int64(job.Duration / time.Second),
		Filaments:       types.JSONText(filaments),
		Thumbnail:       job.Thumbnail,
		Program:         program.Compressed,
		ProgramDigest:   program.Digest,
		ProgramSize:     program.Size,
		SourceDigest:    source,
		CreatedAt:       now,
	}
	if source.Valid && job.HasSource() {
		row.SourceEntry = sql.NullString{String: job.Source.Entry, Valid: true}
	}
	return row, nil
}

// plateDTO renders a stored plate. A corrupt filaments column is logged and
// rendered as no filaments.
func (h *PlateHandler) plateDTO(p *model.Plate) dto.PlateDTO {
	var filaments []plate.Filament
	if len(p.Filaments) > 0 {
		if err := p.Filaments.Unmarshal(&filaments); err != nil {
			h.logger.Warn("Failed to decode plate filaments",
				slog.String("plate_id", p.PlateID),
				slog.String("error", err.Error()),
			)
			filaments = nil
		}
	}
	d := time.Duration(p.DurationSeconds) * time.Second

	return dto.PlateDTO{
		PlateID:         p.PlateID,
		UploadID:        p.UploadID,
		Name:            p.Name,
		FileName:        p.FileName,
		PrinterModel:    p.PrinterModel,
		Duration:        compiler.FormatDuration(d),
		DurationSeconds: p.DurationSeconds,
		Filaments:       filaments,
		Thumbnail:       p.Thumbnail,
		HasSource:       p.SourceDigest.Valid,
		ProgramSize:     p.ProgramSize,
		ProgramDigest:   p.ProgramDigest,
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
	}
}

func compilationDTO(c *model.Compilation) dto.CompilationDTO {
	diags := json.RawMessage(c.Diagnostics)
	if len(diags) == 0 {
		diags = json.RawMessage("[]")
	}

	out := dto.CompilationDTO{
		CompileID:          c.CompileID,
		IdempotencyKey:     c.IdempotencyKey,
		PlateIDs:           []string(c.PlateIDs),
		PrinterModel:       c.PrinterModel,
		RoutineName:        c.RoutineName,
		Mode:               c.Mode,
		SkipMissingRoutine: c.SkipMissingRoutine,
		Status:             c.Status,
		RetryCount:         c.RetryCount,
		CompiledPlates:     c.CompiledPlates,
		Diagnostics:        diags,
		ErrorMessage:       c.ErrorMessage.String,
		CreatedAt:          c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          c.UpdatedAt.Format(time.RFC3339),
	}
	if c.DurationSeconds > 0 {
		out.Duration = compiler.FormatDuration(time.Duration(c.DurationSeconds) * time.Second)
	}
	if c.CompletedAt.Valid {
		out.CompletedAt = c.CompletedAt.Time.Format(time.RFC3339)
	}
	if c.ArtifactDigest.Valid {
		out.Artifact = &dto.ArtifactDTO{
			Digest: c.ArtifactDigest.String,
			Size:   c.ArtifactSize.Int64,
			URL:    "/api/v1/compilations/" + c.CompileID + "/artifact",
		}
	}
	return out
}
