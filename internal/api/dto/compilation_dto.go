package dto

import (
	"encoding/json"

	"github.com/cuongbtq/platecompiler/internal/plate"
)

type CreateCompilationRequest struct {
	IdempotencyKey     string   `json:"idempotency_key" binding:"required"`
	PlateIDs           []string `json:"plate_ids" binding:"required,min=1,dive,uuid"`
	PrinterModel       string   `json:"printer_model" binding:"required"`
	RoutineName        string   `json:"routine_name"`
	Mode               string   `json:"mode"`
	SkipMissingRoutine *bool    `json:"skip_missing_routine"`
}

type ArtifactDTO struct {
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
	URL    string `json:"url"`
}

type CompilationDTO struct {
	CompileID          string          `json:"compile_id"`
	IdempotencyKey     string          `json:"idempotency_key"`
	PlateIDs           []string        `json:"plate_ids"`
	PrinterModel       string          `json:"printer_model"`
	RoutineName        string          `json:"routine_name,omitempty"`
	Mode               string          `json:"mode"`
	SkipMissingRoutine bool            `json:"skip_missing_routine"`
	Status             string          `json:"status"`
	RetryCount         int             `json:"retry_count"`
	CompiledPlates     int             `json:"compiled_plates"`
	Duration           string          `json:"duration,omitempty"`
	Diagnostics        json.RawMessage `json:"diagnostics"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	Artifact           *ArtifactDTO    `json:"artifact,omitempty"`
	CreatedAt          string          `json:"created_at"`
	UpdatedAt          string          `json:"updated_at"`
	CompletedAt        string          `json:"completed_at,omitempty"`
}

type PrinterDTO struct {
	plate.Printer
	DefaultRoutine string `json:"default_routine,omitempty"`
	Default        bool   `json:"default"`
}

type RoutineDTO struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Model       string `json:"model"`
	Lines       int    `json:"lines"`
}
