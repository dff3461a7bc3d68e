package dto

import (
	"github.com/cuongbtq/platecompiler/internal/diag"
	"github.com/cuongbtq/platecompiler/internal/plate"
)

type ListPlatesRequest struct {
	UploadID     string `form:"upload_id" binding:"omitempty,uuid"`
	PrinterModel string `form:"printer_model"`
	PageSize     int    `form:"page_size"`
	Cursor       string `form:"cursor"`
}

type ListPlatesResponse struct {
	Plates     []PlateDTO `json:"plates"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type PlateDTO struct {
	PlateID         string           `json:"plate_id"`
	UploadID        string           `json:"upload_id"`
	Name            string           `json:"name"`
	FileName        string           `json:"file_name"`
	PrinterModel    string           `json:"printer_model"`
	Duration        string           `json:"duration"`
	DurationSeconds int64            `json:"duration_seconds"`
	Filaments       []plate.Filament `json:"filaments"`
	Thumbnail       string           `json:"thumbnail,omitempty"`
	HasSource       bool             `json:"has_source"`
	ProgramSize     int64            `json:"program_size"`
	ProgramDigest   string           `json:"program_digest"`
	CreatedAt       string           `json:"created_at"`
}

// FileResultDTO reports what one uploaded file produced.
type FileResultDTO struct {
	FileName    string    `json:"file_name"`
	Plates      int       `json:"plates"`
	Diagnostics diag.List `json:"diagnostics"`
}

type UploadPlatesResponse struct {
	UploadID string          `json:"upload_id"`
	Plates   []PlateDTO      `json:"plates"`
	Files    []FileResultDTO `json:"files"`
}
