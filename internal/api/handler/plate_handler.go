package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cuongbtq/platecompiler/internal/api/domain"
	"github.com/cuongbtq/platecompiler/internal/api/dto"
	"github.com/cuongbtq/platecompiler/internal/api/storage"
	"github.com/cuongbtq/platecompiler/internal/ingest"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const uploadField = "files"

// PlateHandler handles plate upload and browsing
type PlateHandler struct {
	logger    *slog.Logger
	plates    PlateStore
	loader    *ingest.Loader
	maxUpload int64
	now       func() time.Time
}

// NewPlateHandler creates a new PlateHandler instance
func NewPlateHandler(deps *Dependencies) *PlateHandler {
	return &PlateHandler{
		logger:    deps.Logger,
		plates:    deps.Plates,
		loader:    ingest.NewLoader(deps.registry()),
		maxUpload: deps.Compile.MaxUploadBytes,
		now:       time.Now,
	}
}

// UploadPlates handles POST /api/v1/plates
// Accepts one or more .3mf or .gcode files in the "files" form field
func (h *PlateHandler) UploadPlates(c *gin.Context) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("upload exceeds %s", humanize.Bytes(uint64(h.maxUpload))),
			})
			return
		}
		h.logger.Error("Invalid multipart form", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid multipart form",
		})
		return
	}

	files := form.File[uploadField]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "at least one file is required in field " + uploadField,
		})
		return
	}

	srcs := make([]ingest.Source, 0, len(files))
	var total uint64
	for _, fh := range files {
		data, err := readFormFile(fh)
		if err != nil {
			h.logger.Error("Failed to read uploaded file",
				slog.String("file", fh.Filename),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Failed to read file " + fh.Filename,
			})
			return
		}
		total += uint64(len(data))
		srcs = append(srcs, ingest.Source{Name: fh.Filename, Data: data})
	}

	results, err := h.loader.LoadFiles(c.Request.Context(), srcs)
	if err != nil {
		h.logger.Warn("Upload canceled", slog.String("error", err.Error()))
		c.JSON(http.StatusRequestTimeout, gin.H{
			"error": "Upload canceled",
		})
		return
	}

	fileResults := make([]dto.FileResultDTO, len(results))
	for i, r := range results {
		fileResults[i] = dto.FileResultDTO{FileName: r.Name, Plates: len(r.Jobs), Diagnostics: r.Diagnostics}
	}

	uploadID := uuid.NewString()
	archives, rows, err := uploadRows(uploadID, results, h.now().UTC())
	if err != nil {
		h.logger.Error("Failed to encode plates", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to encode plates",
		})
		return
	}

	if len(rows) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "no plates found in upload",
			"files": fileResults,
		})
		return
	}

	if err := h.plates.CreatePlates(c.Request.Context(), archives, rows); err != nil {
		h.logger.Error("Failed to store plates", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store plates",
		})
		return
	}

	h.logger.Info("Plates uploaded",
		slog.String("upload_id", uploadID),
		slog.Int("files", len(files)),
		slog.Int("plates", len(rows)),
		slog.String("size", humanize.Bytes(total)),
	)

	plates := make([]dto.PlateDTO, len(rows))
	for i := range rows {
		plates[i] = h.plateDTO(&rows[i])
	}

	c.JSON(http.StatusCreated, dto.UploadPlatesResponse{
		UploadID: uploadID,
		Plates:   plates,
		Files:    fileResults,
	})
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// GetPlate handles GET /api/v1/plates/:plate_id
func (h *PlateHandler) GetPlate(c *gin.Context) {
	plateID, ok := uuidParam(c, "plate_id")
	if !ok {
		return
	}

	p, err := h.plates.GetPlate(c.Request.Context(), plateID)
	if err != nil {
		if errors.Is(err, domain.ErrPlateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "plate not found",
			})
			return
		}
		h.logger.Error("Failed to get plate", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get plate",
		})
		return
	}

	c.JSON(http.StatusOK, h.plateDTO(p))
}

// ListPlates handles GET /api/v1/plates
// Lists plates newest first with cursor pagination
func (h *PlateHandler) ListPlates(c *gin.Context) {
	var req dto.ListPlatesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodePlateCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	rows, err := h.plates.ListPlates(c.Request.Context(), storage.PlateFilter{
		UploadID:     req.UploadID,
		PrinterModel: req.PrinterModel,
		PageSize:     req.PageSize,
		Cursor:       cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list plates", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list plates",
		})
		return
	}

	hasMore := len(rows) > req.PageSize
	if hasMore {
		rows = rows[:req.PageSize]
	}

	plates := make([]dto.PlateDTO, len(rows))
	for i := range rows {
		plates[i] = h.plateDTO(&rows[i])
	}

	var nextCursor string
	if hasMore {
		last := rows[len(rows)-1]
		nextCursor = EncodePlateCursor(&storage.PlateCursor{
			CreatedAt: last.CreatedAt,
			PlateID:   last.PlateID,
		})
	}

	c.JSON(http.StatusOK, dto.ListPlatesResponse{
		Plates:     plates,
		NextCursor: nextCursor,
	})
}

// DeletePlate handles DELETE /api/v1/plates/:plate_id
func (h *PlateHandler) DeletePlate(c *gin.Context) {
	plateID, ok := uuidParam(c, "plate_id")
	if !ok {
		return
	}

	err := h.plates.DeletePlate(c.Request.Context(), plateID)
	switch {
	case err == nil:
		h.logger.Info("Plate deleted", slog.String("plate_id", plateID))
		c.Status(http.StatusNoContent)
	case errors.Is(err, domain.ErrPlateNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "plate not found",
		})
	case errors.Is(err, domain.ErrPlateInUse):
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
	default:
		h.logger.Error("Failed to delete plate", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete plate",
		})
	}
}

// uuidParam reads a path parameter and answers 400 when it is not a UUID.
func uuidParam(c *gin.Context, name string) (string, bool) {
	v := c.Param(name)
	if _, err := uuid.Parse(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": name + " must be a valid UUID",
		})
		return "", false
	}
	return v, true
}
