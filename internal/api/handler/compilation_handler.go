package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/platecompiler/internal/api/domain"
	"github.com/cuongbtq/platecompiler/internal/api/dto"
	"github.com/cuongbtq/platecompiler/internal/api/model"
	"github.com/cuongbtq/platecompiler/internal/blob"
	"github.com/cuongbtq/platecompiler/internal/config"
	"github.com/cuongbtq/platecompiler/internal/printer"
	"github.com/cuongbtq/platecompiler/internal/repack"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ArtifactContentType is the media type of compiled containers.
const ArtifactContentType = "application/vnd.ms-package.3dmanufacturing-3dmodel+xml"

// CompileMessage is published for every new compilation.
type CompileMessage struct {
	CompileID string `json:"compile_id"`
}

// CompilationHandler handles compile requests
type CompilationHandler struct {
	logger       *slog.Logger
	plates       PlateStore
	compilations CompilationStore
	publisher    Publisher
	registry     *printer.Registry
	defaults     config.CompileConfig
	now          func() time.Time
}

// NewCompilationHandler creates a new CompilationHandler instance
func NewCompilationHandler(deps *Dependencies) *CompilationHandler {
	return &CompilationHandler{
		logger:       deps.Logger,
		plates:       deps.Plates,
		compilations: deps.Compilations,
		publisher:    deps.Publisher,
		registry:     deps.registry(),
		defaults:     deps.Compile,
		now:          time.Now,
	}
}

// CreateCompilation handles POST /api/v1/compilations
// Validates the request, stores it as PENDING and queues it for a worker
func (h *CompilationHandler) CreateCompilation(c *gin.Context) {
	var req dto.CreateCompilationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	comp, err := h.newCompilation(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()

	missing, err := h.plates.MissingPlates(ctx, req.PlateIDs)
	if err != nil {
		h.logger.Error("Failed to check plates", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to check plates",
		})
		return
	}
	if len(missing) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          "unknown plate ids",
			"missing_plates": missing,
		})
		return
	}

	stored, created, err := h.compilations.CreateCompilation(ctx, comp)
	if err != nil {
		h.logger.Error("Failed to create compilation", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create compilation",
		})
		return
	}

	// A replayed request for a compilation that never left PENDING is
	// published again; the worker claim drops duplicates.
	if created || stored.Status == domain.CompileStatusPending {
		if err := h.publisher.PublishJSON(ctx, stored.CompileID, CompileMessage{CompileID: stored.CompileID}); err != nil {
			h.logger.Error("Failed to publish compilation",
				slog.String("compile_id", stored.CompileID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":      "Failed to queue compilation, retry with the same idempotency_key",
				"compile_id": stored.CompileID,
			})
			return
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusAccepted
		h.logger.Info("Compilation queued",
			slog.String("compile_id", stored.CompileID),
			slog.Int("plates", len(stored.PlateIDs)),
			slog.String("printer_model", stored.PrinterModel),
			slog.String("mode", stored.Mode),
		)
	}

	c.JSON(status, compilationDTO(stored))
}

// newCompilation checks the request against the printer catalog and the
// compile limits.
func (h *CompilationHandler) newCompilation(req *dto.CreateCompilationRequest) (*model.Compilation, error) {
	if h.defaults.MaxPlates > 0 && len(req.PlateIDs) > h.defaults.MaxPlates {
		return nil, fmt.Errorf("too many plates: %d (max %d)", len(req.PlateIDs), h.defaults.MaxPlates)
	}

	p, ok := h.registry.Lookup(req.PrinterModel)
	if !ok {
		return nil, fmt.Errorf("unknown printer model %q", req.PrinterModel)
	}

	routineName := strings.TrimSpace(req.RoutineName)
	if routineName != "" {
		if _, err := h.registry.RoutineByName(routineName); err != nil {
			return nil, err
		}
	}

	modeName := req.Mode
	if modeName == "" {
		modeName = h.defaults.Mode
	}
	mode, err := repack.ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	skip := h.defaults.SkipMissingRoutine
	if req.SkipMissingRoutine != nil {
		skip = *req.SkipMissingRoutine
	}

	now := h.now().UTC()
	return &model.Compilation{
		CompileID:          uuid.NewString(),
		IdempotencyKey:     req.IdempotencyKey,
		PlateIDs:           pq.StringArray(req.PlateIDs),
		PrinterModel:       p.Model,
		RoutineName:        routineName,
		Mode:               string(mode),
		SkipMissingRoutine: skip,
		Status:             domain.CompileStatusPending,
		MaxRetries:         domain.DefaultMaxRetries,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// GetCompilation handles GET /api/v1/compilations/:compile_id
func (h *CompilationHandler) GetCompilation(c *gin.Context) {
	compileID, ok := uuidParam(c, "compile_id")
	if !ok {
		return
	}

	comp, err := h.compilations.GetCompilation(c.Request.Context(), compileID)
	if err != nil {
		h.compilationError(c, err, "Failed to get compilation")
		return
	}

	c.JSON(http.StatusOK, compilationDTO(comp))
}

// GetArtifact handles GET /api/v1/compilations/:compile_id/artifact
// Streams the compiled container
func (h *CompilationHandler) GetArtifact(c *gin.Context) {
	compileID, ok := uuidParam(c, "compile_id")
	if !ok {
		return
	}

	art, err := h.compilations.GetArtifact(c.Request.Context(), compileID)
	if err != nil {
		h.compilationError(c, err, "Failed to get artifact")
		return
	}

	b := blob.Blob{Digest: art.Digest, Size: art.Size, Compressed: art.Data}
	data, err := b.Verify()
	if err != nil {
		h.logger.Error("Stored artifact is corrupt",
			slog.String("compile_id", compileID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Stored artifact is corrupt",
		})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.gcode.3mf"`, compileID))
	c.Header("X-Content-Digest", "blake3="+art.Digest)
	c.Data(http.StatusOK, ArtifactContentType, data)
}

// CancelCompilation handles POST /api/v1/compilations/:compile_id/cancel
// Only compilations still waiting for a worker can be canceled
func (h *CompilationHandler) CancelCompilation(c *gin.Context) {
	compileID, ok := uuidParam(c, "compile_id")
	if !ok {
		return
	}

	if err := h.compilations.CancelCompilation(c.Request.Context(), compileID); err != nil {
		h.compilationError(c, err, "Failed to cancel compilation")
		return
	}

	h.logger.Info("Compilation canceled", slog.String("compile_id", compileID))
	c.JSON(http.StatusOK, gin.H{
		"compile_id": compileID,
		"status":     domain.CompileStatusCanceled,
	})
}

func (h *CompilationHandler) compilationError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrCompilationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "compilation not found"})
	case errors.Is(err, domain.ErrArtifactNotReady), errors.Is(err, domain.ErrNotCancelable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
