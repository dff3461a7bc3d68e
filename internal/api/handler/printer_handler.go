package handler

import (
	"net/http"
	"strings"

	"github.com/cuongbtq/platecompiler/internal/api/dto"
	"github.com/cuongbtq/platecompiler/internal/printer"
	"github.com/gin-gonic/gin"
)

// PrinterHandler serves the printer catalog
type PrinterHandler struct {
	registry *printer.Registry
}

func NewPrinterHandler(deps *Dependencies) *PrinterHandler {
	return &PrinterHandler{registry: deps.registry()}
}

// ListPrinters handles GET /api/v1/printers
func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	def := h.registry.DefaultPrinter()
	printers := h.registry.Printers()

	out := make([]dto.PrinterDTO, len(printers))
	for i, p := range printers {
		out[i] = dto.PrinterDTO{Printer: p, Default: p.Model == def.Model}
		if r, ok := h.registry.Routine(p.Model); ok {
			out[i].DefaultRoutine = r.Name
		}
	}

	c.JSON(http.StatusOK, gin.H{"printers": out})
}

// ListRoutines handles GET /api/v1/routines
// The optional model query parameter filters by printer model
func (h *PrinterHandler) ListRoutines(c *gin.Context) {
	model := c.Query("model")

	out := []dto.RoutineDTO{}
	for _, r := range h.registry.Routines() {
		if model != "" && !strings.EqualFold(r.Model, model) {
			continue
		}
		out = append(out, dto.RoutineDTO{
			Name:        r.Name,
			Description: r.Description,
			Model:       r.Model,
			Lines:       r.Program.Len(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"routines": out})
}
