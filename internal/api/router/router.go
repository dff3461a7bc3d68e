package router

import (
	"net/http"

	"github.com/cuongbtq/platecompiler/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "plate-api-service",
					"error":   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "plate-api-service",
		})
	})

	plateHandler := handler.NewPlateHandler(deps)
	compilationHandler := handler.NewCompilationHandler(deps)
	printerHandler := handler.NewPrinterHandler(deps)

	v1 := r.Group("/api/v1")
	{
		plates := v1.Group("/plates")
		{
			// POST /api/v1/plates - Upload .3mf / .gcode files
			plates.POST("", plateHandler.UploadPlates)

			// GET /api/v1/plates - List plates with cursor pagination
			plates.GET("", plateHandler.ListPlates)

			// GET /api/v1/plates/:plate_id - Get plate details
			plates.GET("/:plate_id", plateHandler.GetPlate)

			// DELETE /api/v1/plates/:plate_id - Delete a plate
			plates.DELETE("/:plate_id", plateHandler.DeletePlate)
		}

		compilations := v1.Group("/compilations")
		{
			// POST /api/v1/compilations - Queue a merge of plates
			compilations.POST("", compilationHandler.CreateCompilation)

			// GET /api/v1/compilations/:compile_id - Status and diagnostics
			compilations.GET("/:compile_id", compilationHandler.GetCompilation)

			// GET /api/v1/compilations/:compile_id/artifact - Download the container
			compilations.GET("/:compile_id/artifact", compilationHandler.GetArtifact)

			// POST /api/v1/compilations/:compile_id/cancel - Cancel a pending compilation
			compilations.POST("/:compile_id/cancel", compilationHandler.CancelCompilation)
		}

		v1.GET("/printers", printerHandler.ListPrinters)
		v1.GET("/routines", printerHandler.ListRoutines)
	}

	return r
}
