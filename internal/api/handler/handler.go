package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/platecompiler/internal/api/model"
	"github.com/cuongbtq/platecompiler/internal/api/storage"
	"github.com/cuongbtq/platecompiler/internal/config"
	"github.com/cuongbtq/platecompiler/internal/printer"
)

// PlateStore persists uploaded plates. Implemented by storage.Storage.
type PlateStore interface {
	CreatePlates(ctx context.Context, archives []model.SourceArchive, plates []model.Plate) error
	GetPlate(ctx context.Context, plateID string) (*model.Plate, error)
	ListPlates(ctx context.Context, filter storage.PlateFilter) ([]model.Plate, error)
	MissingPlates(ctx context.Context, plateIDs []string) ([]string, error)
	DeletePlate(ctx context.Context, plateID string) error
}

// CompilationStore persists compile requests and their artifacts.
type CompilationStore interface {
	CreateCompilation(ctx context.Context, c *model.Compilation) (*model.Compilation, bool, error)
	GetCompilation(ctx context.Context, compileID string) (*model.Compilation, error)
	GetArtifact(ctx context.Context, compileID string) (*model.Artifact, error)
	CancelCompilation(ctx context.Context, compileID string) error
}

// Publisher hands compile requests to the worker queue. messageID is the
// broker message id; the compile ID is used so deliveries trace back to rows.
type Publisher interface {
	PublishJSON(ctx context.Context, messageID string, v any) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Plates       PlateStore
	Compilations CompilationStore
	Publisher    Publisher
	Registry     *printer.Registry
	Compile      config.CompileConfig
	// HealthCheck reports backing service health; nil means always healthy.
	HealthCheck func(ctx context.Context) error
}

func (d *Dependencies) registry() *printer.Registry {
	if d.Registry == nil {
		return printer.Default()
	}
	return d.Registry
}
