package handler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cuongbtq/platecompiler/internal/api/domain"
	"github.com/cuongbtq/platecompiler/internal/api/model"
	"github.com/cuongbtq/platecompiler/internal/api/storage"
	"github.com/cuongbtq/platecompiler/internal/config"
	"github.com/gin-gonic/gin"
)

type fakePlateStore struct {
	mu       sync.Mutex
	archives []model.SourceArchive
	plates   map[string]model.Plate
	listed   []model.Plate
	filter   storage.PlateFilter
	inUse    map[string]bool
	err      error
}

func newFakePlateStore() *fakePlateStore {
	return &fakePlateStore{plates: map[string]model.Plate{}, inUse: map[string]bool{}}
}

func (s *fakePlateStore) CreatePlates(_ context.Context, archives []model.SourceArchive, plates []model.Plate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.archives = append(s.archives, archives...)
	for _, p := range plates {
		s.plates[p.PlateID] = p
	}
	return nil
}

func (s *fakePlateStore) GetPlate(_ context.Context, plateID string) (*model.Plate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plates[plateID]
	if !ok {
		return nil, domain.ErrPlateNotFound
	}
	return &p, nil
}

func (s *fakePlateStore) ListPlates(_ context.Context, filter storage.PlateFilter) ([]model.Plate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = filter
	if s.err != nil {
		return nil, s.err
	}
	n := min(len(s.listed), filter.PageSize+1)
	return s.listed[:n], nil
}

func (s *fakePlateStore) MissingPlates(_ context.Context, plateIDs []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []string
	for _, id := range plateIDs {
		if _, ok := s.plates[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *fakePlateStore) DeletePlate(_ context.Context, plateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse[plateID] {
		return domain.ErrPlateInUse
	}
	if _, ok := s.plates[plateID]; !ok {
		return domain.ErrPlateNotFound
	}
	delete(s.plates, plateID)
	return nil
}

type fakeCompilationStore struct {
	mu        sync.Mutex
	byID      map[string]*model.Compilation
	byKey     map[string]*model.Compilation
	artifacts map[string]*model.Artifact
}

func newFakeCompilationStore() *fakeCompilationStore {
	return &fakeCompilationStore{
		byID:      map[string]*model.Compilation{},
		byKey:     map[string]*model.Compilation{},
		artifacts: map[string]*model.Artifact{},
	}
}

func (s *fakeCompilationStore) put(c *model.Compilation) {
	s.byID[c.CompileID] = c
	s.byKey[c.IdempotencyKey] = c
}

func (s *fakeCompilationStore) CreateCompilation(_ context.Context, c *model.Compilation) (*model.Compilation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byKey[c.IdempotencyKey]; ok {
		return existing, false, nil
	}
	s.put(c)
	return c, true, nil
}

func (s *fakeCompilationStore) GetCompilation(_ context.Context, compileID string) (*model.Compilation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[compileID]
	if !ok {
		return nil, domain.ErrCompilationNotFound
	}
	return c, nil
}

func (s *fakeCompilationStore) GetArtifact(_ context.Context, compileID string) (*model.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[compileID]; !ok {
		return nil, domain.ErrCompilationNotFound
	}
	a, ok := s.artifacts[compileID]
	if !ok {
		return nil, domain.ErrArtifactNotReady
	}
	return a, nil
}

func (s *fakeCompilationStore) CancelCompilation(_ context.Context, compileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[compileID]
	if !ok {
		return domain.ErrCompilationNotFound
	}
	if c.Status != domain.CompileStatusPending {
		return domain.ErrNotCancelable
	}
	c.Status = domain.CompileStatusCanceled
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	ids  []string
	sent []any
	err  error
}

func (p *fakePublisher) PublishJSON(_ context.Context, messageID string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.ids = append(p.ids, messageID)
	p.sent = append(p.sent, v)
	return nil
}

var errBroker = errors.New("broker unavailable")

type testEnv struct {
	plates       *fakePlateStore
	compilations *fakeCompilationStore
	publisher    *fakePublisher
	engine       *gin.Engine
	logs         bytes.Buffer
}

func newTestEnv() *testEnv {
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		plates:       newFakePlateStore(),
		compilations: newFakeCompilationStore(),
		publisher:    &fakePublisher{},
	}
	deps := &Dependencies{
		Logger:       slog.New(slog.NewJSONHandler(&env.logs, nil)),
		Plates:       env.plates,
		Compilations: env.compilations,
		Publisher:    env.publisher,
		Compile: config.CompileConfig{
			Mode:           "build",
			MaxPlates:      3,
			MaxUploadBytes: config.DefaultMaxUploadBytes,
		},
	}

	plates := NewPlateHandler(deps)
	compilations := NewCompilationHandler(deps)
	printers := NewPrinterHandler(deps)

	r := gin.New()
	r.POST("/plates", plates.UploadPlates)
	r.GET("/plates", plates.ListPlates)
	r.GET("/plates/:plate_id", plates.GetPlate)
	r.DELETE("/plates/:plate_id", plates.DeletePlate)
	r.POST("/compilations", compilations.CreateCompilation)
	r.GET("/compilations/:compile_id", compilations.GetCompilation)
	r.GET("/compilations/:compile_id/artifact", compilations.GetArtifact)
	r.POST("/compilations/:compile_id/cancel", compilations.CancelCompilation)
	r.GET("/printers", printers.ListPrinters)
	r.GET("/routines", printers.ListRoutines)
	env.engine = r

	return env
}
