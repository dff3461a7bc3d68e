package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/platecompiler/internal/diag"
	"github.com/cuongbtq/platecompiler/internal/plate"
	"github.com/cuongbtq/platecompiler/internal/platetest"
	"github.com/cuongbtq/platecompiler/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var fixedNow = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

type fakeStore struct {
	mu         sync.Mutex
	comps      map[string]*domain.Compilation
	claimed    map[string]bool
	plates     map[string]domain.StoredPlate
	claimErr   error
	loadErr    error
	completed  map[string]*domain.Outcome
	failed     map[string]string
	failDiags  map[string]diag.List
	requeued   map[string]string
	heartbeats int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		comps:     map[string]*domain.Compilation{},
		claimed:   map[string]bool{},
		plates:    map[string]domain.StoredPlate{},
		completed: map[string]*domain.Outcome{},
		failed:    map[string]string{},
		failDiags: map[string]diag.List{},
		requeued:  map[string]string{},
	}
}

func (s *fakeStore) addPlate(p domain.StoredPlate) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.PlateID == "" {
		p.PlateID = uuid.NewString()
	}
	s.plates[p.PlateID] = p
	return p.PlateID
}

func (s *fakeStore) addCompilation(c *domain.Compilation) *domain.Compilation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CompileID == "" {
		c.CompileID = uuid.NewString()
	}
	s.comps[c.CompileID] = c
	return c
}

func (s *fakeStore) ClaimCompilation(_ context.Context, compileID, _ string) (*domain.Compilation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	c, ok := s.comps[compileID]
	if !ok || s.claimed[compileID] {
		return nil, domain.ErrAlreadyClaimed
	}
	s.claimed[compileID] = true
	cp := *c
	return &cp, nil
}

func (s *fakeStore) LoadPlates(_ context.Context, plateIDs []string) ([]domain.StoredPlate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]domain.StoredPlate, 0, len(plateIDs))
	for _, id := range plateIDs {
		p, ok := s.plates[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrPlateNotFound, id)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) CompleteCompilation(_ context.Context, compileID string, out *domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[compileID] = out
	return nil
}

func (s *fakeStore) FailCompilation(_ context.Context, compileID string, list diag.List, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[compileID] = errorMsg
	s.failDiags[compileID] = list
	return nil
}

func (s *fakeStore) RequeueCompilation(_ context.Context, compileID, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requeued[compileID] = errorMsg
	delete(s.claimed, compileID)
	return nil
}

func (s *fakeStore) UpdateHeartbeat(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats++
	return nil
}

type fakeConsumer struct {
	deliveries chan amqp.Delivery
	err        error
}

func (c *fakeConsumer) Consume(string) (<-chan amqp.Delivery, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.deliveries, nil
}

type settlement struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	settled chan settlement
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{settled: make(chan settlement, 16)}
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.settled <- settlement{tag: tag, ack: true}
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.settled <- settlement{tag: tag, requeue: requeue}
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func delivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: []byte(body)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(store *fakeStore, consumer Consumer) *Worker {
	w := NewWorker(&Config{
		Logger:      discardLogger(),
		Store:       store,
		Consumer:    consumer,
		WorkerID:    "worker-test",
		QueueName:   "compile_queue",
		Concurrency: 2,
		JobTimeout:  time.Minute,
	})
	w.now = fixedNow
	return w
}

func storedPlate(name string) domain.StoredPlate {
	return domain.StoredPlate{
		Name:         name,
		PrinterModel: "A1 mini",
		Duration:     10 * time.Minute,
		Filaments:    []plate.Filament{{Color: "#FF0000", Kind: plate.KindPLA, WeightGrams: 12.5}},
		Program:      platetest.DefaultGCode().String(),
	}
}

func storedPlateWithSource(name string, source []byte) domain.StoredPlate {
	p := storedPlate(name)
	p.Source = &plate.SourceArchive{Bytes: source, Entry: "Metadata/plate_1.gcode"}
	return p
}
