package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/platecompiler/internal/diag"
	"github.com/cuongbtq/platecompiler/internal/printer"
	"github.com/cuongbtq/platecompiler/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Store is the persistence the worker needs
type Store interface {
	ClaimCompilation(ctx context.Context, compileID, workerID string) (*domain.Compilation, error)
	LoadPlates(ctx context.Context, plateIDs []string) ([]domain.StoredPlate, error)
	CompleteCompilation(ctx context.Context, compileID string, out *domain.Outcome) error
	FailCompilation(ctx context.Context, compileID string, list diag.List, errorMsg string) error
	RequeueCompilation(ctx context.Context, compileID, errorMsg string) error
	UpdateHeartbeat(ctx context.Context, compileID string) error
}

// Consumer delivers compile messages
type Consumer interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Store             Store
	Consumer          Consumer
	Registry          *printer.Registry
	WorkerID          string
	QueueName         string
	Concurrency       int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	// MaxRetries caps the retry limit stored with each compilation. Zero keeps the stored limit.
	MaxRetries int
}

// Worker consumes compile messages and runs them on a fixed pool of goroutines
type Worker struct {
	logger            *slog.Logger
	store             Store
	consumer          Consumer
	registry          *printer.Registry
	workerID          string
	queueName         string
	concurrency       int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	maxRetries        int
	now               func() time.Time

	jobsChan chan *domain.CompileMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	registry := cfg.Registry
	if registry == nil {
		registry = printer.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	return &Worker{
		logger:            cfg.Logger,
		store:             cfg.Store,
		consumer:          cfg.Consumer,
		registry:          registry,
		workerID:          cfg.WorkerID,
		queueName:         cfg.QueueName,
		concurrency:       concurrency,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: heartbeat,
		maxRetries:        cfg.MaxRetries,
		now:               time.Now,
		jobsChan:          make(chan *domain.CompileMessage),
		stopChan:          make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Start consumes messages until ctx is canceled, Stop is called or the
// delivery channel closes. It returns once every in-flight compilation has
// been settled.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return nil
	}
	defer close(w.done)

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("heartbeat_interval", w.heartbeatInterval),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()

	w.logger.Info("Worker context canceled, stopped")
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	if w.started.Load() {
		<-w.done
	}
	w.logger.Info("Worker stopped")
}
