package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/platecompiler/internal/config"
	"github.com/cuongbtq/platecompiler/internal/service"
	"github.com/cuongbtq/platecompiler/internal/worker"
	"github.com/cuongbtq/platecompiler/internal/worker/storage"
	"github.com/cuongbtq/platecompiler/shared/rabbitmq"
	"github.com/google/uuid"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := service.LoadConfig(flag.CommandLine, os.Args[1:],
		"WORKER_SERVICE_CONFIG_PATH", "configs/worker-service/config.yaml",
		(*config.Config).ValidateWorkerConfig,
	)
	if err != nil {
		return err
	}

	appLogger, err := service.NewLogger(&cfg.Logging)
	if err != nil {
		return err
	}
	defer appLogger.Close()

	id := workerID()
	workerLogger := appLogger.With(slog.String("worker_id", id))

	workerLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.Int("prefetch", cfg.Prefetch()),
	)

	closers := service.NewClosers(appLogger.Logger)
	defer closers.Close()

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	dbClient, err := service.OpenDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return err
	}
	closers.Add("database", dbClient.Close)

	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQ.Broker(cfg.Prefetch()), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	closers.Add("rabbitmq", rabbitClient.Close)

	w := worker.NewWorker(&worker.Config{
		Logger:            workerLogger.Logger,
		Store:             storage.NewStorage(dbClient.GetDB(), appLogger.Logger),
		Consumer:          rabbitClient,
		Registry:          registry,
		WorkerID:          id,
		QueueName:         cfg.RabbitMQ.Queue.Name,
		Concurrency:       cfg.Worker.Concurrency,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		MaxRetries:        cfg.Worker.MaxRetries,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startErr := make(chan error, 1)
	go func() { startErr <- w.Start(ctx) }()

	select {
	case err := <-startErr:
		if err != nil {
			return fmt.Errorf("worker failed: %w", err)
		}
		workerLogger.Info("Delivery channel closed, worker exiting")
		return nil
	case <-ctx.Done():
		workerLogger.Info("Received signal, draining in-flight compilations",
			slog.Duration("timeout", cfg.Worker.ShutdownTimeout),
		)
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		workerLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		workerLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	workerLogger.Info("Worker service shutdown complete")
	return nil
}

// workerID names this process on the queue and in compilations.worker_id
func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
