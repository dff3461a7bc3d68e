package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/platecompiler/internal/api/handler"
	"github.com/cuongbtq/platecompiler/internal/api/router"
	"github.com/cuongbtq/platecompiler/internal/api/storage"
	"github.com/cuongbtq/platecompiler/internal/config"
	"github.com/cuongbtq/platecompiler/internal/printer"
	"github.com/cuongbtq/platecompiler/internal/service"
	"github.com/cuongbtq/platecompiler/shared/postgresql"
	"github.com/cuongbtq/platecompiler/shared/rabbitmq"
	"github.com/gin-gonic/gin"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := service.LoadConfig(flag.CommandLine, os.Args[1:],
		"API_SERVICE_CONFIG_PATH", "configs/api-service/config.yaml",
		(*config.Config).ValidateAPIConfig,
	)
	if err != nil {
		return err
	}

	appLogger, err := service.NewLogger(&cfg.Logging)
	if err != nil {
		return err
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	closers := service.NewClosers(appLogger.Logger)
	defer closers.Close()

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	appLogger.Info("Printer catalog loaded",
		slog.Int("printers", len(registry.Printers())),
		slog.Int("routines", len(registry.Routines())),
	)

	dbClient, err := service.OpenDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return err
	}
	closers.Add("database", dbClient.Close)

	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQ.Broker(0), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	closers.Add("rabbitmq", rabbitClient.Close)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      initRouter(cfg, appLogger.Logger, dbClient, rabbitClient, registry),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info("HTTP server listening",
			slog.String("address", srv.Addr),
			slog.Int64("max_upload_bytes", cfg.Compile.MaxUploadBytes),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		appLogger.Info("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

func initRouter(cfg *config.Config, logger *slog.Logger, dbClient *postgresql.Client, publisher *rabbitmq.Client, registry *printer.Registry) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	store := storage.NewStorage(dbClient)

	return router.SetupRouter(&handler.Dependencies{
		Logger:       logger,
		Plates:       store,
		Compilations: store,
		Publisher:    publisher,
		Registry:     registry,
		Compile:      cfg.Compile,
		HealthCheck:  dbClient.HealthCheck,
	})
}
