// Package service holds the startup and shutdown steps shared by the API and
// worker binaries.
package service

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cuongbtq/platecompiler/internal/config"
	"github.com/cuongbtq/platecompiler/migrations"
	"github.com/cuongbtq/platecompiler/shared/logger"
	"github.com/cuongbtq/platecompiler/shared/postgresql"
	"github.com/joho/godotenv"
)

// MigrateTimeout bounds schema migration at startup
const MigrateTimeout = time.Minute

// LoadConfig reads .env when present, resolves the config path from the
// -config flag, then envVar, then fallback, and validates the result.
func LoadConfig(fs *flag.FlagSet, args []string, envVar, fallback string, validate func(*config.Config) error) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	path := os.Getenv(envVar)
	if path == "" {
		path = fallback
	}
	configPath := fs.String("config", path, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the application logger from the logging section
func NewLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return l, nil
}

// OpenDatabase connects to Postgres and applies the embedded migrations
func OpenDatabase(cfg *config.DatabaseConfig, log *slog.Logger) (*postgresql.Client, error) {
	db, err := postgresql.NewClient(cfg.Postgres(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), MigrateTimeout)
	defer cancel()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Closers releases resources in reverse acquisition order
type Closers struct {
	logger *slog.Logger
	names  []string
	fns    []func() error
}

// NewClosers returns an empty stack logging to log
func NewClosers(log *slog.Logger) *Closers {
	return &Closers{logger: log}
}

// Add registers fn to run on Close
func (c *Closers) Add(name string, fn func() error) {
	c.names = append(c.names, name)
	c.fns = append(c.fns, fn)
}

// Close runs every registered closer, newest first, and joins their errors.
// The stack is empty afterwards.
func (c *Closers) Close() error {
	var errs []error
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil {
			c.logger.Error("Failed to close resource",
				slog.String("resource", c.names[i]),
				slog.Any("error", err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", c.names[i], err))
		}
	}
	c.names, c.fns = nil, nil
	return errors.Join(errs...)
}
