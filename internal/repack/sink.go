package repack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrEmptyArtifact is returned when there is nothing to export.
var ErrEmptyArtifact = errors.New("empty artifact")

// Sink receives finished container bytes.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, name string, data []byte) error

func (f SinkFunc) Put(ctx context.Context, name string, data []byte) error {
	return f(ctx, name, data)
}

// Export hands data to sink. data must be fully materialized.
func Export(ctx context.Context, sink Sink, name string, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyArtifact
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sink.Put(ctx, name, data); err != nil {
		return fmt.Errorf("failed to export %s: %w", name, err)
	}
	return nil
}

// FileSink writes artifacts under Dir. Files are written to a temporary name
// and renamed into place.
type FileSink struct {
	Dir string
}

func (s FileSink) Put(_ context.Context, name string, data []byte) error {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.Dir, name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}
