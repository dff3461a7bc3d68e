package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/platecompiler/internal/blob"
	"github.com/cuongbtq/platecompiler/internal/compiler"
	"github.com/cuongbtq/platecompiler/internal/diag"
	"github.com/cuongbtq/platecompiler/internal/plate"
	"github.com/cuongbtq/platecompiler/internal/repack"
	"github.com/cuongbtq/platecompiler/internal/worker/domain"
	"github.com/dustin/go-humanize"
)

// processJob claims one compilation, runs it under a timeout with a
// heartbeat, and records the outcome
func (w *Worker) processJob(ctx context.Context, msg *domain.CompileMessage) error {
	// Step 1: Claim compilation (PENDING → RUNNING)
	comp, err := w.store.ClaimCompilation(ctx, msg.CompileID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			w.logger.Warn("Compilation already claimed, skipping",
				slog.String("compile_id", msg.CompileID),
			)
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim compilation: %w", err))
	}

	// Step 2: Timeout from the compilation, falling back to the worker default
	timeout := w.jobTimeout
	if comp.TimeoutSeconds > 0 {
		timeout = time.Duration(comp.TimeoutSeconds) * time.Second
	}
	var jobCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Step 3: Heartbeat until execution returns
	hbCtx, stopHeartbeat := context.WithCancel(jobCtx)
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		w.sendHeartbeat(hbCtx, comp.CompileID)
	}()

	out, execErr := w.execute(jobCtx, comp)

	stopHeartbeat()
	hb.Wait()

	// Status writes must land even when the worker is shutting down
	finishCtx := context.WithoutCancel(ctx)

	if execErr != nil {
		return w.fail(finishCtx, comp, out.Diagnostics, execErr)
	}

	if err := w.store.CompleteCompilation(finishCtx, comp.CompileID, out); err != nil {
		return w.fail(finishCtx, comp, out.Diagnostics, fmt.Errorf("failed to store artifact: %w", err))
	}

	w.logger.Info("Compilation completed",
		slog.String("compile_id", comp.CompileID),
		slog.Int("compiled", out.Compiled),
		slog.Duration("print_time", out.Duration),
		slog.String("artifact_size", humanize.Bytes(uint64(out.Artifact.Size))),
		slog.String("stored_size", humanize.Bytes(uint64(len(out.Artifact.Compressed)))),
	)
	return nil
}

// fail decides between requeue and a terminal FAILED status
func (w *Worker) fail(ctx context.Context, comp *domain.Compilation, list diag.List, err error) error {
	log := w.logger.With(
		slog.String("compile_id", comp.CompileID),
		slog.String("error", err.Error()),
	)

	if errors.Is(err, domain.ErrRejected) {
		log.Warn("Compilation rejected")
		if updateErr := w.store.FailCompilation(ctx, comp.CompileID, list, err.Error()); updateErr != nil {
			log.Error("Failed to update compilation status to FAILED", slog.String("update_error", updateErr.Error()))
		}
		return err
	}

	maxRetries := comp.MaxRetries
	if w.maxRetries > 0 && w.maxRetries < maxRetries {
		maxRetries = w.maxRetries
	}

	if comp.RetryCount < maxRetries {
		log.Info("Compilation will be retried",
			slog.Int("retry_count", comp.RetryCount),
			slog.Int("max_retries", maxRetries),
		)
		if updateErr := w.store.RequeueCompilation(ctx, comp.CompileID, err.Error()); updateErr != nil {
			log.Error("Failed to requeue compilation", slog.String("update_error", updateErr.Error()))
		}
		return domain.NewRetryableError(fmt.Errorf("compilation failed: %w", err))
	}

	log.Warn("Compilation exceeded max retries",
		slog.Int("retry_count", comp.RetryCount),
		slog.Int("max_retries", maxRetries),
	)
	if updateErr := w.store.FailCompilation(ctx, comp.CompileID, list, err.Error()); updateErr != nil {
		log.Error("Failed to update compilation status to FAILED", slog.String("update_error", updateErr.Error()))
	}
	return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, err)
}

// sendHeartbeat periodically updates the compilation's heartbeat timestamp
func (w *Worker) sendHeartbeat(ctx context.Context, compileID string) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.UpdateHeartbeat(ctx, compileID); err != nil && ctx.Err() == nil {
				w.logger.Warn("Failed to update compilation heartbeat",
					slog.String("compile_id", compileID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// rejected marks err as permanent
func rejected(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrRejected, err)
}

// execute compiles the plates and packs the artifact. The returned outcome is
// never nil, so diagnostics survive a failure.
func (w *Worker) execute(ctx context.Context, comp *domain.Compilation) (*domain.Outcome, error) {
	out := &domain.Outcome{}

	target, ok := w.registry.Lookup(comp.PrinterModel)
	if !ok {
		out.Diagnostics.Errorf(diag.SourceCompiler, "unknown printer model %q", comp.PrinterModel)
		return out, rejected(fmt.Errorf("unknown printer model %q", comp.PrinterModel))
	}

	var override *plate.PlateChangeRoutine
	if comp.RoutineName != "" {
		routine, err := w.registry.RoutineByName(comp.RoutineName)
		if err != nil {
			out.Diagnostics.Errorf(diag.SourceCompiler, "%s", err.Error())
			return out, rejected(err)
		}
		override = routine
	}

	mode, err := repack.ParseMode(comp.Mode)
	if err != nil {
		out.Diagnostics.Errorf(diag.SourceRepack, "%s", err.Error())
		return out, rejected(err)
	}

	stored, err := w.store.LoadPlates(ctx, comp.PlateIDs)
	if err != nil {
		if errors.Is(err, domain.ErrPlateNotFound) {
			out.Diagnostics.Errorf(diag.SourceCompiler, "%s", err.Error())
			return out, rejected(err)
		}
		return out, err
	}

	jobs := w.toJobs(stored, &out.Diagnostics)

	policy := compiler.AbortOnMissingRoutine
	if comp.SkipMissingRoutine {
		policy = compiler.SkipOnMissingRoutine
	}

	res, err := compiler.New(compiler.Options{OnMissingRoutine: policy, Now: w.now}).
		CompileContext(ctx, jobs, target, override)
	out.Diagnostics.Extend(res.Diagnostics)
	if err != nil {
		if errors.Is(err, compiler.ErrMissingRoutine) || errors.Is(err, compiler.ErrNoJobs) {
			return out, rejected(err)
		}
		return out, err
	}

	kept := res.Kept(jobs)
	if len(kept) == 0 {
		out.Diagnostics.Errorf(diag.SourceCompiler, "every plate was skipped")
		return out, rejected(compiler.ErrNoJobs)
	}

	data, err := repack.Pack(mode, repack.BuildInput{
		Program:   res.Text,
		Title:     repack.Title(kept),
		Printer:   target,
		Jobs:      kept,
		Duration:  res.Duration,
		Thumbnail: kept[0].Thumbnail,
		Created:   w.now(),
	})
	if err != nil {
		out.Diagnostics.Errorf(diag.SourceRepack, "%s", err.Error())
		return out, rejected(err)
	}

	artifact, err := blob.Encode(data)
	if err != nil {
		return out, err
	}

	out.Compiled = res.Compiled
	out.Duration = res.Duration
	out.Artifact = artifact
	return out, nil
}

// toJobs rebuilds plate jobs from stored rows. Plates whose printer left the
// catalog fall back to the default profile.
func (w *Worker) toJobs(stored []domain.StoredPlate, diags *diag.List) []*plate.Job {
	jobs := make([]*plate.Job, 0, len(stored))
	for _, sp := range stored {
		p, ok := w.registry.Lookup(sp.PrinterModel)
		if !ok {
			p = w.registry.DefaultPrinter()
			diags.Infof(diag.SourceCompiler, "%s: printer %q not in catalog, using %s", sp.Name, sp.PrinterModel, p.Model)
		}
		routine, _ := w.registry.Routine(p.Model)

		j := &plate.Job{
			ID:          sp.PlateID,
			Name:        sp.Name,
			Filaments:   sp.Filaments,
			Program:     plate.ParseRoutine(sp.Program),
			Printer:     p,
			PlateChange: routine,
			Duration:    sp.Duration,
			Thumbnail:   sp.Thumbnail,
			Source:      sp.Source,
		}
		j.EnsureFilaments()
		jobs = append(jobs, j)
	}
	return jobs
}
