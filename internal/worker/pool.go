package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/platecompiler/internal/worker/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop runs compilations until jobsChan is closed
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for msg := range w.jobsChan {
		w.logger.Info("Worker received compilation",
			slog.String("worker_name", workerName),
			slog.String("compile_id", msg.CompileID),
			slog.Uint64("delivery_tag", msg.DeliveryTag),
		)

		err := w.processJob(ctx, msg)
		w.settle(workerName, msg, err)
	}

	w.logger.Debug("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

// settle acknowledges the delivery according to the processing result
func (w *Worker) settle(workerName string, msg *domain.CompileMessage, err error) {
	log := w.logger.With(
		slog.String("worker_name", workerName),
		slog.String("compile_id", msg.CompileID),
	)

	// Duplicate deliveries of a claimed compilation are dropped
	if err == nil || errors.Is(err, domain.ErrAlreadyClaimed) {
		if ackErr := msg.Delivery.Ack(false); ackErr != nil {
			log.Error("Failed to ACK message", slog.String("error", ackErr.Error()))
		}
		return
	}

	log.Error("Compilation processing failed", slog.String("error", err.Error()))

	requeue := shouldRequeue(err)
	if nackErr := msg.Delivery.Nack(false, requeue); nackErr != nil {
		log.Error("Failed to NACK message", slog.String("error", nackErr.Error()))
		return
	}
	log.Info("Message NACKed", slog.Bool("requeue", requeue))
}

// shouldRequeue determines if a message should be redelivered based on the error type
func shouldRequeue(err error) bool {
	switch {
	case errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrMaxRetriesExceeded),
		errors.Is(err, domain.ErrRejected),
		errors.Is(err, domain.ErrInvalidMessage):
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
