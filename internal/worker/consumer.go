package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/platecompiler/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer starts consuming from the compile queue. QoS is applied by
// the rabbitmq client from its prefetch setting.
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	consumerTag := w.workerID

	deliveries, err := w.consumer.Consume(consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", consumerTag),
		slog.String("worker_id", w.workerID),
		slog.String("queue", w.queueName),
	)

	return deliveries, nil
}

// parseMessage decodes a delivery body into a compile message. A body
// without compile_id falls back to the AMQP message id, which publishers set
// to the compile ID.
func parseMessage(delivery amqp.Delivery) (*domain.CompileMessage, error) {
	var msg domain.CompileMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	if msg.CompileID == "" {
		msg.CompileID = delivery.MessageId
	}
	if _, err := uuid.Parse(msg.CompileID); err != nil {
		return nil, fmt.Errorf("%w: compile_id %q is not a UUID", domain.ErrInvalidMessage, msg.CompileID)
	}

	msg.DeliveryTag = delivery.DeliveryTag
	msg.Delivery = delivery
	return &msg, nil
}

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches compilations to the worker pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			msg, err := parseMessage(delivery)
			if err != nil {
				w.logger.Error("Dropping malformed message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// Malformed messages go to the dead letter exchange, if any
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Compilation dispatched to worker pool",
					slog.String("compile_id", msg.CompileID),
					slog.Uint64("delivery_tag", msg.DeliveryTag),
					slog.Bool("redelivered", delivery.Redelivered),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching compilation")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}
