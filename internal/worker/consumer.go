package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/fractal-pipeline/internal/message"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer subscribes to the job queue with manual acks and the configured prefetch
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.source.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands them to the worker pool.
// It returns when ctx is cancelled or the delivery channel closes.
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

			job, err := message.DecodeJob(message.FromDelivery(delivery))
			if err == nil {
				err = job.Validate()
			}
			if err != nil {
				w.logger.Error("Rejecting undecodable job",
					slog.String("content_type", delivery.ContentType),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
					slog.Any("error", err),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- &JobMessage{Job: job, Delivery: delivery}:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", job.ID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
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
