// Package tracker consumes render results from the result queue and
// reconciles them into the record catalog.
//
// Only transient reconcile failures are requeued. Every other reconcile
// error, including unknown or already finalized jobs, is logged and the
// result acknowledged, so the queue keeps moving at the cost of a dropped
// result.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/fractal-pipeline/internal/domain"
	"github.com/cuongbtq/fractal-pipeline/internal/message"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Source is the result queue the tracker consumes from
type Source interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	Reconnect(ctx context.Context) error
}

type Config struct {
	Logger        *slog.Logger
	Source        Source
	Reconciler    Reconciler
	ConsumerTag   string
	PrefetchCount int
}

// Tracker runs the receive, reconcile, acknowledge loop
type Tracker struct {
	logger        *slog.Logger
	source        Source
	reconciler    Reconciler
	consumerTag   string
	prefetchCount int
}

func New(cfg *Config) *Tracker {
	return &Tracker{
		logger:        cfg.Logger,
		source:        cfg.Source,
		reconciler:    cfg.Reconciler,
		consumerTag:   cfg.ConsumerTag,
		prefetchCount: cfg.PrefetchCount,
	}
}

// Start consumes results until ctx is cancelled. A result being reconciled
// when ctx is cancelled is still settled before Start returns.
func (t *Tracker) Start(ctx context.Context) error {
	t.logger.Info("Starting tracker",
		slog.String("consumer_tag", t.consumerTag),
		slog.Int("prefetch_count", t.prefetchCount),
	)

	for {
		deliveries, err := t.source.Consume(t.consumerTag, t.prefetchCount)
		if err != nil {
			return fmt.Errorf("failed to start consuming: %w", err)
		}

		t.consume(ctx, deliveries)

		if ctx.Err() != nil {
			t.logger.Info("Tracker context canceled, stopping...")
			return nil
		}

		if err := t.source.Reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to resume consuming: %w", err)
		}
	}
}

func (t *Tracker) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	settleCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				t.logger.Warn("RabbitMQ delivery channel closed")
				return
			}
			t.handle(settleCtx, delivery)
		}
	}
}

func (t *Tracker) handle(ctx context.Context, delivery amqp.Delivery) {
	logger := t.logger.With(
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
		slog.Bool("redelivered", delivery.Redelivered),
	)

	result, err := message.DecodeResult(message.FromDelivery(delivery))
	if err == nil {
		err = validateResult(result)
	}
	if err != nil {
		logger.Error("Rejecting undecodable result",
			slog.String("content_type", delivery.ContentType),
			slog.Any("error", err),
		)
		nack(logger, delivery, false)
		return
	}

	logger = logger.With(slog.String("job_id", result.JobID))

	err = t.reconciler.Reconcile(ctx, result)
	switch {
	case err == nil:
		logger.Info("Result reconciled",
			slog.String("checksum", result.Checksum),
			slog.Duration("duration", result.Duration),
		)
	case errors.Is(err, domain.ErrRecordNotFound), errors.Is(err, domain.ErrRecordFinalized):
		logger.Warn("Result not recorded, discarding", slog.String("reason", err.Error()))
	case domain.IsRetryable(err):
		logger.Error("Failed to reconcile result, requeueing", slog.String("error", err.Error()))
		nack(logger, delivery, true)
		return
	default:
		logger.Warn("Result rejected by record catalog, discarding", slog.String("error", err.Error()))
	}

	if err := delivery.Ack(false); err != nil {
		logger.Error("Failed to ACK message", slog.String("error", err.Error()))
	}
}

func validateResult(result domain.RenderResult) error {
	if _, err := uuid.Parse(result.JobID); err != nil {
		return fmt.Errorf("%w: job id %q", domain.ErrInvalidPayload, result.JobID)
	}
	if !domain.ValidChecksum(result.Checksum) {
		return fmt.Errorf("%w: checksum %q", domain.ErrInvalidPayload, result.Checksum)
	}
	if result.Duration < 0 {
		return fmt.Errorf("%w: negative duration", domain.ErrInvalidPayload)
	}
	return nil
}

func nack(logger *slog.Logger, delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		logger.Error("Failed to NACK message", slog.String("error", err.Error()))
	}
}
