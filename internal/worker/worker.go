package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/fractal-pipeline/internal/domain"
	"github.com/cuongbtq/fractal-pipeline/internal/render"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Source is the job queue the worker consumes from
type Source interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	Reconnect(ctx context.Context) error
}

// JobMessage is a decoded job together with the delivery that carried it
type JobMessage struct {
	Job      domain.Job
	Delivery amqp.Delivery
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Source        Source
	Renderer      *render.Renderer
	Deliverer     Deliverer
	Artifacts     *ArtifactWriter
	WorkerID      string
	Hostname      string
	Concurrency   int
	PrefetchCount int
	IncludeImage  bool
}

// Worker consumes render jobs and delivers their results
type Worker struct {
	logger        *slog.Logger
	source        Source
	renderer      *render.Renderer
	deliverer     Deliverer
	artifacts     *ArtifactWriter
	workerID      string
	hostname      string
	concurrency   int
	prefetchCount int
	includeImage  bool
	jobsChan      chan *JobMessage
	wg            sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := max(cfg.Concurrency, 1)

	return &Worker{
		logger:        cfg.Logger,
		source:        cfg.Source,
		renderer:      cfg.Renderer,
		deliverer:     cfg.Deliverer,
		artifacts:     cfg.Artifacts,
		workerID:      cfg.WorkerID,
		hostname:      cfg.Hostname,
		concurrency:   concurrency,
		prefetchCount: cfg.PrefetchCount,
		includeImage:  cfg.IncludeImage,
		jobsChan:      make(chan *JobMessage),
	}
}

// Start consumes jobs until ctx is cancelled, re-subscribing whenever the
// broker drops the delivery channel. It returns once in-flight jobs have been
// acknowledged.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer w.wg.Wait()
	defer cancel()

	w.spawnWorkerPool(ctx)

	for {
		deliveries, err := w.setupConsumer()
		if err != nil {
			return err
		}

		w.startMessageDispatcher(ctx, deliveries)

		if ctx.Err() != nil {
			w.logger.Info("Worker context canceled, stopping...")
			return nil
		}

		if err := w.source.Reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to resume consuming: %w", err)
		}
	}
}
