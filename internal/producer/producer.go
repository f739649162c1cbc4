package producer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/fractal-pipeline/internal/domain"
	"github.com/cuongbtq/fractal-pipeline/internal/message"
	"github.com/cuongbtq/fractal-pipeline/internal/sampler"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Registrar records a job with the record service before it is enqueued
type Registrar interface {
	Register(ctx context.Context, job domain.Job) error
}

// Publisher puts an encoded job onto the job queue
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string, headers amqp.Table) error
}

// Config controls batch size, pacing and wire format
type Config struct {
	OneShot     bool
	Tasks       sampler.IntRange
	Pause       sampler.DurationRange
	ContentType string
}

// Producer generates batches of random jobs
type Producer struct {
	config    Config
	sampler   *sampler.Sampler
	registrar Registrar
	publisher Publisher
	logger    *slog.Logger
}

func New(config Config, s *sampler.Sampler, registrar Registrar, publisher Publisher, logger *slog.Logger) *Producer {
	if config.ContentType == "" {
		config.ContentType = message.ContentTypeJSON
	}

	return &Producer{
		config:    config,
		sampler:   s,
		registrar: registrar,
		publisher: publisher,
		logger:    logger,
	}
}

// Run produces batches until ctx is cancelled. In one-shot mode it runs a
// single batch and returns its error; otherwise batch errors are logged and
// the producer pauses before the next batch.
func (p *Producer) Run(ctx context.Context) error {
	for {
		published, err := p.RunCycle(ctx)

		if p.config.OneShot {
			return err
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("Batch aborted",
				slog.Int("published", published),
				slog.Any("error", err),
			)
		}

		pause := p.sampler.DurationBetween(p.config.Pause)
		p.logger.Info("Sleeping before next batch", slog.Duration("pause", pause))

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("Producer stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle generates one batch. Invalid jobs are skipped; the first
// registration or publish failure aborts the batch.
func (p *Producer) RunCycle(ctx context.Context) (int, error) {
	count := p.sampler.IntBetween(p.config.Tasks)
	p.logger.Info("Generating batch", slog.Int("tasks", count))

	published := 0
	for i := 0; i < count; i++ {
		job := p.sampler.Sample()

		if err := job.Validate(); err != nil {
			p.logger.Warn("Skipping invalid job",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
			continue
		}

		if err := p.produce(ctx, job); err != nil {
			return published, err
		}
		published++
	}

	p.logger.Info("Batch complete", slog.Int("published", published))
	return published, nil
}

func (p *Producer) produce(ctx context.Context, job domain.Job) error {
	if err := p.registrar.Register(ctx, job); err != nil {
		return fmt.Errorf("failed to register job %s: %w", job.ID, err)
	}

	env, err := message.EncodeJob(job, p.config.ContentType)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	if err := p.publisher.PublishWithRetry(ctx, env.Body, env.ContentType, env.Headers()); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", job.ID, err)
	}

	p.logger.Info("Job published",
		slog.String("job_id", job.ID),
		slog.Int("width", job.Width),
		slog.Int("height", job.Height),
		slog.Int("iterations", job.Iterations),
		slog.Float64("xa", job.XA),
		slog.Float64("xb", job.XB),
		slog.Float64("ya", job.YA),
		slog.Float64("yb", job.YB),
	)
	return nil
}
