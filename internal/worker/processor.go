package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/fractal-pipeline/internal/domain"
	"github.com/cuongbtq/fractal-pipeline/internal/render"
)

// PanicError reports a panic recovered while rendering a job
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("render panicked: %v", e.Value)
}

// DeliveryError reports a rendered result its destination did not take
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return "failed to deliver result: " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// processJob renders one job, stores the optional artifact and delivers the result
func (w *Worker) processJob(ctx context.Context, msg *JobMessage) error {
	job := msg.Job

	w.logger.Info("Processing job",
		slog.String("job_id", job.ID),
		slog.Int("width", job.Width),
		slog.Int("height", job.Height),
		slog.Int("iterations", job.Iterations),
	)

	start := time.Now()
	frame, err := w.render(job)
	if err != nil {
		return err
	}

	png, err := render.EncodePNG(frame.Image)
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to encode image: %w", err))
	}
	elapsed := time.Since(start)
	checksum := render.Checksum(png)

	w.logger.Info("Job rendered",
		slog.String("job_id", job.ID),
		slog.Duration("duration", elapsed),
		slog.String("checksum", checksum),
		slog.Int("size", len(png)),
		slog.Int("constant_attempts", frame.Attempts),
	)

	if w.artifacts != nil {
		path, err := w.artifacts.Write(job.ID, png)
		if err != nil {
			return domain.NewRetryableError(err)
		}
		w.logger.Info("Image written", slog.String("job_id", job.ID), slog.String("path", path))
	}

	result := domain.RenderResult{
		JobID:       job.ID,
		Duration:    elapsed,
		Checksum:    checksum,
		Size:        int64(len(png)),
		GeneratedBy: w.hostname,
	}
	if w.includeImage {
		result.Image = png
	}

	err = w.deliverer.Deliver(ctx, result)
	if errors.Is(err, domain.ErrRecordNotFound) || errors.Is(err, domain.ErrRecordFinalized) {
		w.logger.Warn("Result not recorded, discarding",
			slog.String("job_id", job.ID),
			slog.String("reason", err.Error()),
		)
		return nil
	}
	if err != nil {
		return &DeliveryError{Err: err}
	}

	return nil
}

// render runs the renderer and turns a panic into a PanicError
func (w *Worker) render(job domain.Job) (frame *render.Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()

	frame, err = w.renderer.Render(job)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidJob) {
			return nil, err
		}
		return nil, domain.NewRetryableError(fmt.Errorf("failed to render: %w", err))
	}
	return frame, nil
}
