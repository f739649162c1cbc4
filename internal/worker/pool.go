package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/fractal-pipeline/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine. A job that
// has been picked up runs to completion even if ctx is cancelled meanwhile, so
// its delivery is always settled.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	jobCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg := <-w.jobsChan:
			w.handle(jobCtx, workerName, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, workerName string, msg *JobMessage) {
	logger := w.logger.With(
		slog.String("worker_name", workerName),
		slog.String("job_id", msg.Job.ID),
		slog.Uint64("delivery_tag", msg.Delivery.DeliveryTag),
		slog.Bool("redelivered", msg.Delivery.Redelivered),
	)

	err := w.processJob(ctx, msg)
	if err == nil {
		if ackErr := msg.Delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message", slog.String("error", ackErr.Error()))
			return
		}
		logger.Info("Job completed successfully")
		return
	}

	requeue := shouldRequeue(err, msg.Delivery.Redelivered)
	logger.Error("Job processing failed",
		slog.String("error", err.Error()),
		slog.Bool("requeue", requeue),
	)

	if nackErr := msg.Delivery.Nack(false, requeue); nackErr != nil {
		logger.Error("Failed to NACK message", slog.String("error", nackErr.Error()))
	}
}

// shouldRequeue decides whether a failed job goes back on the queue. Only
// jobs that can never render are dropped; panics get one more attempt and a
// rendered result the destination refused always goes back.
func shouldRequeue(err error, redelivered bool) bool {
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return !redelivered
	}

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return true
	}

	return !errors.Is(err, domain.ErrInvalidJob) &&
		!errors.Is(err, domain.ErrInvalidPayload) &&
		!errors.Is(err, domain.ErrUnsupportedFormat)
}
