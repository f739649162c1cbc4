package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuongbtq/fractal-pipeline/internal/api/storage"
	"github.com/cuongbtq/fractal-pipeline/internal/domain"
)

// Reconciler writes a render result onto the job's record
type Reconciler interface {
	Reconcile(ctx context.Context, result domain.RenderResult) error
}

// Completer is the record service client surface used in api mode
type Completer interface {
	Complete(ctx context.Context, result domain.RenderResult) error
}

// APIReconciler reconciles through the record service HTTP API
type APIReconciler struct {
	records Completer
}

func NewAPIReconciler(records Completer) *APIReconciler {
	return &APIReconciler{records: records}
}

func (r *APIReconciler) Reconcile(ctx context.Context, result domain.RenderResult) error {
	return r.records.Complete(ctx, result)
}

// DatabaseReconciler writes straight into the record store
type DatabaseReconciler struct {
	store storage.Store
}

func NewDatabaseReconciler(store storage.Store) *DatabaseReconciler {
	return &DatabaseReconciler{store: store}
}

func (r *DatabaseReconciler) Reconcile(ctx context.Context, result domain.RenderResult) error {
	completion := storage.Completion{
		Checksum:    result.Checksum,
		Duration:    result.DurationSeconds(),
		Image:       result.Image,
		GeneratedBy: result.GeneratedBy,
	}
	switch {
	case result.Size > 0:
		completion.Size = &result.Size
	case len(result.Image) > 0:
		size := int64(len(result.Image))
		completion.Size = &size
	}

	_, err := r.store.CompleteFractal(ctx, result.JobID, completion)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrRecordNotFound) || errors.Is(err, domain.ErrRecordFinalized) {
		return err
	}
	return domain.NewRetryableError(fmt.Errorf("failed to complete fractal %s: %w", result.JobID, err))
}
