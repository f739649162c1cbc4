package domain

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Job is one fractal rendering work unit. It is created by the producer and
// never modified afterwards.
type Job struct {
	ID         string
	Width      int
	Height     int
	Iterations int
	XA         float64
	XB         float64
	YA         float64
	YB         float64
}

// Validate checks the invariants a job must satisfy before it is enqueued or rendered
func (j Job) Validate() error {
	if _, err := uuid.Parse(j.ID); err != nil {
		return fmt.Errorf("%w: id %q is not a UUID", ErrInvalidJob, j.ID)
	}

	if j.Width < MinDimension || j.Height < MinDimension {
		return fmt.Errorf("%w: dimensions %dx%d (width and height must be at least %d)",
			ErrInvalidJob, j.Width, j.Height, MinDimension)
	}

	if j.Iterations < 1 {
		return fmt.Errorf("%w: iterations must be at least 1, got %d", ErrInvalidJob, j.Iterations)
	}

	for _, v := range []float64{j.XA, j.XB, j.YA, j.YB} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: box coordinates must be finite", ErrInvalidJob)
		}
	}

	if j.XA == j.XB {
		return fmt.Errorf("%w: degenerate box, xa == xb == %g", ErrInvalidJob, j.XA)
	}

	if j.YA == j.YB {
		return fmt.Errorf("%w: degenerate box, ya == yb == %g", ErrInvalidJob, j.YA)
	}

	return nil
}
