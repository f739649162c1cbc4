package domain

// Fractal record status, derived from whether a result has been reconciled
const (
	FractalStatusPending   = "PENDING"
	FractalStatusCompleted = "COMPLETED"
)

// MinDimension is the smallest width or height the pixel mapping can divide by.
const MinDimension = 2
