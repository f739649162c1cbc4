package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/fractal-pipeline/internal/api/storage"
)

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Store       storage.Store
	Health      HealthChecker
	ServiceName string
}

// FractalHandler handles fractal record HTTP requests
type FractalHandler struct {
	logger *slog.Logger
	store  storage.Store
}

// NewFractalHandler creates a new FractalHandler instance
func NewFractalHandler(deps *Dependencies) *FractalHandler {
	return &FractalHandler{
		logger: deps.Logger,
		store:  deps.Store,
	}
}
