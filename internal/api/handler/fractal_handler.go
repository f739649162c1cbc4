package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/fractal-pipeline/internal/api/dto"
	"github.com/cuongbtq/fractal-pipeline/internal/api/model"
	"github.com/cuongbtq/fractal-pipeline/internal/api/storage"
	"github.com/cuongbtq/fractal-pipeline/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateFractal handles POST /v1/fractal
// Registers a pending fractal before its job is enqueued
func (h *FractalHandler) CreateFractal(c *gin.Context) {
	var req dto.CreateFractalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	job := domain.Job{
		ID:         req.UUID,
		Width:      req.Width,
		Height:     req.Height,
		Iterations: req.Iterations,
		XA:         *req.XA,
		XB:         *req.XB,
		YA:         *req.YA,
		YB:         *req.YB,
	}
	if err := job.Validate(); err != nil {
		h.logger.Warn("Rejected fractal parameters",
			slog.String("fractal_id", req.UUID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	now := time.Now().UTC()
	fractal := model.Fractal{
		ID:         job.ID,
		Width:      job.Width,
		Height:     job.Height,
		Iterations: job.Iterations,
		XA:         job.XA,
		XB:         job.XB,
		YA:         job.YA,
		YB:         job.YB,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.store.CreateFractal(c.Request.Context(), &fractal); err != nil {
		h.respondStoreError(c, err, "Failed to create fractal")
		return
	}

	h.logger.Info("Fractal registered",
		slog.String("fractal_id", fractal.ID),
		slog.Int("width", fractal.Width),
		slog.Int("height", fractal.Height),
		slog.Int("iterations", fractal.Iterations),
	)

	c.JSON(http.StatusCreated, toDTO(&fractal))
}

// GetFractal handles GET /v1/fractal/:id
func (h *FractalHandler) GetFractal(c *gin.Context) {
	id, ok := h.fractalID(c)
	if !ok {
		return
	}

	fractal, err := h.store.GetFractal(c.Request.Context(), id)
	if err != nil {
		h.respondStoreError(c, err, "Failed to get fractal")
		return
	}

	c.JSON(http.StatusOK, toDTO(fractal))
}

// GetFractalImage handles GET /v1/fractal/:id/image
// Streams the rendered PNG once a result with image bytes has been recorded
func (h *FractalHandler) GetFractalImage(c *gin.Context) {
	id, ok := h.fractalID(c)
	if !ok {
		return
	}

	image, err := h.store.GetFractalImage(c.Request.Context(), id)
	if err != nil {
		h.respondStoreError(c, err, "Failed to get fractal image")
		return
	}

	c.Data(http.StatusOK, "image/png", image)
}

// ListFractals handles GET /v1/fractal
// Lists fractals newest first with cursor pagination
func (h *FractalHandler) ListFractals(c *gin.Context) {
	var req dto.ListFractalsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeFractalCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
		return
	}

	fractals, err := h.store.ListFractals(c.Request.Context(), storage.FractalFilter{
		Completed: req.Completed,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		h.respondStoreError(c, err, "Failed to list fractals")
		return
	}

	hasMore := len(fractals) > req.PageSize
	if hasMore {
		fractals = fractals[:req.PageSize]
	}

	response := dto.ListFractalsResponse{Fractals: make([]dto.FractalDTO, len(fractals))}
	for i := range fractals {
		response.Fractals[i] = toDTO(&fractals[i])
	}

	if hasMore {
		last := fractals[len(fractals)-1]
		response.NextCursor = EncodeFractalCursor(&storage.FractalCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	c.JSON(http.StatusOK, response)
}

// UpdateFractal handles PUT /v1/fractal/:id
// Records a render result. Re-sending the recorded checksum is a no-op success;
// a different checksum for a finalized record is a conflict.
func (h *FractalHandler) UpdateFractal(c *gin.Context) {
	id, ok := h.fractalID(c)
	if !ok {
		return
	}

	var req dto.UpdateFractalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if !domain.ValidChecksum(req.Checksum) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "checksum must be a lowercase hex SHA-256 digest"})
		return
	}

	if *req.Duration < 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "duration must not be negative"})
		return
	}

	size := req.Size
	if size == nil && req.Image != nil {
		n := int64(len(req.Image))
		size = &n
	}

	fractal, err := h.store.CompleteFractal(c.Request.Context(), id, storage.Completion{
		Checksum:    req.Checksum,
		Duration:    *req.Duration,
		Image:       req.Image,
		Size:        size,
		GeneratedBy: req.GeneratedBy,
	})
	if err != nil {
		h.respondStoreError(c, err, "Failed to update fractal")
		return
	}

	h.logger.Info("Fractal completed",
		slog.String("fractal_id", id),
		slog.String("checksum", req.Checksum),
		slog.Float64("duration", *req.Duration),
	)

	c.JSON(http.StatusOK, toDTO(fractal))
}

// DeleteFractal handles DELETE /v1/fractal/:id
func (h *FractalHandler) DeleteFractal(c *gin.Context) {
	id, ok := h.fractalID(c)
	if !ok {
		return
	}

	if err := h.store.DeleteFractal(c.Request.Context(), id); err != nil {
		h.respondStoreError(c, err, "Failed to delete fractal")
		return
	}

	h.logger.Info("Fractal deleted", slog.String("fractal_id", id))
	c.Status(http.StatusNoContent)
}

func (h *FractalHandler) fractalID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		h.logger.Warn("Invalid fractal id", slog.String("fractal_id", id))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "id must be a valid UUID"})
		return "", false
	}
	return id, true
}

func (h *FractalHandler) respondStoreError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Fractal not found"})
	case errors.Is(err, domain.ErrRecordExists):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "Fractal already exists"})
	case errors.Is(err, domain.ErrRecordFinalized):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "Fractal already finalized with a different checksum"})
	default:
		h.logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: msg})
	}
}

func toDTO(f *model.Fractal) dto.FractalDTO {
	out := dto.FractalDTO{
		UUID:       f.ID,
		Width:      f.Width,
		Height:     f.Height,
		Iterations: f.Iterations,
		XA:         f.XA,
		XB:         f.XB,
		YA:         f.YA,
		YB:         f.YB,
		Completed:  f.Completed(),
		Status:     domain.FractalStatusPending,
		Duration:   f.Duration,
		Size:       f.Size,
		CreatedAt:  f.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:  f.UpdatedAt.Format(time.RFC3339Nano),
	}
	if f.Checksum != nil {
		out.Checksum = *f.Checksum
		out.Status = domain.FractalStatusCompleted
	}
	if f.GeneratedBy != nil {
		out.GeneratedBy = *f.GeneratedBy
	}
	return out
}
