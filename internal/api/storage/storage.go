package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/fractal-pipeline/internal/api/model"
	"github.com/cuongbtq/fractal-pipeline/internal/domain"
	"github.com/cuongbtq/fractal-pipeline/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Store persists fractal records
type Store interface {
	CreateFractal(ctx context.Context, fractal *model.Fractal) error
	GetFractal(ctx context.Context, id string) (*model.Fractal, error)
	GetFractalImage(ctx context.Context, id string) ([]byte, error)
	ListFractals(ctx context.Context, filter FractalFilter) ([]model.Fractal, error)
	CompleteFractal(ctx context.Context, id string, completion Completion) (*model.Fractal, error)
	DeleteFractal(ctx context.Context, id string) error
}

// Completion is the render result written onto a pending record
type Completion struct {
	Checksum    string
	Duration    float64
	Image       []byte
	Size        *int64
	GeneratedBy string
}

type FractalFilter struct {
	Completed bool
	PageSize  int
	Cursor    *FractalCursor
}

type FractalCursor struct {
	CreatedAt time.Time
	ID        string
}

const fractalColumns = `
	id, width, height, iterations, xa, xb, ya, yb,
	checksum, duration, size, generated_by, created_at, updated_at`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

func (s *Storage) CreateFractal(ctx context.Context, fractal *model.Fractal) error {
	query := `
		INSERT INTO fractals (
			id, width, height, iterations, xa, xb, ya, yb,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		fractal.ID,
		fractal.Width,
		fractal.Height,
		fractal.Iterations,
		fractal.XA,
		fractal.XB,
		fractal.YA,
		fractal.YB,
		fractal.CreatedAt,
		fractal.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("fractal %s: %w", fractal.ID, domain.ErrRecordExists)
		}
		return fmt.Errorf("failed to create fractal: %w", err)
	}

	return nil
}

func (s *Storage) GetFractal(ctx context.Context, id string) (*model.Fractal, error) {
	var fractal model.Fractal
	query := `SELECT` + fractalColumns + ` FROM fractals WHERE id = $1`

	err := s.db.GetContext(ctx, &fractal, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fractal %s: %w", id, domain.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fractal: %w", err)
	}

	return &fractal, nil
}

// GetFractalImage returns the PNG bytes, or ErrRecordNotFound when the record
// is missing or has no image yet
func (s *Storage) GetFractalImage(ctx context.Context, id string) ([]byte, error) {
	var image []byte
	query := `SELECT image FROM fractals WHERE id = $1 AND image IS NOT NULL`

	err := s.db.GetContext(ctx, &image, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fractal image %s: %w", id, domain.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fractal image: %w", err)
	}

	return image, nil
}

func (s *Storage) ListFractals(ctx context.Context, filter FractalFilter) ([]model.Fractal, error) {
	query := `SELECT` + fractalColumns + ` FROM fractals WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Completed {
		query += " AND checksum IS NOT NULL"
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"

	// One extra row tells the caller whether another page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var fractals []model.Fractal
	err := s.db.SelectContext(ctx, &fractals, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fractals: %w", err)
	}

	return fractals, nil
}

// CompleteFractal records a render result. A record already finalized with a
// different checksum is left untouched and ErrRecordFinalized is returned;
// repeating the same checksum succeeds.
func (s *Storage) CompleteFractal(ctx context.Context, id string, completion Completion) (*model.Fractal, error) {
	query := `
		UPDATE fractals SET
			checksum = $2,
			duration = $3,
			image = COALESCE($4, image),
			size = COALESCE($5, size),
			generated_by = COALESCE(NULLIF($6, ''), generated_by),
			updated_at = $7
		WHERE id = $1 AND (checksum IS NULL OR checksum = $2)
		RETURNING` + fractalColumns

	var image interface{}
	if completion.Image != nil {
		image = completion.Image
	}

	var fractal model.Fractal
	err := s.db.GetContext(
		ctx,
		&fractal,
		query,
		id,
		completion.Checksum,
		completion.Duration,
		image,
		completion.Size,
		completion.GeneratedBy,
		time.Now().UTC(),
	)
	if err == nil {
		return &fractal, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to complete fractal: %w", err)
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM fractals WHERE id = $1)`, id); err != nil {
		return nil, fmt.Errorf("failed to complete fractal: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("fractal %s: %w", id, domain.ErrRecordNotFound)
	}

	return nil, fmt.Errorf("fractal %s: %w", id, domain.ErrRecordFinalized)
}

func (s *Storage) DeleteFractal(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM fractals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete fractal: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete fractal: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("fractal %s: %w", id, domain.ErrRecordNotFound)
	}

	return nil
}
