// Package storagetest provides an in-memory record store for tests.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/fractal-pipeline/internal/api/model"
	"github.com/cuongbtq/fractal-pipeline/internal/api/storage"
	"github.com/cuongbtq/fractal-pipeline/internal/domain"
)

// MemoryStore implements storage.Store with the same conflict rules as the
// Postgres store
type MemoryStore struct {
	mu       sync.Mutex
	fractals map[string]model.Fractal
	images   map[string][]byte
	now      func() time.Time
}

var _ storage.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		fractals: make(map[string]model.Fractal),
		images:   make(map[string][]byte),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateFractal(_ context.Context, fractal *model.Fractal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fractals[fractal.ID]; ok {
		return fmt.Errorf("fractal %s: %w", fractal.ID, domain.ErrRecordExists)
	}
	s.fractals[fractal.ID] = *fractal
	return nil
}

func (s *MemoryStore) GetFractal(_ context.Context, id string) (*model.Fractal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fractal, ok := s.fractals[id]
	if !ok {
		return nil, fmt.Errorf("fractal %s: %w", id, domain.ErrRecordNotFound)
	}
	return &fractal, nil
}

func (s *MemoryStore) GetFractalImage(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	image, ok := s.images[id]
	if !ok {
		return nil, fmt.Errorf("fractal image %s: %w", id, domain.ErrRecordNotFound)
	}
	return image, nil
}

func (s *MemoryStore) ListFractals(_ context.Context, filter storage.FractalFilter) ([]model.Fractal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fractals []model.Fractal
	for _, f := range s.fractals {
		if filter.Completed && !f.Completed() {
			continue
		}
		if c := filter.Cursor; c != nil {
			if f.CreatedAt.After(c.CreatedAt) || (f.CreatedAt.Equal(c.CreatedAt) && f.ID >= c.ID) {
				continue
			}
		}
		fractals = append(fractals, f)
	}

	sort.Slice(fractals, func(i, j int) bool {
		if !fractals[i].CreatedAt.Equal(fractals[j].CreatedAt) {
			return fractals[i].CreatedAt.After(fractals[j].CreatedAt)
		}
		return fractals[i].ID > fractals[j].ID
	})

	if len(fractals) > filter.PageSize+1 {
		fractals = fractals[:filter.PageSize+1]
	}
	return fractals, nil
}

func (s *MemoryStore) CompleteFractal(_ context.Context, id string, completion storage.Completion) (*model.Fractal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fractal, ok := s.fractals[id]
	if !ok {
		return nil, fmt.Errorf("fractal %s: %w", id, domain.ErrRecordNotFound)
	}
	if fractal.Checksum != nil && *fractal.Checksum != completion.Checksum {
		return nil, fmt.Errorf("fractal %s: %w", id, domain.ErrRecordFinalized)
	}

	checksum := completion.Checksum
	duration := completion.Duration
	fractal.Checksum = &checksum
	fractal.Duration = &duration
	if completion.Size != nil {
		size := *completion.Size
		fractal.Size = &size
	}
	if completion.GeneratedBy != "" {
		generatedBy := completion.GeneratedBy
		fractal.GeneratedBy = &generatedBy
	}
	if completion.Image != nil {
		s.images[id] = append([]byte(nil), completion.Image...)
	}
	fractal.UpdatedAt = s.now().UTC()

	s.fractals[id] = fractal
	return &fractal, nil
}

func (s *MemoryStore) DeleteFractal(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fractals[id]; !ok {
		return fmt.Errorf("fractal %s: %w", id, domain.ErrRecordNotFound)
	}
	delete(s.fractals, id)
	delete(s.images, id)
	return nil
}
