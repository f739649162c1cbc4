package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/fractal-pipeline/internal/api/model"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses a redis:// URL and checks the server is reachable
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = 2 * time.Second
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// CachedStore serves record reads from Redis and falls back to the wrapped
// store. Only completed records are cached: a pending record can be completed
// by a writer that bypasses this store, such as the tracker in database mode.
// Images are never cached. Cache failures are logged and ignored.
type CachedStore struct {
	Store

	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

func NewCachedStore(store Store, client *redis.Client, ttl time.Duration, keyPrefix string, logger *slog.Logger) *CachedStore {
	return &CachedStore{
		Store:     store,
		client:    client,
		ttl:       ttl,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

func (s *CachedStore) key(id string) string {
	return s.keyPrefix + id
}

func (s *CachedStore) GetFractal(ctx context.Context, id string) (*model.Fractal, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	switch {
	case err == nil:
		var fractal model.Fractal
		if err := json.Unmarshal(data, &fractal); err == nil && fractal.Completed() {
			return &fractal, nil
		}
		s.logger.Warn("Discarding unusable cache entry", slog.String("fractal_id", id))
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("Record cache read failed",
			slog.String("fractal_id", id),
			slog.Any("error", err),
		)
	}

	fractal, err := s.Store.GetFractal(ctx, id)
	if err != nil {
		return nil, err
	}

	s.put(ctx, fractal)
	return fractal, nil
}

func (s *CachedStore) CompleteFractal(ctx context.Context, id string, completion Completion) (*model.Fractal, error) {
	fractal, err := s.Store.CompleteFractal(ctx, id, completion)
	if err != nil {
		return nil, err
	}

	s.put(ctx, fractal)
	return fractal, nil
}

func (s *CachedStore) DeleteFractal(ctx context.Context, id string) error {
	if err := s.Store.DeleteFractal(ctx, id); err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		s.logger.Warn("Record cache eviction failed",
			slog.String("fractal_id", id),
			slog.Any("error", err),
		)
	}
	return nil
}

func (s *CachedStore) put(ctx context.Context, fractal *model.Fractal) {
	if !fractal.Completed() {
		return
	}

	data, err := json.Marshal(fractal)
	if err != nil {
		return
	}

	if err := s.client.Set(ctx, s.key(fractal.ID), data, s.ttl).Err(); err != nil {
		s.logger.Warn("Record cache write failed",
			slog.String("fractal_id", fractal.ID),
			slog.Any("error", err),
		)
	}
}
