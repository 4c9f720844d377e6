package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/thebtf/vocguru/internal/config"
	"github.com/thebtf/vocguru/internal/vector"
)

// Service wraps an EmbeddingModel with an optional cache and a dimension check.
type Service struct {
	model  EmbeddingModel
	cache  Cache
	logger zerolog.Logger
	dims   int
}

// NewService creates a service around model. cache may be nil.
func NewService(model EmbeddingModel, cache Cache, logger zerolog.Logger) *Service {
	return &Service{
		model:  model,
		cache:  cache,
		dims:   model.Dimensions(),
		logger: logger.With().Str("component", "embedding").Logger(),
	}
}

// NewServiceFromConfig builds the configured provider and, when a Redis
// address is set, a Redis cache in front of it.
func NewServiceFromConfig(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	opts := Options{Dimensions: cfg.EmbeddingDimensions}
	if cfg.EmbeddingProvider == OpenAIProvider {
		opts.BaseURL = cfg.EmbeddingBaseURL
		opts.APIKey = cfg.EmbeddingAPIKey
		opts.Model = cfg.EmbeddingModel
	}

	model, err := GetModel(cfg.EmbeddingProvider, opts)
	if err != nil {
		return nil, fmt.Errorf("create embedding model: %w", err)
	}

	var cache Cache
	if cfg.RedisAddr != "" {
		cache = NewRedisCache(cfg.RedisAddr, cfg.EmbeddingCacheTTL)
	}

	svc := NewService(model, cache, logger)
	svc.logger.Info().
		Str("provider", cfg.EmbeddingProvider).
		Str("model", model.Name()).
		Int("dimensions", model.Dimensions()).
		Bool("cache", cache != nil).
		Msg("Embedding service initialized")
	return svc, nil
}

// Name returns the model name.
func (s *Service) Name() string { return s.model.Name() }

// Version returns the model version.
func (s *Service) Version() string { return s.model.Version() }

// Dimensions returns the vector size every embedding must have.
func (s *Service) Dimensions() int { return s.dims }

// Embed returns the embedding for text. Cache failures are logged and ignored.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(s.model.Version(), text)

	if s.cache != nil {
		vec, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Embedding cache read failed")
		}
		if ok && len(vec) == s.dims {
			return vec, nil
		}
	}

	vec, err := s.model.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if err := vector.CheckDimensions(vec, s.dims); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, vec); err != nil {
			s.logger.Debug().Err(err).Msg("Embedding cache write failed")
		}
	}
	return vec, nil
}

// EmbedBatch embeds texts without consulting the cache.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := s.model.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	for _, v := range vecs {
		if err := vector.CheckDimensions(v, s.dims); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

// Close releases the model and the cache.
func (s *Service) Close() error {
	if closer, ok := s.cache.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	return s.model.Close()
}
