package synthesis

import (
	"time"

	"github.com/thebtf/vocguru/internal/config"
)

// Config holds the tunables of the synthesis pipeline.
type Config struct {
	// AutoMergeThreshold is the cosine distance strictly below which new
	// feedback is folded into the nearest existing feature.
	AutoMergeThreshold float64

	// SimilarThreshold is the default cutoff for SimilarFeatures.
	SimilarThreshold float64

	// EmbeddingDimensions must match the feature index column.
	EmbeddingDimensions int

	// ExtractorTimeout bounds each extraction and embedding call.
	ExtractorTimeout time.Duration

	// SynthesisTimeout bounds one shared Synthesize run, which outlives
	// the caller that started it. Defaults to twice ExtractorTimeout plus
	// a minute for storage.
	SynthesisTimeout time.Duration

	ReprocessBatchSize   int
	ReprocessConcurrency int

	// BucketBits is the number of leading embedding components whose signs
	// pick the advisory lock bucket for create-or-merge decisions.
	BucketBits int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		AutoMergeThreshold:   config.DefaultAutoMergeThreshold,
		SimilarThreshold:     config.DefaultSimilarThreshold,
		EmbeddingDimensions:  config.DefaultEmbeddingDimensions,
		ExtractorTimeout:     30 * time.Second,
		ReprocessBatchSize:   100,
		ReprocessConcurrency: 4,
		BucketBits:           8,
	}
}

// ConfigFrom derives a pipeline configuration from application settings.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	c.AutoMergeThreshold = cfg.AutoMergeThreshold
	c.SimilarThreshold = cfg.SimilarThreshold
	c.EmbeddingDimensions = cfg.EmbeddingDimensions
	c.ExtractorTimeout = cfg.ExtractorTimeout
	c.ReprocessBatchSize = cfg.ReprocessBatchSize
	c.ReprocessConcurrency = cfg.ReprocessConcurrency
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AutoMergeThreshold <= 0 {
		c.AutoMergeThreshold = d.AutoMergeThreshold
	}
	if c.SimilarThreshold <= 0 {
		c.SimilarThreshold = d.SimilarThreshold
	}
	if c.EmbeddingDimensions <= 0 {
		c.EmbeddingDimensions = d.EmbeddingDimensions
	}
	if c.ExtractorTimeout <= 0 {
		c.ExtractorTimeout = d.ExtractorTimeout
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = 2*c.ExtractorTimeout + time.Minute
	}
	if c.ReprocessBatchSize <= 0 {
		c.ReprocessBatchSize = d.ReprocessBatchSize
	}
	if c.ReprocessConcurrency <= 0 {
		c.ReprocessConcurrency = d.ReprocessConcurrency
	}
	if c.BucketBits <= 0 {
		c.BucketBits = d.BucketBits
	}
	return c
}
