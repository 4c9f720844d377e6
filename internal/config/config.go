// Package config provides configuration management for vocguru.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 37800

	// DefaultAutoMergeThreshold is the cosine distance below which new
	// feedback is folded into an existing feature.
	DefaultAutoMergeThreshold = 0.15

	// DefaultSimilarThreshold is the distance cutoff for similar-feature review.
	DefaultSimilarThreshold = 0.3

	// DefaultEmbeddingDimensions matches the hash embedding placeholder.
	DefaultEmbeddingDimensions = 384

	// DefaultLLMModel is used for structured feature extraction.
	DefaultLLMModel = "llama-3.3-70b-versatile"
)

// Embedding providers.
const (
	EmbeddingProviderHash   = "hash"
	EmbeddingProviderOpenAI = "openai"
)

// Config holds the application configuration.
type Config struct {
	// Worker settings
	WorkerPort int    `json:"worker_port" yaml:"worker_port"`
	APIToken   string `json:"api_token" yaml:"api_token"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
	LogFormat  string `json:"log_format" yaml:"log_format"` // "console" or "json"

	// Database settings
	DSN      string `json:"dsn" yaml:"dsn"`
	MaxConns int    `json:"max_conns" yaml:"max_conns"`

	// Synthesis settings
	AutoMergeThreshold   float64       `json:"auto_merge_threshold" yaml:"auto_merge_threshold"`
	SimilarThreshold     float64       `json:"similar_threshold" yaml:"similar_threshold"`
	ExtractorTimeout     time.Duration `json:"extractor_timeout" yaml:"extractor_timeout"`
	ReprocessBatchSize   int           `json:"reprocess_batch_size" yaml:"reprocess_batch_size"`
	ReprocessConcurrency int           `json:"reprocess_concurrency" yaml:"reprocess_concurrency"`
	SweepInterval        time.Duration `json:"sweep_interval" yaml:"sweep_interval"`

	// Queue settings
	QueueSize    int `json:"queue_size" yaml:"queue_size"`
	QueueWorkers int `json:"queue_workers" yaml:"queue_workers"`

	// LLM settings (any OpenAI-compatible endpoint, e.g. Groq)
	LLMBaseURL        string `json:"llm_base_url" yaml:"llm_base_url"`
	LLMAPIKey         string `json:"llm_api_key" yaml:"llm_api_key"`
	LLMModel          string `json:"llm_model" yaml:"llm_model"`
	LLMMaxInputTokens int    `json:"llm_max_input_tokens" yaml:"llm_max_input_tokens"`

	// Embedding settings
	EmbeddingProvider   string `json:"embedding_provider" yaml:"embedding_provider"`
	EmbeddingBaseURL    string `json:"embedding_base_url" yaml:"embedding_base_url"`
	EmbeddingAPIKey     string `json:"embedding_api_key" yaml:"embedding_api_key"`
	EmbeddingModel      string `json:"embedding_model" yaml:"embedding_model"`
	EmbeddingDimensions int    `json:"embedding_dimensions" yaml:"embedding_dimensions"`

	// Embedding cache (optional)
	RedisAddr         string        `json:"redis_addr" yaml:"redis_addr"`
	EmbeddingCacheTTL time.Duration `json:"embedding_cache_ttl" yaml:"embedding_cache_ttl"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path (~/.vocguru), or VOCGURU_DATA_DIR.
func DataDir() string {
	if dir := os.Getenv("VOCGURU_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vocguru")
}

// SettingsPath returns the settings file path. VOCGURU_SETTINGS overrides it;
// files ending in .yaml or .yml are parsed as YAML.
func SettingsPath() string {
	if p := os.Getenv("VOCGURU_SETTINGS"); p != "" {
		return p
	}
	return filepath.Join(DataDir(), "settings.json")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		WorkerPort:           DefaultWorkerPort,
		LogLevel:             "info",
		LogFormat:            "console",
		DSN:                  "postgres://localhost:5432/vocguru?sslmode=disable",
		MaxConns:             10,
		AutoMergeThreshold:   DefaultAutoMergeThreshold,
		SimilarThreshold:     DefaultSimilarThreshold,
		ExtractorTimeout:     30 * time.Second,
		ReprocessBatchSize:   100,
		ReprocessConcurrency: 4,
		SweepInterval:        5 * time.Minute,
		QueueSize:            256,
		QueueWorkers:         4,
		LLMBaseURL:           "https://api.groq.com/openai/v1",
		LLMModel:             DefaultLLMModel,
		LLMMaxInputTokens:    6000,
		EmbeddingProvider:    EmbeddingProviderHash,
		EmbeddingModel:       "text-embedding-3-small",
		EmbeddingDimensions:  DefaultEmbeddingDimensions,
		EmbeddingCacheTTL:    24 * time.Hour,
	}
}

// Load loads configuration from the settings file, merging with defaults,
// then applies environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if len(data) > 0 {
		settings, perr := parseSettings(SettingsPath(), data)
		if perr == nil {
			applySettings(cfg, settings)
		}
	}

	applySettings(cfg, envSettings())
	return cfg, nil
}

// parseSettings decodes a flat settings document keyed by VOCGURU_* names.
func parseSettings(path string, data []byte) (map[string]interface{}, error) {
	settings := make(map[string]interface{})
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return nil, err
		}
		return settings, nil
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// envSettings collects VOCGURU_* environment variables as string settings.
func envSettings() map[string]interface{} {
	settings := make(map[string]interface{})
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "VOCGURU_") {
			continue
		}
		settings[key] = value
	}
	return settings
}

// applySettings maps settings onto cfg. Values may arrive as JSON numbers,
// YAML ints, or environment strings.
func applySettings(cfg *Config, settings map[string]interface{}) {
	if v, ok := intSetting(settings, "VOCGURU_WORKER_PORT"); ok && v > 0 {
		cfg.WorkerPort = v
	}
	if v, ok := stringSetting(settings, "VOCGURU_API_TOKEN"); ok {
		cfg.APIToken = v
	}
	if v, ok := stringSetting(settings, "VOCGURU_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := stringSetting(settings, "VOCGURU_LOG_FORMAT"); ok && v != "" {
		cfg.LogFormat = v
	}
	if v, ok := stringSetting(settings, "VOCGURU_DSN"); ok && v != "" {
		cfg.DSN = v
	}
	if v, ok := intSetting(settings, "VOCGURU_MAX_CONNS"); ok && v > 0 {
		cfg.MaxConns = v
	}
	if v, ok := floatSetting(settings, "VOCGURU_AUTO_MERGE_THRESHOLD"); ok && v > 0 && v <= 2 {
		cfg.AutoMergeThreshold = v
	}
	if v, ok := floatSetting(settings, "VOCGURU_SIMILAR_THRESHOLD"); ok && v > 0 && v <= 2 {
		cfg.SimilarThreshold = v
	}
	if v, ok := durationSetting(settings, "VOCGURU_EXTRACTOR_TIMEOUT"); ok && v > 0 {
		cfg.ExtractorTimeout = v
	}
	if v, ok := intSetting(settings, "VOCGURU_REPROCESS_BATCH_SIZE"); ok && v > 0 {
		cfg.ReprocessBatchSize = v
	}
	if v, ok := intSetting(settings, "VOCGURU_REPROCESS_CONCURRENCY"); ok && v > 0 {
		cfg.ReprocessConcurrency = v
	}
	if v, ok := durationSetting(settings, "VOCGURU_SWEEP_INTERVAL"); ok && v > 0 {
		cfg.SweepInterval = v
	}
	if v, ok := intSetting(settings, "VOCGURU_QUEUE_SIZE"); ok && v > 0 {
		cfg.QueueSize = v
	}
	if v, ok := intSetting(settings, "VOCGURU_QUEUE_WORKERS"); ok && v > 0 {
		cfg.QueueWorkers = v
	}
	if v, ok := stringSetting(settings, "VOCGURU_LLM_BASE_URL"); ok && v != "" {
		cfg.LLMBaseURL = v
	}
	if v, ok := stringSetting(settings, "VOCGURU_LLM_API_KEY"); ok {
		cfg.LLMAPIKey = v
	}
	if v, ok := stringSetting(settings, "VOCGURU_LLM_MODEL"); ok && v != "" {
		cfg.LLMModel = v
	}
	if v, ok := intSetting(settings, "VOCGURU_LLM_MAX_INPUT_TOKENS"); ok && v > 0 {
		cfg.LLMMaxInputTokens = v
	}
	if v, ok := stringSetting(settings, "VOCGURU_EMBEDDING_PROVIDER"); ok && v != "" {
		cfg.EmbeddingProvider = strings.ToLower(v)
	}
	if v, ok := stringSetting(settings, "VOCGURU_EMBEDDING_BASE_URL"); ok && v != "" {
		cfg.EmbeddingBaseURL = v
	}
	if v, ok := stringSetting(settings, "VOCGURU_EMBEDDING_API_KEY"); ok {
		cfg.EmbeddingAPIKey = v
	}
	if v, ok := stringSetting(settings, "VOCGURU_EMBEDDING_MODEL"); ok && v != "" {
		cfg.EmbeddingModel = v
	}
	if v, ok := intSetting(settings, "VOCGURU_EMBEDDING_DIMENSIONS"); ok && v > 0 {
		cfg.EmbeddingDimensions = v
	}
	if v, ok := stringSetting(settings, "VOCGURU_REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}
	if v, ok := durationSetting(settings, "VOCGURU_EMBEDDING_CACHE_TTL"); ok && v > 0 {
		cfg.EmbeddingCacheTTL = v
	}
}

func stringSetting(settings map[string]interface{}, key string) (string, bool) {
	v, ok := settings[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return strings.TrimSpace(s), ok
}

func floatSetting(settings map[string]interface{}, key string) (float64, bool) {
	switch v := settings[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func intSetting(settings map[string]interface{}, key string) (int, bool) {
	f, ok := floatSetting(settings, key)
	return int(f), ok
}

// durationSetting accepts Go duration strings ("30s") or a number of seconds.
func durationSetting(settings map[string]interface{}, key string) (time.Duration, bool) {
	if s, ok := settings[key].(string); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	if secs, ok := floatSetting(settings, key); ok {
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, false
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
