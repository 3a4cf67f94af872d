// Package config provides configuration management for the BookLeaf assistant.
// It loads settings from environment variables with the BOOKLEAF_ prefix and
// provides sensible defaults for all configuration options. An optional YAML
// file can be layered on top with LoadFile; environment variables still win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported storage engines.
const (
	EngineMemory   = "memory"
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
	EngineSupabase = "supabase"
)

// Supported LLM providers. "none" disables model-backed arbitration and
// classification; the rule-based implementations are used instead.
const (
	ProviderNone      = "none"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// DefaultWeights are the identity, intent, retrieval and generation weights.
var DefaultWeights = []float64{0.30, 0.20, 0.25, 0.25}

// ErrInvalidConfig is returned by Validate and by loaders that reject
// malformed values.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration settings for the assistant.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	LLM        LLMConfig        `yaml:"llm"`
	Identity   IdentityConfig   `yaml:"identity"`
	Confidence ConfidenceConfig `yaml:"confidence"`
	Log        LogConfig        `yaml:"log"`
}

// StorageConfig contains identity store configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // memory, sqlite, postgres, supabase (default: sqlite)
	DataPath    string `yaml:"data_path"`    // SQLite database file (default: ./data/bookleaf.db)
	PostgresDSN string `yaml:"postgres_dsn"` // lib/pq connection string
	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`
}

// LLMConfig contains configuration for the model used by the arbiter and the
// intent classifier.
type LLMConfig struct {
	Provider  string        `yaml:"provider"` // none, anthropic, openai, ollama (default: none)
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`    // per-request HTTP timeout (default: 30s)
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 disables limiting
	Burst     int           `yaml:"burst"`
}

// IdentityConfig contains the resolver thresholds.
type IdentityConfig struct {
	MinSimilarity         float64       `yaml:"min_similarity"`          // default: 0.85
	HighConfidence        float64       `yaml:"high_confidence"`         // default: 0.95
	NewIdentityConfidence float64       `yaml:"new_identity_confidence"` // default: 0.5
	ArbitrationTimeout    time.Duration `yaml:"arbitration_timeout"`     // default: 10s
	FallbackPenalty       float64       `yaml:"fallback_penalty"`        // default: 0.8
	DefaultRegion         string        `yaml:"default_region"`          // default: US
	MaxCandidates         int           `yaml:"max_candidates"`          // default: 10
}

// ConfidenceConfig contains the response confidence model settings.
type ConfidenceConfig struct {
	Weights   []float64 `yaml:"weights"`   // identity, intent, retrieval, generation
	Threshold float64   `yaml:"threshold"` // default: 0.80
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Environment string `yaml:"environment"` // production or development (default: development)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults and validates the result. All environment variables use the
// BOOKLEAF_ prefix.
func LoadConfig() (*Config, error) {
	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file over the defaults, then applies environment
// overrides and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:   EngineSQLite,
			DataPath: "./data/bookleaf.db",
		},
		LLM: LLMConfig{
			Provider:  ProviderNone,
			Timeout:   30 * time.Second,
			RateLimit: 5,
			Burst:     5,
		},
		Identity: IdentityConfig{
			MinSimilarity:         0.85,
			HighConfidence:        0.95,
			NewIdentityConfidence: 0.5,
			ArbitrationTimeout:    10 * time.Second,
			FallbackPenalty:       0.8,
			DefaultRegion:         "US",
			MaxCandidates:         10,
		},
		Confidence: ConfidenceConfig{
			Weights:   append([]float64(nil), DefaultWeights...),
			Threshold: 0.80,
		},
		Log: LogConfig{
			Level:       "info",
			Environment: "development",
		},
	}
}

// applyEnv overlays BOOKLEAF_ environment variables onto cfg.
func applyEnv(cfg *Config) error {
	cfg.Storage.Engine = getEnv("BOOKLEAF_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("BOOKLEAF_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("BOOKLEAF_POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.Storage.SupabaseURL = getEnv("BOOKLEAF_SUPABASE_URL", cfg.Storage.SupabaseURL)
	cfg.Storage.SupabaseKey = getEnv("BOOKLEAF_SUPABASE_KEY", cfg.Storage.SupabaseKey)

	cfg.LLM.Provider = getEnv("BOOKLEAF_LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnv("BOOKLEAF_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.APIKey = getEnv("BOOKLEAF_LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.BaseURL = getEnv("BOOKLEAF_LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Timeout = getEnvDuration("BOOKLEAF_LLM_TIMEOUT", cfg.LLM.Timeout)
	cfg.LLM.RateLimit = getEnvFloat("BOOKLEAF_LLM_RATE_LIMIT", cfg.LLM.RateLimit)
	cfg.LLM.Burst = getEnvInt("BOOKLEAF_LLM_BURST", cfg.LLM.Burst)

	cfg.Identity.MinSimilarity = getEnvFloat("BOOKLEAF_MIN_SIMILARITY", cfg.Identity.MinSimilarity)
	cfg.Identity.HighConfidence = getEnvFloat("BOOKLEAF_HIGH_CONFIDENCE", cfg.Identity.HighConfidence)
	cfg.Identity.NewIdentityConfidence = getEnvFloat("BOOKLEAF_NEW_IDENTITY_CONFIDENCE", cfg.Identity.NewIdentityConfidence)
	cfg.Identity.ArbitrationTimeout = getEnvDuration("BOOKLEAF_ARBITRATION_TIMEOUT", cfg.Identity.ArbitrationTimeout)
	cfg.Identity.FallbackPenalty = getEnvFloat("BOOKLEAF_FALLBACK_PENALTY", cfg.Identity.FallbackPenalty)
	cfg.Identity.DefaultRegion = getEnv("BOOKLEAF_DEFAULT_REGION", cfg.Identity.DefaultRegion)
	cfg.Identity.MaxCandidates = getEnvInt("BOOKLEAF_MAX_CANDIDATES", cfg.Identity.MaxCandidates)

	if raw := os.Getenv("BOOKLEAF_CONFIDENCE_WEIGHTS"); raw != "" {
		weights, err := ParseWeights(raw)
		if err != nil {
			return err
		}
		cfg.Confidence.Weights = weights
	}
	cfg.Confidence.Threshold = getEnvFloat("BOOKLEAF_CONFIDENCE_THRESHOLD", cfg.Confidence.Threshold)

	cfg.Log.Level = getEnv("BOOKLEAF_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Environment = getEnv("BOOKLEAF_ENVIRONMENT", cfg.Log.Environment)
	return nil
}

// ParseWeights parses a comma-separated list of exactly four weights.
func ParseWeights(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != len(DefaultWeights) {
		return nil, fmt.Errorf("%w: confidence weights need %d values, got %d",
			ErrInvalidConfig, len(DefaultWeights), len(parts))
	}
	weights := make([]float64, len(parts))
	for i, p := range parts {
		w, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: confidence weight %q is not a number", ErrInvalidConfig, p)
		}
		weights[i] = w
	}
	return weights, nil
}

// Validate rejects configurations the resolver or aggregator cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case EngineMemory, EngineSQLite:
	case EnginePostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres engine requires BOOKLEAF_POSTGRES_DSN", ErrInvalidConfig)
		}
	case EngineSupabase:
		if c.Storage.SupabaseURL == "" || c.Storage.SupabaseKey == "" {
			return fmt.Errorf("%w: supabase engine requires URL and key", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage engine %q", ErrInvalidConfig, c.Storage.Engine)
	}

	switch c.LLM.Provider {
	case ProviderNone, ProviderAnthropic, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("%w: unknown LLM provider %q", ErrInvalidConfig, c.LLM.Provider)
	}

	if len(c.Confidence.Weights) != len(DefaultWeights) {
		return fmt.Errorf("%w: confidence weights need %d values, got %d",
			ErrInvalidConfig, len(DefaultWeights), len(c.Confidence.Weights))
	}
	var sum float64
	for _, w := range c.Confidence.Weights {
		if w < 0 {
			return fmt.Errorf("%w: confidence weights must be non-negative", ErrInvalidConfig)
		}
		sum += w
	}
	if sum == 0 {
		return fmt.Errorf("%w: confidence weights sum to zero", ErrInvalidConfig)
	}

	for name, v := range map[string]float64{
		"confidence threshold":    c.Confidence.Threshold,
		"min similarity":          c.Identity.MinSimilarity,
		"high confidence":         c.Identity.HighConfidence,
		"new identity confidence": c.Identity.NewIdentityConfidence,
		"fallback penalty":        c.Identity.FallbackPenalty,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s %.3f outside [0, 1]", ErrInvalidConfig, name, v)
		}
	}
	if c.Identity.MaxCandidates <= 0 {
		return fmt.Errorf("%w: max candidates must be positive", ErrInvalidConfig)
	}
	if c.Identity.ArbitrationTimeout <= 0 {
		return fmt.Errorf("%w: arbitration timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a time.Duration environment variable ("10s", "500ms")
// or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
