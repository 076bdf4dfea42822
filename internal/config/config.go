package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the cardsense service configuration.
type Config struct {
	HTTP           HTTPConfig           `yaml:"http"`
	Database       DatabaseConfig       `yaml:"database"`
	Embedding      EmbeddingConfig      `yaml:"embedding"`
	Oracle         OracleConfig         `yaml:"oracle"`
	Prompt         PromptConfig         `yaml:"prompt"`
	Recommendation RecommendationConfig `yaml:"recommendation"`
	Auth           AuthConfig           `yaml:"auth"`
	Storage        StorageConfig        `yaml:"storage"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Redis/Valkey connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// StorageConfig holds key layout and index settings.
type StorageConfig struct {
	KeyPrefix       string `yaml:"key_prefix"`
	HNSWM           int    `yaml:"hnsw_m"`
	HNSWEFConstruct int    `yaml:"hnsw_ef_construction"`
}

// EmbeddingConfig holds the OpenAI-compatible embedding provider settings.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"`
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	Dimensions  int    `yaml:"dimensions"`
	Instruction string `yaml:"instruction"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"` // 0 = no expiry
}

// OracleConfig holds the Ollama-compatible reasoning oracle settings.
type OracleConfig struct {
	BaseURL            string        `yaml:"base_url"`
	Model              string        `yaml:"model"`
	TimeoutSec         int           `yaml:"timeout_sec"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryDelaySec      float64       `yaml:"retry_delay_sec"`
	StatusTimeoutSec   int           `yaml:"status_timeout_sec"`
	PullTimeoutSec     int           `yaml:"pull_timeout_sec"`
	EnsureReadyOnStart bool          `yaml:"ensure_ready_on_start"`
	Breaker            BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for the oracle.
type BreakerConfig struct {
	Enabled          bool    `yaml:"enabled"`
	MinRequests      uint32  `yaml:"min_requests"`
	FailureRatio     float64 `yaml:"failure_ratio"`
	OpenTimeoutSec   int     `yaml:"open_timeout_sec"`
	IntervalSec      int     `yaml:"interval_sec"` // counts reset period while closed; 0 keeps them
	HalfOpenRequests uint32  `yaml:"half_open_requests"`
}

// PromptConfig holds prompt budgeting settings.
type PromptConfig struct {
	MaxTokens        int    `yaml:"max_tokens"`
	ReservedTokens   int    `yaml:"reserved_tokens"`
	MaxCards         int    `yaml:"max_cards"`
	TokenizerModel   string `yaml:"tokenizer_model"`
	FallbackEncoding string `yaml:"fallback_encoding"`
}

// RecommendationConfig holds pipeline settings.
type RecommendationConfig struct {
	SimilarityThreshold float64           `yaml:"similarity_threshold"`
	InclusiveThreshold  *bool             `yaml:"inclusive_threshold"` // default true: score >= threshold reuses
	CatalogFetchLimit   int               `yaml:"catalog_fetch_limit"`
	Filters             map[string]string `yaml:"filters"` // field -> match|min
	CoalesceInflight    *bool             `yaml:"coalesce_inflight"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML, expands ${VAR} references, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// oracle calls may take minutes across retries
		c.HTTP.WriteTimeoutSec = 600
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "cardsense:"
	}
	if c.Storage.HNSWM <= 0 {
		c.Storage.HNSWM = 16
	}
	if c.Storage.HNSWEFConstruct <= 0 {
		c.Storage.HNSWEFConstruct = 200
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 384
	}

	c.applyOracleDefaults()

	if c.Prompt.MaxTokens <= 0 {
		c.Prompt.MaxTokens = 4096
	}
	if c.Prompt.ReservedTokens <= 0 {
		c.Prompt.ReservedTokens = 100
	}
	if c.Prompt.MaxCards <= 0 {
		c.Prompt.MaxCards = 50
	}
	if c.Prompt.TokenizerModel == "" {
		c.Prompt.TokenizerModel = c.Oracle.Model
	}
	if c.Prompt.FallbackEncoding == "" {
		c.Prompt.FallbackEncoding = "cl100k_base"
	}

	r := &c.Recommendation
	if r.SimilarityThreshold <= 0 {
		r.SimilarityThreshold = 0.98
	}
	if r.InclusiveThreshold == nil {
		r.InclusiveThreshold = boolPtr(true)
	}
	if r.CatalogFetchLimit <= 0 {
		r.CatalogFetchLimit = 1000
	}
	if len(r.Filters) == 0 {
		r.Filters = map[string]string{
			"Minimum_Income": "min",
			"Interest_Rate":  "min",
			"Card_Type":      "match",
			"Rewards":        "match",
		}
	}
	if r.CoalesceInflight == nil {
		r.CoalesceInflight = boolPtr(true)
	}
}

func (c *Config) applyOracleDefaults() {
	o := &c.Oracle
	if o.BaseURL == "" {
		o.BaseURL = "http://localhost:11434"
	}
	if o.Model == "" {
		o.Model = "llama3"
	}
	if o.TimeoutSec <= 0 {
		o.TimeoutSec = 180
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelaySec <= 0 {
		o.RetryDelaySec = 2
	}
	if o.StatusTimeoutSec <= 0 {
		o.StatusTimeoutSec = 10
	}
	if o.PullTimeoutSec <= 0 {
		o.PullTimeoutSec = 60
	}
	if o.Breaker.MinRequests == 0 {
		o.Breaker.MinRequests = 5
	}
	if o.Breaker.FailureRatio <= 0 {
		o.Breaker.FailureRatio = 0.6
	}
	if o.Breaker.OpenTimeoutSec <= 0 {
		o.Breaker.OpenTimeoutSec = 30
	}
	if o.Breaker.HalfOpenRequests == 0 {
		o.Breaker.HalfOpenRequests = 1
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Embedding.BaseURL == "" || c.Embedding.Model == "" {
		return fmt.Errorf("embedding.base_url and embedding.model are required")
	}
	if t := c.Recommendation.SimilarityThreshold; t > 1 {
		return fmt.Errorf("recommendation.similarity_threshold must be in (0, 1], got %g", t)
	}
	if c.Prompt.ReservedTokens >= c.Prompt.MaxTokens {
		return fmt.Errorf("prompt.reserved_tokens (%d) must be below prompt.max_tokens (%d)",
			c.Prompt.ReservedTokens, c.Prompt.MaxTokens)
	}
	for field, mode := range c.Recommendation.Filters {
		switch strings.ToLower(strings.TrimSpace(mode)) {
		case "match", "min":
		default:
			return fmt.Errorf("recommendation.filters.%s must be \"match\" or \"min\", got %q", field, mode)
		}
	}
	if r := c.Oracle.Breaker.FailureRatio; r > 1 {
		return fmt.Errorf("oracle.breaker.failure_ratio must be in (0, 1], got %g", r)
	}
	return nil
}

// OracleTimeout returns the per-attempt generate timeout.
func (o OracleConfig) OracleTimeout() time.Duration {
	return time.Duration(o.TimeoutSec) * time.Second
}

// RetryDelay returns the base delay between generate attempts.
func (o OracleConfig) RetryDelay() time.Duration {
	return time.Duration(o.RetryDelaySec * float64(time.Second))
}

func boolPtr(b bool) *bool { return &b }

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
