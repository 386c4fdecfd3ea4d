package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in embeddings.models[].provider.
const (
	ProviderStatic = "static"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Vector store backends accepted in vector_store.backend.
const (
	BackendSQLite = "sqlite"
	BackendHNSW   = "hnsw"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ProjectConfigNames are the file names searched in the working directory.
var ProjectConfigNames = []string{"indexify.yaml", "indexify.yml"}

// Config represents the complete Indexify configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	DataDir     string            `yaml:"data_dir" json:"data_dir"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	VectorStore VectorStoreConfig `yaml:"vector_store" json:"vector_store"`
	Memory      MemoryConfig      `yaml:"memory" json:"memory"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen         string        `yaml:"listen" json:"listen"`
	LogLevel       string        `yaml:"log_level" json:"log_level"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// EmbeddingsConfig configures the embedding router and its models.
type EmbeddingsConfig struct {
	// CallTimeout bounds every GenerateEmbeddings call, all batches included.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`
	// BatchSize is the number of texts sent to a provider per request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Concurrency is the number of batches in flight per call.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// CacheSize is the per-model LRU size. 0 disables caching.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// Models are listed in catalog order.
	Models []ModelConfig `yaml:"models" json:"models"`
}

// ModelConfig declares one routable embedding model.
type ModelConfig struct {
	// Name is the key callers use (embedding_model).
	Name string `yaml:"name" json:"name"`
	// Provider is static, ollama or openai.
	Provider string `yaml:"provider" json:"provider"`
	// Model is the provider-side model id. Defaults to Name.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`
	// Dimensions is the vector length the model produces.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// Host overrides the provider base URL.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	// APIKey is used by openai. Prefer INDEXIFY_OPENAI_API_KEY.
	APIKey string `yaml:"api_key,omitempty" json:"-"`
	// RequestsPerSecond throttles provider calls. 0 means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" json:"requests_per_second,omitempty"`
	// Timeout bounds a single provider request.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// ProviderModel returns the provider-side model id.
func (m ModelConfig) ProviderModel() string {
	if m.Model != "" {
		return m.Model
	}
	return m.Name
}

// VectorStoreConfig selects and tunes the vector backend for new indexes.
type VectorStoreConfig struct {
	Backend string      `yaml:"backend" json:"backend"`
	HNSW    HNSWConfig  `yaml:"hnsw" json:"hnsw"`
	Redis   RedisConfig `yaml:"redis" json:"redis"`
}

// HNSWConfig tunes the coder/hnsw graph.
type HNSWConfig struct {
	M        int `yaml:"m" json:"m"`
	EfSearch int `yaml:"ef_search" json:"ef_search"`
}

// RedisConfig configures the redis vector backend.
type RedisConfig struct {
	Address  string `yaml:"address" json:"address"`
	Password string `yaml:"password,omitempty" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

// MemoryConfig configures conversational memory defaults.
type MemoryConfig struct {
	Policy string `yaml:"policy" json:"policy"`
	Window int    `yaml:"window" json:"window"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// TelemetryConfig configures local search statistics.
type TelemetryConfig struct {
	// Disabled stops recording. Statistics never leave the data directory.
	Disabled bool `yaml:"disabled" json:"disabled"`
	// FlushInterval is how often statistics are written to the catalog.
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// NewConfig creates a new Config with defaults that work offline.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Server: ServerConfig{
			Listen:         "127.0.0.1:8900",
			LogLevel:       "info",
			RequestTimeout: 2 * time.Minute,
		},
		Embeddings: EmbeddingsConfig{
			CallTimeout: 30 * time.Second,
			BatchSize:   32,
			Concurrency: 4,
			CacheSize:   1024,
			Models: []ModelConfig{
				{Name: "static", Provider: ProviderStatic, Dimensions: 384},
			},
		},
		VectorStore: VectorStoreConfig{
			Backend: BackendSQLite,
			HNSW:    HNSWConfig{M: 16, EfSearch: 64},
			Redis:   RedisConfig{Address: "localhost:6379", Prefix: "indexify"},
		},
		Memory: MemoryConfig{
			Policy: "simple",
			Window: 20,
		},
		Logging: LoggingConfig{
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Telemetry: TelemetryConfig{
			FlushInterval: time.Minute,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".indexify", "data")
	}
	return filepath.Join(home, ".indexify", "data")
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/indexify/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/indexify/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "indexify", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "indexify", "config.yaml")
	}
	return filepath.Join(home, ".config", "indexify", "config.yaml")
}

// Load loads configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/indexify/config.yaml)
//  3. explicitPath if set, otherwise indexify.yaml in dir
//  4. .env in dir (never overrides variables already set)
//  5. Environment variables (INDEXIFY_*)
func Load(dir, explicitPath string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	switch {
	case explicitPath != "":
		if err := cfg.loadYAML(explicitPath); err != nil {
			return nil, err
		}
	default:
		for _, name := range ProjectConfigNames {
			path := filepath.Join(dir, name)
			if fileExists(path) {
				if err := cfg.loadYAML(path); err != nil {
					return nil, err
				}
				break
			}
		}
	}

	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML merges a YAML file over c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
// A non-empty models list replaces the current one so catalog order stays explicit.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = expandHome(other.DataDir)
	}

	if other.Server.Listen != "" {
		c.Server.Listen = other.Server.Listen
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.RequestTimeout != 0 {
		c.Server.RequestTimeout = other.Server.RequestTimeout
	}

	if other.Embeddings.CallTimeout != 0 {
		c.Embeddings.CallTimeout = other.Embeddings.CallTimeout
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.Concurrency != 0 {
		c.Embeddings.Concurrency = other.Embeddings.Concurrency
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if len(other.Embeddings.Models) > 0 {
		c.Embeddings.Models = other.Embeddings.Models
	}

	if other.VectorStore.Backend != "" {
		c.VectorStore.Backend = other.VectorStore.Backend
	}
	if other.VectorStore.HNSW.M != 0 {
		c.VectorStore.HNSW.M = other.VectorStore.HNSW.M
	}
	if other.VectorStore.HNSW.EfSearch != 0 {
		c.VectorStore.HNSW.EfSearch = other.VectorStore.HNSW.EfSearch
	}
	if other.VectorStore.Redis.Address != "" {
		c.VectorStore.Redis.Address = other.VectorStore.Redis.Address
	}
	if other.VectorStore.Redis.Password != "" {
		c.VectorStore.Redis.Password = other.VectorStore.Redis.Password
	}
	if other.VectorStore.Redis.DB != 0 {
		c.VectorStore.Redis.DB = other.VectorStore.Redis.DB
	}
	if other.VectorStore.Redis.Prefix != "" {
		c.VectorStore.Redis.Prefix = other.VectorStore.Redis.Prefix
	}

	if other.Memory.Policy != "" {
		c.Memory.Policy = other.Memory.Policy
	}
	if other.Memory.Window != 0 {
		c.Memory.Window = other.Memory.Window
	}

	if other.Logging.File != "" {
		c.Logging.File = expandHome(other.Logging.File)
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}

	if other.Telemetry.Disabled {
		c.Telemetry.Disabled = true
	}
	if other.Telemetry.FlushInterval != 0 {
		c.Telemetry.FlushInterval = other.Telemetry.FlushInterval
	}
}

// applyEnvOverrides applies INDEXIFY_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("INDEXIFY_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("INDEXIFY_DATA_DIR"); v != "" {
		c.DataDir = expandHome(v)
	}
	if v := os.Getenv("INDEXIFY_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("INDEXIFY_VECTOR_BACKEND"); v != "" {
		c.VectorStore.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("INDEXIFY_REDIS_ADDR"); v != "" {
		c.VectorStore.Redis.Address = v
	}
	switch strings.ToLower(os.Getenv("INDEXIFY_TELEMETRY")) {
	case "0", "false", "off", "no":
		c.Telemetry.Disabled = true
	case "1", "true", "on", "yes":
		c.Telemetry.Disabled = false
	}
	if v := os.Getenv("INDEXIFY_EMBED_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Embeddings.CallTimeout = d
		}
	}
	if v := os.Getenv("INDEXIFY_EMBED_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.BatchSize = n
		}
	}

	ollamaHost := os.Getenv("INDEXIFY_OLLAMA_HOST")
	openaiKey := os.Getenv("INDEXIFY_OPENAI_API_KEY")
	for i := range c.Embeddings.Models {
		m := &c.Embeddings.Models[i]
		switch m.Provider {
		case ProviderOllama:
			if ollamaHost != "" && m.Host == "" {
				m.Host = ollamaHost
			}
		case ProviderOpenAI:
			if openaiKey != "" && m.APIKey == "" {
				m.APIKey = openaiKey
			}
		}
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must be set")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	if c.Embeddings.CallTimeout <= 0 {
		return fmt.Errorf("embeddings.call_timeout must be positive, got %s", c.Embeddings.CallTimeout)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.Concurrency <= 0 {
		return fmt.Errorf("embeddings.concurrency must be positive, got %d", c.Embeddings.Concurrency)
	}
	if c.Embeddings.CacheSize < 0 {
		return fmt.Errorf("embeddings.cache_size must be non-negative, got %d", c.Embeddings.CacheSize)
	}

	seen := make(map[string]bool, len(c.Embeddings.Models))
	for i, m := range c.Embeddings.Models {
		if m.Name == "" {
			return fmt.Errorf("embeddings.models[%d].name must be set", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("embeddings.models[%d]: duplicate model name %q", i, m.Name)
		}
		seen[m.Name] = true

		switch m.Provider {
		case ProviderStatic, ProviderOllama, ProviderOpenAI:
		default:
			return fmt.Errorf("embeddings.models[%d].provider must be 'static', 'ollama', or 'openai', got %q", i, m.Provider)
		}
		if m.Dimensions <= 0 {
			return fmt.Errorf("embeddings.models[%d].dimensions must be positive, got %d", i, m.Dimensions)
		}
	}

	switch c.VectorStore.Backend {
	case BackendSQLite, BackendHNSW, BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("vector_store.backend must be 'sqlite', 'hnsw', 'memory', or 'redis', got %q", c.VectorStore.Backend)
	}

	switch c.Memory.Policy {
	case "simple", "window":
	default:
		return fmt.Errorf("memory.policy must be 'simple' or 'window', got %q", c.Memory.Policy)
	}
	if c.Memory.Window <= 0 {
		return fmt.Errorf("memory.window must be positive, got %d", c.Memory.Window)
	}
	if c.Telemetry.FlushInterval < 0 {
		return fmt.Errorf("telemetry.flush_interval must not be negative, got %s", c.Telemetry.FlushInterval)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LogFile returns the configured log file path, or "" to use the default.
func (c *Config) LogFile() string {
	return c.Logging.File
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
