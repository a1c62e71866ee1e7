// Package config handles Muninn configuration via environment variables
// and an optional YAML file.
//
// All settings have working defaults, so a zero-configuration start is
// valid. Environment variables are prefixed with MUNINN_ and take
// precedence over the YAML file, which takes precedence over defaults.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//
//   - MUNINN_DATA_DIR="./data" (empty: in-memory store)
//   - MUNINN_HTTP_PORT=8474
//   - MUNINN_EMBEDDING_PROVIDER="ollama", "openai", or "none"
//   - MUNINN_EMBEDDING_MODEL="mxbai-embed-large"
//   - MUNINN_EMBEDDING_DIMENSIONS=1024
//   - MUNINN_EMBEDDING_API_URL="http://localhost:11434"
//   - MUNINN_EMBEDDING_API_KEY=""
//   - MUNINN_HYBRID_WEIGHT=0.6
//   - MUNINN_MIN_LINK_SIMILARITY=0.75
//   - MUNINN_TAG_PROPAGATION_THRESHOLD=0.85
//   - MUNINN_LINK_DECAY_FACTOR=0.98
//   - MUNINN_LINK_PRUNE_THRESHOLD=0.3
//   - MUNINN_IMPORTANCE_DECAY_RATE=0.01
//   - MUNINN_RETRIEVAL_BOOST=0.05
//   - MUNINN_NEIGHBOR_FANOUT=5
//   - MUNINN_SWEEP_INTERVAL=1h
//   - MUNINN_SWEEP_ENABLED=true
//   - MUNINN_WRITE_SWEEP_THRESHOLD=100
//
// For the complete list, see the Config struct field documentation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Muninn configuration.
type Config struct {
	// Database settings
	Database DatabaseConfig `yaml:"database"`

	// HTTP server settings
	Server ServerConfig `yaml:"server"`

	// Embedding provider settings
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Search tuning
	Search SearchConfig `yaml:"search"`

	// Evolution thresholds and cadence
	Evolution EvolutionConfig `yaml:"evolution"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	// DataDir is the on-disk storage directory. Empty means the store
	// runs purely in memory and nothing survives a restart.
	DataDir string `yaml:"data_dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind. Default: 0.0.0.0.
	Host string `yaml:"host"`

	// Port for the REST API. Default: 8474.
	Port int `yaml:"port"`

	// ReadTimeout and WriteTimeout bound request handling.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider is "ollama", "openai", or "none". Default: ollama.
	Provider string `yaml:"provider"`

	// Model name, e.g. "mxbai-embed-large" or "text-embedding-3-small".
	Model string `yaml:"model"`

	// Dimensions every embedding vector must have.
	Dimensions int `yaml:"dimensions"`

	// APIURL is the provider base URL.
	APIURL string `yaml:"api_url"`

	// APIKey authenticates OpenAI-style providers. Unused by Ollama.
	APIKey string `yaml:"api_key"`

	// Timeout per embedding request. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// WorkerInterval is the backfill scan cadence for notes that are
	// still missing embeddings. Default: 15s.
	WorkerInterval time.Duration `yaml:"worker_interval"`
}

// SearchConfig holds hybrid search tuning.
type SearchConfig struct {
	// HybridWeight is the semantic weight alpha in [0, 1]. Default: 0.6.
	HybridWeight float64 `yaml:"hybrid_weight"`

	// RetrievalBoost is the base importance boost per search hit.
	// Default: 0.05.
	RetrievalBoost float64 `yaml:"retrieval_boost"`
}

// EvolutionConfig holds graph evolution settings.
type EvolutionConfig struct {
	MinLinkSimilarity       float64       `yaml:"min_link_similarity"`
	TagPropagationThreshold float64       `yaml:"tag_propagation_threshold"`
	LinkDecayFactor         float64       `yaml:"link_decay_factor"`
	LinkPruneThreshold      float64       `yaml:"link_prune_threshold"`
	ImportanceDecayRate     float64       `yaml:"importance_decay_rate"`
	NeighborFanout          int           `yaml:"neighbor_fanout"`
	SweepInterval           time.Duration `yaml:"sweep_interval"`
	SweepEnabled            bool          `yaml:"sweep_enabled"`
	WriteSweepThreshold     int           `yaml:"write_sweep_threshold"`
}

// Default returns a Config with all defaults and nothing else applied.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataDir: "./data",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8474,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			Model:          "mxbai-embed-large",
			Dimensions:     1024,
			APIURL:         "http://localhost:11434",
			Timeout:        30 * time.Second,
			WorkerInterval: 15 * time.Second,
		},
		Search: SearchConfig{
			HybridWeight:   0.6,
			RetrievalBoost: 0.05,
		},
		Evolution: EvolutionConfig{
			MinLinkSimilarity:       0.75,
			TagPropagationThreshold: 0.85,
			LinkDecayFactor:         0.98,
			LinkPruneThreshold:      0.3,
			ImportanceDecayRate:     0.01,
			NeighborFanout:          5,
			SweepInterval:           time.Hour,
			SweepEnabled:            true,
			WriteSweepThreshold:     100,
		},
	}
}

// LoadFromEnv creates a Config from defaults overridden by MUNINN_*
// environment variables.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// LoadFile creates a Config from defaults, then the YAML file at path,
// then MUNINN_* environment variables, in that order of precedence
// (later wins).
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.DataDir = getEnv("MUNINN_DATA_DIR", c.Database.DataDir)

	c.Server.Host = getEnv("MUNINN_HTTP_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("MUNINN_HTTP_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("MUNINN_HTTP_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("MUNINN_HTTP_WRITE_TIMEOUT", c.Server.WriteTimeout)

	c.Embedding.Provider = getEnv("MUNINN_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Model = getEnv("MUNINN_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimensions = getEnvInt("MUNINN_EMBEDDING_DIMENSIONS", c.Embedding.Dimensions)
	c.Embedding.APIURL = getEnv("MUNINN_EMBEDDING_API_URL", c.Embedding.APIURL)
	c.Embedding.APIKey = getEnv("MUNINN_EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.Timeout = getEnvDuration("MUNINN_EMBEDDING_TIMEOUT", c.Embedding.Timeout)
	c.Embedding.WorkerInterval = getEnvDuration("MUNINN_EMBEDDING_WORKER_INTERVAL", c.Embedding.WorkerInterval)

	c.Search.HybridWeight = getEnvFloat("MUNINN_HYBRID_WEIGHT", c.Search.HybridWeight)
	c.Search.RetrievalBoost = getEnvFloat("MUNINN_RETRIEVAL_BOOST", c.Search.RetrievalBoost)

	c.Evolution.MinLinkSimilarity = getEnvFloat("MUNINN_MIN_LINK_SIMILARITY", c.Evolution.MinLinkSimilarity)
	c.Evolution.TagPropagationThreshold = getEnvFloat("MUNINN_TAG_PROPAGATION_THRESHOLD", c.Evolution.TagPropagationThreshold)
	c.Evolution.LinkDecayFactor = getEnvFloat("MUNINN_LINK_DECAY_FACTOR", c.Evolution.LinkDecayFactor)
	c.Evolution.LinkPruneThreshold = getEnvFloat("MUNINN_LINK_PRUNE_THRESHOLD", c.Evolution.LinkPruneThreshold)
	c.Evolution.ImportanceDecayRate = getEnvFloat("MUNINN_IMPORTANCE_DECAY_RATE", c.Evolution.ImportanceDecayRate)
	c.Evolution.NeighborFanout = getEnvInt("MUNINN_NEIGHBOR_FANOUT", c.Evolution.NeighborFanout)
	c.Evolution.SweepInterval = getEnvDuration("MUNINN_SWEEP_INTERVAL", c.Evolution.SweepInterval)
	c.Evolution.SweepEnabled = getEnvBool("MUNINN_SWEEP_ENABLED", c.Evolution.SweepEnabled)
	c.Evolution.WriteSweepThreshold = getEnvInt("MUNINN_WRITE_SWEEP_THRESHOLD", c.Evolution.WriteSweepThreshold)
}

// Validate checks ranges and rejects contradictory settings. Returns
// the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}

	switch c.Embedding.Provider {
	case "ollama", "openai", "none":
	default:
		return fmt.Errorf("embedding provider must be ollama, openai, or none, got %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider != "none" && c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		return fmt.Errorf("openai provider requires MUNINN_EMBEDDING_API_KEY")
	}

	if c.Search.HybridWeight < 0 || c.Search.HybridWeight > 1 {
		return fmt.Errorf("hybrid weight must be in [0, 1], got %g", c.Search.HybridWeight)
	}
	if c.Search.RetrievalBoost < 0 {
		return fmt.Errorf("retrieval boost must be >= 0, got %g", c.Search.RetrievalBoost)
	}

	ev := c.Evolution
	if ev.MinLinkSimilarity < 0 || ev.MinLinkSimilarity > 1 {
		return fmt.Errorf("min link similarity must be in [0, 1], got %g", ev.MinLinkSimilarity)
	}
	if ev.TagPropagationThreshold < ev.MinLinkSimilarity || ev.TagPropagationThreshold > 1 {
		return fmt.Errorf("tag propagation threshold must be in [min link similarity, 1], got %g", ev.TagPropagationThreshold)
	}
	if ev.LinkDecayFactor <= 0 || ev.LinkDecayFactor > 1 {
		return fmt.Errorf("link decay factor must be in (0, 1], got %g", ev.LinkDecayFactor)
	}
	if ev.LinkPruneThreshold < 0 || ev.LinkPruneThreshold > 1 {
		return fmt.Errorf("link prune threshold must be in [0, 1], got %g", ev.LinkPruneThreshold)
	}
	if ev.ImportanceDecayRate < 0 {
		return fmt.Errorf("importance decay rate must be >= 0, got %g", ev.ImportanceDecayRate)
	}
	if ev.NeighborFanout < 1 {
		return fmt.Errorf("neighbor fanout must be >= 1, got %d", ev.NeighborFanout)
	}
	if ev.SweepEnabled && ev.SweepInterval < time.Second {
		return fmt.Errorf("sweep interval must be >= 1s, got %s", ev.SweepInterval)
	}
	return nil
}

// String returns a one-line summary safe for logs (no API key).
func (c *Config) String() string {
	store := c.Database.DataDir
	if store == "" {
		store = "in-memory"
	}
	return fmt.Sprintf("Config{store=%s, http=%s:%d, embed=%s/%s(%dd), alpha=%.2f, sweep=%s}",
		store, c.Server.Host, c.Server.Port,
		c.Embedding.Provider, c.Embedding.Model, c.Embedding.Dimensions,
		c.Search.HybridWeight, c.Evolution.SweepInterval)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
