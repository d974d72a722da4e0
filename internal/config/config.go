// Package config provides unified configuration loading for the pipeline.
// Supports YAML files, environment variable overrides, and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the pipeline service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Backend     BackendConfig     `yaml:"backend"`
	Storage     StorageConfig     `yaml:"storage"`
	Blob        BlobConfig        `yaml:"blob"`
	Vision      VisionConfig      `yaml:"vision"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Template    TemplateConfig    `yaml:"template"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Queue       QueueConfig       `yaml:"queue"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// BackendConfig seeds the Backend Registry (C1).
type BackendConfig struct {
	LayoutServiceURL string        `yaml:"layout_service_url"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	Device           string        `yaml:"device"`
	Lang             string        `yaml:"lang"`
}

// StorageConfig selects the companion metadata store driver (C5).
type StorageConfig struct {
	Driver       string `yaml:"driver"` // sqlite or postgres
	SQLitePath   string `yaml:"sqlite_path"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// BlobConfig configures the blob store adapter (C5).
type BlobConfig struct {
	BucketName       string        `yaml:"bucket_name"`
	RootDir          string        `yaml:"root_dir"`
	SignedURLExpiry  time.Duration `yaml:"signed_url_expiry"`
}

// VisionConfig configures the Vision Enricher (C6).
type VisionConfig struct {
	URL               string        `yaml:"url"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	LocalPoolSize     int           `yaml:"local_pool_size"`
	CloudPoolSize     int           `yaml:"cloud_pool_size"`
}

// EmbeddingConfig configures the Embedding Generator (C7).
type EmbeddingConfig struct {
	URL         string `yaml:"url"`
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension"`
	VectorStore string `yaml:"vector_store"` // sqlite or qdrant
	QdrantAddr  string `yaml:"qdrant_addr"`
}

// TemplateConfig configures the Template Loader (C8).
type TemplateConfig struct {
	Directory string `yaml:"directory"`
}

// ExtractionConfig configures the Structured Extractor (C9).
type ExtractionConfig struct {
	LocalURL        string `yaml:"local_url"`
	LocalModel      string `yaml:"local_model"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
}

// QueueConfig configures the asynq-backed enrichment recovery queue.
type QueueConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	Concurrency int  `yaml:"concurrency"`
}

// ObservabilityConfig holds logging and tracing settings.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	ServiceName   string `yaml:"service_name"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	TracingSample float64 `yaml:"tracing_sample_ratio"`
}

// Load reads configuration from a YAML file (if path is non-empty) and
// applies environment variable overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns development-friendly defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     310 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Backend: BackendConfig{
			ProbeInterval: 30 * time.Second,
			ProbeTimeout:  2 * time.Second,
			Device:        "cpu",
			Lang:          "en",
		},
		Storage: StorageConfig{
			Driver:       "sqlite",
			SQLitePath:   "/tmp/docpipe.db",
			MaxOpenConns: 1,
		},
		Blob: BlobConfig{
			BucketName:      "document-images",
			RootDir:         "/tmp/docpipe-blobs",
			SignedURLExpiry: time.Hour,
		},
		Vision: VisionConfig{
			Model:         "llama3.2-vision",
			Timeout:       120 * time.Second,
			LocalPoolSize: 3,
			CloudPoolSize: 8,
		},
		Embedding: EmbeddingConfig{
			Model:       "nomic-embed-text",
			Dimension:   768,
			VectorStore: "sqlite",
		},
		Template: TemplateConfig{
			Directory: "config/templates",
		},
		Extraction: ExtractionConfig{
			LocalModel:     "q-coder-7b",
			DefaultTimeout: 120 * time.Second,
		},
		Queue: QueueConfig{
			Concurrency: 5,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			LogFormat:     "console",
			ServiceName:   "docpipe",
			TracingSample: 1.0,
		},
	}
}

// Validate checks the configuration for obvious errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Storage.Driver != "sqlite" && c.Storage.Driver != "postgres" {
		return fmt.Errorf("invalid storage driver: %s", c.Storage.Driver)
	}
	if c.Embedding.VectorStore != "sqlite" && c.Embedding.VectorStore != "qdrant" {
		return fmt.Errorf("invalid embedding vector store: %s", c.Embedding.VectorStore)
	}
	if c.Vision.LocalPoolSize < 1 || c.Vision.CloudPoolSize < 1 {
		return fmt.Errorf("vision pool sizes must be at least 1")
	}
	return nil
}

// StorageDSN returns the driver-appropriate connection string.
func (c *Config) StorageDSN() string {
	if c.Storage.Driver == "sqlite" {
		return c.Storage.SQLitePath
	}
	return c.Storage.PostgresDSN
}

// applyEnvOverrides applies the recognised environment variables (§6).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LAYOUT_SERVICE_URL"); v != "" {
		cfg.Backend.LayoutServiceURL = v
	}
	if v := os.Getenv("VISION_LLM_URL"); v != "" {
		cfg.Vision.URL = v
	}
	if v := os.Getenv("VISION_LLM_MODEL"); v != "" {
		cfg.Vision.Model = v
	}
	if v := os.Getenv("EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("DEVICE"); v != "" {
		cfg.Backend.Device = v
	}
	if v := os.Getenv("DOC_LANG"); v != "" {
		cfg.Backend.Lang = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Extraction.OpenAIAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Extraction.AnthropicAPIKey = v
	}

	// Additional ambient overrides beyond the literal table, following the
	// same convention.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Storage.Driver = "sqlite"
			cfg.Storage.SQLitePath = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Storage.Driver = "postgres"
			cfg.Storage.PostgresDSN = v
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Queue.RedisAddr = v
	}
	if v := os.Getenv("QDRANT_ADDR"); v != "" {
		cfg.Embedding.QdrantAddr = v
		cfg.Embedding.VectorStore = "qdrant"
	}
	if v := os.Getenv("TEMPLATE_DIR"); v != "" {
		cfg.Template.Directory = v
	}
}

// ResolveRelativePath resolves targetPath relative to configPath's directory.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	return filepath.Join(filepath.Dir(configPath), targetPath)
}
