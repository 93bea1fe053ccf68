// Package config provides unified configuration for the crimestats tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/crimestats/crimestats/internal/logging"
)

// SourcePolicy decides what happens when one input source fails.
type SourcePolicy string

const (
	// PolicySkip records the failure and continues with the remaining sources.
	PolicySkip SourcePolicy = "skip"
	// PolicyFailFast aborts the run on the first failing source.
	PolicyFailFast SourcePolicy = "fail-fast"
)

// Config holds the unified configuration for the crimestats tools.
type Config struct {
	// DataDir is the base directory for work files and downloads
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// DateLayout is the Go time layout of the Reported Date column
	DateLayout string `json:"date_layout" yaml:"date_layout"`

	// Merge configuration
	Merge MergeConfig `json:"merge" yaml:"merge"`

	// Filter configuration
	Filter FilterConfig `json:"filter" yaml:"filter"`

	// HTTP configuration for the dashboard data API
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Cache configuration for loaded datasets
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Log configuration
	Log logging.Config `json:"log" yaml:"log"`
}

// MergeConfig holds dataset merger configuration.
type MergeConfig struct {
	// SourcePolicy is skip or fail-fast
	SourcePolicy SourcePolicy `json:"source_policy" yaml:"source_policy"`

	// Verify re-checks the canonical table invariants before writing
	Verify bool `json:"verify" yaml:"verify"`

	// DownloadConcurrency bounds parallel downloads of remote sources
	DownloadConcurrency int `json:"download_concurrency" yaml:"download_concurrency"`
}

// FilterConfig holds suburb filter configuration.
type FilterConfig struct {
	// Suburbs is the default suburb list
	Suburbs []string `json:"suburbs" yaml:"suburbs"`

	// FoldCase matches suburbs case-insensitively
	FoldCase bool `json:"fold_case" yaml:"fold_case"`

	// BatchSize is the number of rows read per batch
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// SourcePolicy is skip or fail-fast
	SourcePolicy SourcePolicy `json:"source_policy" yaml:"source_policy"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address
	Addr string `json:"addr" yaml:"addr"`

	// DataPath is the dataset served (local path or s3:// URI)
	DataPath string `json:"data_path" yaml:"data_path"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// CacheConfig holds dataset cache configuration.
type CacheConfig struct {
	// MaxEntries is the maximum number of datasets kept in memory
	MaxEntries int `json:"max_entries" yaml:"max_entries"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the default S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "./data/crimestats",
		DateLayout: "02/01/2006",
		Merge: MergeConfig{
			SourcePolicy:        PolicySkip,
			Verify:              true,
			DownloadConcurrency: 4,
		},
		Filter: FilterConfig{
			BatchSize:    1_000_000,
			SourcePolicy: PolicyFailFast,
		},
		HTTP: HTTPConfig{
			Addr:         ":8501",
			DataPath:     "filtered-data-sa-crime.csv",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Cache: CacheConfig{
			MaxEntries: 8,
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Log: logging.DefaultConfig(),
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/crimestats"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Merge.DownloadConcurrency <= 0 {
		c.Merge.DownloadConcurrency = 4
	}
	if c.Filter.BatchSize <= 0 {
		c.Filter.BatchSize = 1_000_000
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 8
	}
}

// WorkDir returns the directory used for downloads and temp files.
func (c *Config) WorkDir() string {
	return filepath.Join(c.DataDir, "work")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	for name, p := range map[string]SourcePolicy{
		"merge.source_policy":  c.Merge.SourcePolicy,
		"filter.source_policy": c.Filter.SourcePolicy,
	} {
		if p != PolicySkip && p != PolicyFailFast {
			return fmt.Errorf("invalid %s: %q (must be skip or fail-fast)", name, p)
		}
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if strings.TrimSpace(c.DateLayout) == "" {
		return fmt.Errorf("date_layout is required")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// envKeys maps config keys to the setter applied when the matching
// CRIMESTATS_* environment variable is set.
var envKeys = map[string]func(cfg *Config, v *viper.Viper, key string){
	"data_dir":            func(c *Config, v *viper.Viper, k string) { c.DataDir = v.GetString(k) },
	"date_layout":         func(c *Config, v *viper.Viper, k string) { c.DateLayout = v.GetString(k) },
	"merge_source_policy": func(c *Config, v *viper.Viper, k string) { c.Merge.SourcePolicy = SourcePolicy(v.GetString(k)) },
	"merge_verify":        func(c *Config, v *viper.Viper, k string) { c.Merge.Verify = v.GetBool(k) },
	"filter_suburbs":      func(c *Config, v *viper.Viper, k string) { c.Filter.Suburbs = splitList(v.GetString(k)) },
	"filter_fold_case":    func(c *Config, v *viper.Viper, k string) { c.Filter.FoldCase = v.GetBool(k) },
	"filter_batch_size":   func(c *Config, v *viper.Viper, k string) { c.Filter.BatchSize = v.GetInt(k) },
	"http_addr":           func(c *Config, v *viper.Viper, k string) { c.HTTP.Addr = v.GetString(k) },
	"http_data_path":      func(c *Config, v *viper.Viper, k string) { c.HTTP.DataPath = v.GetString(k) },
	"cache_max_entries":   func(c *Config, v *viper.Viper, k string) { c.Cache.MaxEntries = v.GetInt(k) },
	"storage_type":        func(c *Config, v *viper.Viper, k string) { c.Storage.Type = v.GetString(k) },
	"storage_path":        func(c *Config, v *viper.Viper, k string) { c.Storage.Path = v.GetString(k) },
	"s3_bucket":           func(c *Config, v *viper.Viper, k string) { c.Storage.S3.Bucket = v.GetString(k) },
	"s3_region":           func(c *Config, v *viper.Viper, k string) { c.Storage.S3.Region = v.GetString(k) },
	"s3_endpoint":         func(c *Config, v *viper.Viper, k string) { c.Storage.S3.Endpoint = v.GetString(k) },
	"s3_use_path_style":   func(c *Config, v *viper.Viper, k string) { c.Storage.S3.UsePathStyle = v.GetBool(k) },
	"log_level":           func(c *Config, v *viper.Viper, k string) { c.Log.Level = v.GetString(k) },
	"log_format":          func(c *Config, v *viper.Viper, k string) { c.Log.Format = v.GetString(k) },
	"log_output":          func(c *Config, v *viper.Viper, k string) { c.Log.Output = v.GetString(k) },
}

// LoadFromEnv overlays environment variables onto cfg.
// Environment variables use the CRIMESTATS_ prefix, e.g. CRIMESTATS_HTTP_ADDR.
func LoadFromEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("CRIMESTATS")
	v.AutomaticEnv()

	for key, apply := range envKeys {
		if _, ok := os.LookupEnv("CRIMESTATS_" + strings.ToUpper(key)); !ok {
			continue
		}
		apply(cfg, v, key)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
