// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/secflow/secflow/pkg/errors"
)

// Config holds all secflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Provider  ProviderConfig  `yaml:"provider"`
	Rate      RateConfig      `yaml:"rate"`
	Cache     CacheConfig     `yaml:"cache"`
	Range     RangeConfig     `yaml:"range"`
	Filter    FilterConfig    `yaml:"filter"`
	Export    ExportConfig    `yaml:"export"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ProviderConfig describes the remote archive.
type ProviderConfig struct {
	BaseURL     string        `yaml:"base_url"`
	UserAgent   string        `yaml:"user_agent"` // "<Company Name> <admin@company.com>"
	Host        string        `yaml:"host"`
	Timeout     time.Duration `yaml:"timeout"`
	BinaryTypes []string      `yaml:"binary_types"`
}

// RateConfig bounds outbound requests: at most Limit per Interval.
type RateConfig struct {
	Limit    int           `yaml:"limit"`
	Interval time.Duration `yaml:"interval"`
}

// CacheConfig locates the local cache.
type CacheConfig struct {
	DataDir string `yaml:"data_dir"`
}

// RangeConfig selects the quarterly index files to maintain.
type RangeConfig struct {
	StartYear    int `yaml:"start_year"`
	StartQuarter int `yaml:"start_quarter"`
	EndYear      int `yaml:"end_year"`    // 0 = current year
	EndQuarter   int `yaml:"end_quarter"` // 0 = 4
}

// FilterConfig controls the filter worker pool.
type FilterConfig struct {
	MaxWorkers int `yaml:"max_workers"` // 0 = auto
}

// ExportConfig controls default export behavior.
type ExportConfig struct {
	Compression string `yaml:"compression"` // snappy | zstd | gzip | none
	BatchSize   int    `yaml:"batch_size"`
}

// StorageConfig for optional remote copies of the cache.
type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config configures the S3 cache mirror.
type S3Config struct {
	Enabled      bool   `yaml:"enabled"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Version: 1,
		Provider: ProviderConfig{
			BaseURL:     "https://www.sec.gov/Archives",
			Host:        "www.sec.gov",
			Timeout:     60 * time.Second,
			BinaryTypes: []string{"gz", "zip", "Z"},
		},
		Rate: RateConfig{
			Limit:    8,
			Interval: time.Second,
		},
		Cache: CacheConfig{
			DataDir: filepath.Join(homeDir, ".secflow", "data"),
		},
		Range: RangeConfig{
			StartYear:    1993,
			StartQuarter: 1,
		},
		Export: ExportConfig{
			Compression: "snappy",
			BatchSize:   8192,
		},
		Telemetry: TelemetryConfig{
			SamplingRatio: 1,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(field string, value interface{}, format string, args ...interface{}) error {
		return errors.Newf(errors.CodeConfig, format, args...).
			WithContext("field", field).
			WithContext("value", value)
	}

	if c.Provider.BaseURL == "" {
		return invalid("provider.base_url", c.Provider.BaseURL, "base url is required")
	}
	if c.Rate.Limit <= 0 {
		return invalid("rate.limit", c.Rate.Limit, "rate limit must be positive")
	}
	if c.Rate.Interval <= 0 {
		return invalid("rate.interval", c.Rate.Interval, "rate interval must be positive")
	}
	if c.Cache.DataDir == "" {
		return invalid("cache.data_dir", c.Cache.DataDir, "data directory is required")
	}
	if c.Range.StartYear < 1993 {
		return invalid("range.start_year", c.Range.StartYear, "index files start in 1993")
	}
	if c.Range.StartQuarter < 1 || c.Range.StartQuarter > 4 {
		return invalid("range.start_quarter", c.Range.StartQuarter, "quarter must be 1..4")
	}
	if c.Range.EndQuarter < 0 || c.Range.EndQuarter > 4 {
		return invalid("range.end_quarter", c.Range.EndQuarter, "quarter must be 0..4")
	}
	if c.Range.EndYear != 0 && c.Range.EndYear < c.Range.StartYear {
		return invalid("range.end_year", c.Range.EndYear, "end year is before start year %d", c.Range.StartYear)
	}
	if c.Filter.MaxWorkers < 0 {
		return invalid("filter.max_workers", c.Filter.MaxWorkers, "worker count cannot be negative")
	}
	switch strings.ToLower(c.Export.Compression) {
	case "", "none", "snappy", "gzip", "zstd":
	default:
		return invalid("export.compression", c.Export.Compression, "unknown compression")
	}
	if c.Storage.S3.Enabled && c.Storage.S3.Bucket == "" {
		return invalid("storage.s3.bucket", c.Storage.S3.Bucket, "bucket is required when the s3 mirror is enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return invalid("telemetry.endpoint", c.Telemetry.Endpoint, "endpoint is required when telemetry is enabled")
	}
	return nil
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	search []string // candidate files, lowest priority first
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager. With no paths the
// system, user and project locations are searched.
func NewManager(paths ...string) *Manager {
	return &Manager{
		config: Default(),
		search: paths,
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	paths := m.search
	if len(paths) == 0 {
		paths = defaultPaths()
	}
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return errors.Wrap(err, errors.CodeConfig, "failed to load config file").WithContext("path", path)
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	if err := m.loadEnv(); err != nil {
		return err
	}
	return m.config.Validate()
}

// defaultPaths returns config file paths in priority order.
func defaultPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/secflow/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".secflow", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".secflow.yaml"))
	}
	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	dst := m.config

	// Provider
	if src.Provider.BaseURL != "" {
		dst.Provider.BaseURL = src.Provider.BaseURL
	}
	if src.Provider.UserAgent != "" {
		dst.Provider.UserAgent = src.Provider.UserAgent
	}
	if src.Provider.Host != "" {
		dst.Provider.Host = src.Provider.Host
	}
	if src.Provider.Timeout != 0 {
		dst.Provider.Timeout = src.Provider.Timeout
	}
	if len(src.Provider.BinaryTypes) > 0 {
		dst.Provider.BinaryTypes = src.Provider.BinaryTypes
	}

	// Rate
	if src.Rate.Limit != 0 {
		dst.Rate.Limit = src.Rate.Limit
	}
	if src.Rate.Interval != 0 {
		dst.Rate.Interval = src.Rate.Interval
	}

	// Cache
	if src.Cache.DataDir != "" {
		dst.Cache.DataDir = src.Cache.DataDir
	}

	// Range
	if src.Range.StartYear != 0 {
		dst.Range.StartYear = src.Range.StartYear
	}
	if src.Range.StartQuarter != 0 {
		dst.Range.StartQuarter = src.Range.StartQuarter
	}
	if src.Range.EndYear != 0 {
		dst.Range.EndYear = src.Range.EndYear
	}
	if src.Range.EndQuarter != 0 {
		dst.Range.EndQuarter = src.Range.EndQuarter
	}

	// Filter
	if src.Filter.MaxWorkers != 0 {
		dst.Filter.MaxWorkers = src.Filter.MaxWorkers
	}

	// Export
	if src.Export.Compression != "" {
		dst.Export.Compression = src.Export.Compression
	}
	if src.Export.BatchSize != 0 {
		dst.Export.BatchSize = src.Export.BatchSize
	}

	// Storage
	if src.Storage.S3.Enabled {
		dst.Storage.S3.Enabled = true
	}
	if src.Storage.S3.Bucket != "" {
		dst.Storage.S3.Bucket = src.Storage.S3.Bucket
	}
	if src.Storage.S3.Prefix != "" {
		dst.Storage.S3.Prefix = src.Storage.S3.Prefix
	}
	if src.Storage.S3.Region != "" {
		dst.Storage.S3.Region = src.Storage.S3.Region
	}
	if src.Storage.S3.Endpoint != "" {
		dst.Storage.S3.Endpoint = src.Storage.S3.Endpoint
	}
	if src.Storage.S3.UsePathStyle {
		dst.Storage.S3.UsePathStyle = true
	}

	// Telemetry
	if src.Telemetry.Enabled {
		dst.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		dst.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.Insecure {
		dst.Telemetry.Insecure = true
	}
	if src.Telemetry.SamplingRatio != 0 {
		dst.Telemetry.SamplingRatio = src.Telemetry.SamplingRatio
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() error {
	// SECFLOW_USER_AGENT
	if v := os.Getenv("SECFLOW_USER_AGENT"); v != "" {
		m.config.Provider.UserAgent = v
	}

	// SECFLOW_DATA_DIR
	if v := os.Getenv("SECFLOW_DATA_DIR"); v != "" {
		m.config.Cache.DataDir = v
	}

	// SECFLOW_BASE_URL
	if v := os.Getenv("SECFLOW_BASE_URL"); v != "" {
		m.config.Provider.BaseURL = v
	}

	// SECFLOW_RATE_LIMIT
	if v := os.Getenv("SECFLOW_RATE_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, errors.CodeConfig, "invalid SECFLOW_RATE_LIMIT").WithContext("value", v)
		}
		m.config.Rate.Limit = limit
	}

	// SECFLOW_OTLP_ENDPOINT
	if v := os.Getenv("SECFLOW_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = v
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to path, or to the user config file when
// path is empty.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".secflow", "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
