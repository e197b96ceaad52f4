package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/INLOpen/casc/core"
	"github.com/INLOpen/casc/index"
)

// StoreConfig holds the location of the store and how it is opened.
type StoreConfig struct {
	Root              string `yaml:"root"`                // directory holding shmem, *.idx and data.NNN
	VerifyEntriesHash string `yaml:"verify_entries_hash"` // "off", "warn" or "strict"
	VerifyDataFiles   bool   `yaml:"verify_data_files"`
	LoadConcurrency   int    `yaml:"load_concurrency"`
	OpenTimeout       string `yaml:"open_timeout"` // bounds Open, e.g. "30s"
}

// CacheConfig holds content cache configurations.
type CacheConfig struct {
	Capacity      int    `yaml:"capacity"`
	MaxEntryBytes int    `yaml:"max_entry_bytes"`
	Compression   string `yaml:"compression"`
}

// KeyringConfig names the files decryption keys are loaded from.
type KeyringConfig struct {
	File         string `yaml:"file"`
	SealedFile   string `yaml:"sealed_file"`
	IdentityFile string `yaml:"identity_file"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "stderr", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// MetricsConfig controls publication of the expvar counters.
type MetricsConfig struct {
	Publish bool   `yaml:"publish"`
	Prefix  string `yaml:"prefix"`
}

// Config is the top-level configuration struct.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Keyring KeyringConfig `yaml:"keyring"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// ParseVerifyMode converts the store's verify_entries_hash setting.
func ParseVerifyMode(s string) (index.VerifyMode, error) {
	return index.ParseVerifyMode(s)
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	if c.Store.Root == "" {
		return fmt.Errorf("store.root must be specified")
	}
	if c.Store.LoadConcurrency < 0 {
		return fmt.Errorf("store.load_concurrency must not be negative, got %d", c.Store.LoadConcurrency)
	}
	if _, err := ParseVerifyMode(c.Store.VerifyEntriesHash); err != nil {
		return fmt.Errorf("store.verify_entries_hash: %w", err)
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("cache.capacity must not be negative, got %d", c.Cache.Capacity)
	}
	if _, ok := core.ParseCompressionType(c.Cache.Compression); !ok {
		return fmt.Errorf("cache.compression: unknown codec %q", c.Cache.Compression)
	}
	if c.Keyring.SealedFile != "" && c.Keyring.IdentityFile == "" {
		return fmt.Errorf("keyring.sealed_file requires keyring.identity_file")
	}
	switch c.Tracing.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("tracing.protocol must be grpc or http, got %q", c.Tracing.Protocol)
	}
	return nil
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		Store: StoreConfig{
			Root:              "./data",
			VerifyEntriesHash: "warn",
			VerifyDataFiles:   false,
			LoadConcurrency:   4,
			OpenTimeout:       "30s",
		},
		Cache: CacheConfig{
			Capacity:      256,
			MaxEntryBytes: 16 * 1024 * 1024, // 16 MiB
			Compression:   "snappy",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
			File:   "casc.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Metrics: MetricsConfig{
			Publish: false,
			Prefix:  "casc_",
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
