package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tagforge/tcdb/core"
)

// DatabaseConfig holds catalog layout configurations.
type DatabaseConfig struct {
	// MountPoint is the host path where the player's storage is mounted.
	MountPoint string `yaml:"mount_point"`
	// DevicePrefix is prepended to every stored path, e.g. "/<HDD0>".
	DevicePrefix string `yaml:"device_prefix"`
}

// CacheConfig holds scan-cache configurations.
type CacheConfig struct {
	// MaxMemoryBytes is the cache ceiling. 0 means size from available
	// system memory.
	MaxMemoryBytes int64 `yaml:"max_memory_bytes"`
	// SnapshotCompression selects the snapshot codec: "none", "snappy",
	// "lz4" or "zstd".
	SnapshotCompression string `yaml:"snapshot_compression"`
	SnapshotFile        string `yaml:"snapshot_file"`
}

// ScannerConfig holds directory-scan configurations.
type ScannerConfig struct {
	Workers    int      `yaml:"workers"`    // <=0 means GOMAXPROCS
	Extensions []string `yaml:"extensions"` // nil means the built-in audio list
}

// GeneratorConfig holds generation-pipeline configurations.
type GeneratorConfig struct {
	Workers int `yaml:"workers"` // <=0 means GOMAXPROCS
}

// UpdateConfig holds incremental-update configurations.
type UpdateConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// Config is the top-level configuration struct.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Generator GeneratorConfig `yaml:"generator"`
	Update    UpdateConfig    `yaml:"update"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		Database: DatabaseConfig{
			MountPoint:   "",
			DevicePrefix: "",
		},
		Cache: CacheConfig{
			MaxMemoryBytes:      0,
			SnapshotCompression: "snappy",
			SnapshotFile:        "scan_cache.tcs",
		},
		Scanner: ScannerConfig{
			Workers:    0,
			Extensions: nil,
		},
		Generator: GeneratorConfig{
			Workers: 0,
		},
		Update: UpdateConfig{
			SimilarityThreshold: 0.75,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "tcdb.log",
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

	if err := cfg.Validate(); err != nil {
		return nil, err
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

// Validate rejects values that would only fail later and further from
// their cause.
func (c *Config) Validate() error {
	if c.Cache.MaxMemoryBytes != 0 && c.Cache.MaxMemoryBytes < 100*1024*1024 {
		return fmt.Errorf("cache.max_memory_bytes %d is below the 100 MiB minimum: %w",
			c.Cache.MaxMemoryBytes, core.ErrCeilingTooLow)
	}
	if _, err := core.ParseCompressionType(c.Cache.SnapshotCompression); err != nil {
		return fmt.Errorf("cache.snapshot_compression: %w", err)
	}
	if t := c.Update.SimilarityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("update.similarity_threshold %v is outside [0, 1]", t)
	}
	return nil
}
