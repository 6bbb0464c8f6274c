package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Batch holds the admission limits and compression policy of one batch.
type Batch struct {
	MaxItems              int     `toml:"max_items"`
	MaxItemBytes          int64   `toml:"max_item_bytes"`
	MaxOutputBytes        int64   `toml:"max_output_bytes"`
	MaxDimension          int     `toml:"max_dimension"`
	InitialQuality        float64 `toml:"initial_quality"`
	QualityFloor          float64 `toml:"quality_floor"`
	QualityStep           float64 `toml:"quality_step"`
	IntermediateFormat    string  `toml:"intermediate_format"`
	OutputFormat          string  `toml:"output_format"`
	ClearDelay            string  `toml:"clear_delay"`
	BulkDownloadThreshold int     `toml:"bulk_download_threshold"`
	ArchiveFormat         string  `toml:"archive_format"`
	ValidateContent       bool    `toml:"validate_content"`
}

// Storage selects where encoded outputs are kept until released.
type Storage struct {
	Backend    string `toml:"backend" env:"PICBATCH_STORAGE_BACKEND"`
	Bucket     string `toml:"bucket" env:"PICBATCH_S3_BUCKET"`
	Prefix     string `toml:"prefix" env:"PICBATCH_S3_PREFIX"`
	PresignTTL string `toml:"presign_ttl"`
}

// Tools configures external binaries.
type Tools struct {
	HeifConvert string `toml:"heif_convert" env:"PICBATCH_HEIF_CONVERT"`
	Exiftool    bool   `toml:"exiftool"`
}

// Server configures the HTTP transport.
type Server struct {
	Addr         string `toml:"addr" env:"PICBATCH_SERVER_ADDR"`
	ActionLogURL string `toml:"action_log_url" env:"PICBATCH_ACTION_LOG_URL"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `toml:"level" env:"PICBATCH_LOG_LEVEL"`
	Format string `toml:"format" env:"PICBATCH_LOG_FORMAT"`
}

// Config is the full picbatch configuration.
type Config struct {
	Batch   Batch   `toml:"batch"`
	Storage Storage `toml:"storage"`
	Tools   Tools   `toml:"tools"`
	Server  Server  `toml:"server"`
	Logging Logging `toml:"logging"`

	clearDelay time.Duration
	presignTTL time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Batch: Batch{
			MaxItems:              20,
			MaxItemBytes:          10 * 1024 * 1024,
			MaxOutputBytes:        1024 * 1024,
			MaxDimension:          1920,
			InitialQuality:        0.7,
			QualityFloor:          0.1,
			QualityStep:           0.1,
			IntermediateFormat:    "jpeg",
			OutputFormat:          "webp",
			ClearDelay:            "1s",
			BulkDownloadThreshold: 2,
			ArchiveFormat:         "zip",
			ValidateContent:       true,
		},
		Storage: Storage{
			Backend:    "memory",
			Prefix:     "picbatch",
			PresignTTL: "15m",
		},
		Tools: Tools{
			HeifConvert: "heif-convert",
		},
		Server: Server{
			Addr: ":3001",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "picbatch", "config.toml"), nil
}

// Load reads the config at path over Default(), applies environment overrides and
// validates the result. An empty path means DefaultConfigPath; a missing default
// file is not an error. It returns the resolved path and whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, "", false, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	explicit := path != ""
	if !explicit {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		path = defaultPath
	}

	_, err := os.Stat(path)
	switch {
	case err == nil:
		return path, true, nil
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		return path, false, nil
	case errors.Is(err, fs.ErrNotExist):
		return "", false, fmt.Errorf("config file not found: %s", path)
	default:
		return "", false, fmt.Errorf("stat config: %w", err)
	}
}

// ClearDelay is the parsed batch.clear_delay. Valid after Validate.
func (c *Config) ClearDelay() time.Duration {
	return c.clearDelay
}

// PresignTTL is the parsed storage.presign_ttl. Valid after Validate.
func (c *Config) PresignTTL() time.Duration {
	return c.presignTTL
}

// CreateSample writes the sample configuration to path, refusing to overwrite.
func CreateSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
