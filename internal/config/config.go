// Package config loads the YAML configuration of wbtree tools.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"wbtree/internal/logger"
)

const DefaultPageSize = 8192

var ErrInvalidPageSize = errors.New("config: page_size must be a power of two between 512 and 65536")

// Config is the on-disk configuration. Fields missing from the file keep
// their defaults.
type Config struct {
	DataDir  string        `yaml:"data_dir"`
	PageSize uint64        `yaml:"page_size"`
	DirectIO bool          `yaml:"direct_io"`
	Log      logger.Config `yaml:"log"`
}

func Default() *Config {
	return &Config{
		PageSize: DefaultPageSize,
		Log: logger.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	return ValidatePageSize(c.PageSize)
}

// ValidatePageSize accepts powers of two from 512 to 64 KiB.
func ValidatePageSize(size uint64) error {
	if size < 512 || size > 64*1024 || size&(size-1) != 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidPageSize, size)
	}
	return nil
}
