// Package config loads the stppd runtime configuration from an HCL file
// merged with command line flags.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl"
	"github.com/mitchellh/mapstructure"
)

// Config is the runtime configuration the agent actually uses.
type Config struct {
	// BindAddr is the address the HTTP server listens on.
	//
	// hcl: bind_addr = "string"
	BindAddr string `mapstructure:"bind_addr"`

	// Port is the HTTP server port.
	//
	// hcl: port = int
	Port int `mapstructure:"port"`

	// LogLevel is the hclog level name.
	//
	// hcl: log_level = "string"
	LogLevel string `mapstructure:"log_level"`

	// Workers sizes the background task pool running image loads.
	//
	// hcl: workers = int
	Workers int `mapstructure:"workers"`

	// ImageCacheSize is the number of coded images kept in the loader LRU.
	//
	// hcl: image_cache_size = int
	ImageCacheSize int `mapstructure:"image_cache_size"`

	// MaxConnsPerClient limits concurrent connections per client IP.
	//
	// hcl: max_conns_per_client = int
	MaxConnsPerClient int `mapstructure:"max_conns_per_client"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:          "127.0.0.1",
		Port:              42000,
		LogLevel:          "INFO",
		Workers:           4,
		ImageCacheSize:    64,
		MaxConnsPerClient: 16,
	}
}

// Load reads an HCL config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var raw map[string]interface{}
	if err := hcl.Decode(&raw, string(data)); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := mapstructure.WeakDecode(raw, cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return cfg, nil
}
