// Package config loads and validates the replay gateway configuration.
//
// DESIGN: A single YAML file with CLI flag overrides layered on top by the
// caller. Validation happens once at startup; a pinned origin host that can't
// survive the encoding is a configuration defect and fails installation, not
// the first request.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harbinger-dev/harbinger/internal/vhost"
)

// ServerConfig holds the replay server's listen parameters.
type ServerConfig struct {
	Sentinel     string        `yaml:"sentinel"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ReplayConfig holds archive and rewriting parameters.
type ReplayConfig struct {
	Namespace  string `yaml:"namespace"`
	OriginHost string `yaml:"origin_host"` // optional single pinned virtual host
	HarPath    string `yaml:"har_path"`
	DumpPath   string `yaml:"dump_path"` // on-disk body overrides
	ProxyURL   string `yaml:"proxy_url"` // live-proxy fallback for archive misses
	StorePath  string `yaml:"store_path"`
	Watch      bool   `yaml:"watch"` // reload the archive when the file changes
}

// BlackholeConfig controls the egress-refusing companion server.
type BlackholeConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // optional rotating file sink
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Config is the full gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Replay    ReplayConfig    `yaml:"replay"`
	Blackhole BlackholeConfig `yaml:"blackhole"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Sentinel:     DefaultSentinel,
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
		},
		Replay: ReplayConfig{
			Namespace: DefaultNamespace,
			StorePath: DefaultStorePath,
		},
		Blackhole: BlackholeConfig{
			Port: DefaultBlackholePort,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
		},
	}
}

// Load reads path on top of the defaults. A missing path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration, including the codec compatibility of the
// pinned origin host.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Blackhole.Enabled {
		if c.Blackhole.Port <= 0 || c.Blackhole.Port > 65535 {
			return fmt.Errorf("invalid blackhole port %d", c.Blackhole.Port)
		}
		if c.Blackhole.Port == c.Server.Port {
			return fmt.Errorf("blackhole port %d collides with server port", c.Blackhole.Port)
		}
	}
	// Surfaces namespace and pinned-host defects before anything listens.
	if _, err := c.Codec(); err != nil {
		return err
	}
	return nil
}

// Codec builds the virtual-host codec from the installation parameters.
func (c *Config) Codec() (*vhost.Codec, error) {
	return vhost.New(c.Server.Sentinel, c.Server.Port, c.Replay.Namespace, c.Replay.OriginHost)
}
