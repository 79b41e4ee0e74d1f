// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the LiNa store server.
type Config struct {
	// Addr is the LiNa protocol TCP listener address.
	Addr string `yaml:"addr"`

	// HTTPAddr is the HTTP façade listener address.
	HTTPAddr string `yaml:"http_addr"`

	// DataDir is the root directory for blobs/ and index.db.
	DataDir string `yaml:"data_dir"`

	// MaxPayload is the largest payload, in bytes, the connection loop
	// will accept before resetting the connection.
	MaxPayload int64 `yaml:"max_payload"`

	// ReadTimeout and WriteTimeout bound a single connection's header
	// and payload I/O, expressed as Go duration strings (e.g. "5s").
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`

	// SQLitePoolSize is the number of pooled connections to the name
	// index, shared by reads and writes. Zero means the package default.
	SQLitePoolSize int `yaml:"sqlite_pool_size"`
}

// Default returns the configuration used as a base before loading the
// config file. It exists to give every field a sensible zero-value,
// not as a fallback — LoadFile always starts from Default and then
// merges in the file's contents.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Addr:           ":8086",
		HTTPAddr:       ":8096",
		DataDir:        filepath.Join(homeDir, ".local", "share", "linastore"),
		MaxPayload:     64 << 20,
		ReadTimeout:    "5s",
		WriteTimeout:   "5s",
		SQLitePoolSize: 0,
	}
}

// Load loads configuration from the path named by the LINASTORE_CONFIG
// environment variable. There is no fallback: if the variable is
// unset, this fails.
func Load() (*Config, error) {
	path := os.Getenv("LINASTORE_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("LINASTORE_CONFIG environment variable not set; " +
			"set it to the path of your linastore.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merging it
// over Default(), then expands ${...} variables in DataDir.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.DataDir = expandVars(cfg.DataDir, map[string]string{"HOME": os.Getenv("HOME")})

	return cfg, nil
}

// Validate checks the configuration for errors a server must refuse
// to start with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.MaxPayload <= 0 {
		return fmt.Errorf("max_payload must be positive")
	}
	if _, err := c.ReadTimeoutDuration(); err != nil {
		return fmt.Errorf("read_timeout: %w", err)
	}
	if _, err := c.WriteTimeoutDuration(); err != nil {
		return fmt.Errorf("write_timeout: %w", err)
	}
	return nil
}

// ReadTimeoutDuration parses ReadTimeout as a time.Duration.
func (c *Config) ReadTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.ReadTimeout)
}

// WriteTimeoutDuration parses WriteTimeout as a time.Duration.
func (c *Config) WriteTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.WriteTimeout)
}

// EnsureDataDir creates DataDir (and its blobs/ subdirectory) if they
// do not exist.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(filepath.Join(c.DataDir, "blobs"), 0o755); err != nil {
		return fmt.Errorf("config: creating %s: %w", c.DataDir, err)
	}
	return nil
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}
