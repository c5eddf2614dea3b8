// Package config loads the fdshare CLI configuration. It uses koanf v2 to
// read YAML files and supports writing a commented starter file.
//
// The config file is optional: Load falls back to pure defaults when the
// path does not exist, so the CLI works out of the box with flags alone.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"

	"github.com/chdir/fdshare"
)

// DefaultHelperPath is where the helper executable is installed by default.
const DefaultHelperPath = "/usr/lib/fdshare/fdshare-helper"

// Config holds the CLI configuration. Fields are tagged for both koanf
// (loading) and yaml (writing the starter file).
type Config struct {
	// HelperPath is the privileged helper executable.
	HelperPath string `koanf:"helper_path" yaml:"helper_path"`

	// ElevationCommand is the privilege wrapper the helper is launched
	// through. Empty means the library default ("su", "-c").
	ElevationCommand []string `koanf:"elevation_command" yaml:"elevation_command"`

	// Debug launches the helper directly, without elevation.
	Debug bool `koanf:"debug" yaml:"debug"`

	// AdmissionTimeoutMS bounds waiting for the helper to become ready,
	// in milliseconds.
	AdmissionTimeoutMS int `koanf:"admission_timeout_ms" yaml:"admission_timeout_ms"`

	// RoundTripTimeoutMS bounds a single helper exchange, in milliseconds.
	RoundTripTimeoutMS int `koanf:"round_trip_timeout_ms" yaml:"round_trip_timeout_ms"`

	// LogLevel controls diagnostic verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" yaml:"log_level"`
}

// ErrInvalidTimeout is returned by Load for non-positive timeout values.
var ErrInvalidTimeout = errors.New("timeouts must be positive")

// Load reads the YAML file at path, applies defaults and validates. A
// missing file is not an error; defaults are returned instead.
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); err == nil {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return nil, fmt.Errorf("unmarshalling config: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HelperPath == "" {
		c.HelperPath = DefaultHelperPath
	}
	if c.AdmissionTimeoutMS == 0 {
		c.AdmissionTimeoutMS = int(fdshare.DefaultAdmissionTimeout / time.Millisecond)
	}
	if c.RoundTripTimeoutMS == 0 {
		c.RoundTripTimeoutMS = int(fdshare.DefaultRoundTripTimeout / time.Millisecond)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	if c.AdmissionTimeoutMS <= 0 || c.RoundTripTimeoutMS <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// Factory converts the file form into the library's explicit configuration.
func (c *Config) Factory() fdshare.Config {
	return fdshare.Config{
		HelperPath:       c.HelperPath,
		ElevationCommand: c.ElevationCommand,
		Debug:            c.Debug,
		AdmissionTimeout: time.Duration(c.AdmissionTimeoutMS) * time.Millisecond,
		RoundTripTimeout: time.Duration(c.RoundTripTimeoutMS) * time.Millisecond,
	}
}

// Write saves the configuration as YAML, creating parent directories. Used
// by the CLI's init command to produce a starter file.
func Write(path string, cfg *Config) error {
	data, err := goyaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
