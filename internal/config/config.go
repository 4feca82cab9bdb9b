// Package config provides configuration management for landscaper.
//
// Config file locations (priority order):
//  1. $LANDSCAPER_CONFIG
//  2. ./landscaper.yaml
//  3. $XDG_CONFIG_HOME/landscaper/config.yaml
//  4. ~/.config/landscaper/config.yaml
//  5. /etc/landscaper/config.yaml
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path. Keys missing from the
// file keep their default values.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes and validates a YAML document
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the specified path, creating its directory
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	if err := c.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write encodes the configuration as YAML
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return enc.Close()
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Database: DatabaseConfig{
			Driver:              "sqlite",
			Path:                "./landscape.db",
			HealthCheckInterval: Duration(30 * time.Second),
			Retry:               defaultRetry(),
		},
		HTTP: HTTPConfig{Addr: ":9001"},
		General: GeneralConfig{
			Flush:      true,
			Collectors: []string{"physical_host"},
			Listeners:  []string{"hwloc_watcher"},
			QueueSize:  256,
		},
		PhysicalLayer: PhysicalLayerConfig{
			HWLocFolder:   "data/hwloc",
			CPUInfoFolder: "data/cpuinfo",
			MaxConcurrent: 4,
			Remote: RemoteConfig{
				User:    "root",
				Port:    22,
				Timeout: Duration(30 * time.Second),
				Retry:   defaultRetry(),
			},
		},
		PhysicalNetwork: PhysicalNetworkConfig{
			DescriptionFile: "data/network_description.yaml",
		},
		NATS: NATSConfig{
			URL:      "nats://127.0.0.1:4222",
			Subjects: []string{"notifications.info"},
			Queue:    "landscaper",
			Retry:    defaultRetry(),
		},
		Netscan: NetscanConfig{
			ServiceDetection: true,
			Interval:         Duration(5 * time.Minute),
			Timeout:          Duration(2 * time.Minute),
			Retry:            defaultRetry(),
		},
	}
}

func defaultRetry() RetryConfig {
	return RetryConfig{
		MaxTries:        5,
		InitialInterval: Duration(200 * time.Millisecond),
		MaxInterval:     Duration(5 * time.Second),
	}
}

// applyDefaults fills values an explicit but empty YAML key zeroed out
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.HealthCheckInterval == 0 {
		c.Database.HealthCheckInterval = def.Database.HealthCheckInterval
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = def.HTTP.Addr
	}
	if c.General.QueueSize == 0 {
		c.General.QueueSize = def.General.QueueSize
	}
	if c.PhysicalLayer.CPUInfoFolder == "" {
		c.PhysicalLayer.CPUInfoFolder = c.PhysicalLayer.HWLocFolder
	}
	if c.PhysicalLayer.MaxConcurrent == 0 {
		c.PhysicalLayer.MaxConcurrent = def.PhysicalLayer.MaxConcurrent
	}
	if c.PhysicalLayer.Remote.Port == 0 {
		c.PhysicalLayer.Remote.Port = def.PhysicalLayer.Remote.Port
	}
	if c.Netscan.Interval == 0 {
		c.Netscan.Interval = def.Netscan.Interval
	}
	for _, r := range []*RetryConfig{&c.Database.Retry, &c.PhysicalLayer.Remote.Retry, &c.NATS.Retry, &c.Netscan.Retry} {
		if r.MaxTries == 0 {
			r.MaxTries = def.Database.Retry.MaxTries
		}
		if r.InitialInterval == 0 {
			r.InitialInterval = def.Database.Retry.InitialInterval
		}
		if r.MaxInterval == 0 {
			r.MaxInterval = def.Database.Retry.MaxInterval
		}
	}
}

// Validate checks the struct constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// Enabled reports whether a collector or listener name is configured
func (g GeneralConfig) Enabled(name string) bool {
	for _, n := range append(g.Collectors, g.Listeners...) {
		if n == name {
			return true
		}
	}
	return false
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
