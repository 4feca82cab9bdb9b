package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"landscaper/internal/retry"
)

// Config is the root configuration structure
type Config struct {
	Log             LogConfig             `yaml:"log"`
	Database        DatabaseConfig        `yaml:"database"`
	HTTP            HTTPConfig            `yaml:"http"`
	General         GeneralConfig         `yaml:"general"`
	PhysicalLayer   PhysicalLayerConfig   `yaml:"physical_layer"`
	PhysicalNetwork PhysicalNetworkConfig `yaml:"physical_network"`
	NATS            NATSConfig            `yaml:"nats"`
	Netscan         NetscanConfig         `yaml:"netscan"`
}

// LogConfig controls the logger and optional log file rotation
type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=json console"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Driver              string      `yaml:"driver" validate:"oneof=sqlite memory"`
	Path                string      `yaml:"path" validate:"required_if=Driver sqlite"`
	HealthCheckInterval Duration    `yaml:"health_check_interval"`
	Retry               RetryConfig `yaml:"retry"`
}

// RetryConfig bounds reconnection attempts to an upstream
type RetryConfig struct {
	MaxTries        uint     `yaml:"max_tries" validate:"gte=1"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
}

// Policy converts the settings into a retry policy
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxTries:        r.MaxTries,
		InitialInterval: r.InitialInterval.Duration(),
		MaxInterval:     r.MaxInterval.Duration(),
	}
}

// HTTPConfig holds the query API listener
type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// GeneralConfig selects the collectors and listeners to run
type GeneralConfig struct {
	// Flush wipes the store before the collectors initialise.
	Flush      bool     `yaml:"flush"`
	Collectors []string `yaml:"collectors" validate:"dive,oneof=physical_host physical_network instance volume netscan"`
	Listeners  []string `yaml:"listeners" validate:"dive,oneof=hwloc_watcher notifications netscan_ticker"`
	QueueSize  int      `yaml:"queue_size" validate:"gte=0"`
}

// PhysicalLayerConfig configures host topology collection
type PhysicalLayerConfig struct {
	HWLocFolder   string       `yaml:"hwloc_folder" validate:"required"`
	CPUInfoFolder string       `yaml:"cpuinfo_folder"`
	TypesToFilter []string     `yaml:"types_to_filter"`
	MaxConcurrent int          `yaml:"max_concurrent" validate:"gte=1"`
	Remote        RemoteConfig `yaml:"remote"`
}

// RemoteConfig fetches host descriptions over SSH instead of from folders
type RemoteConfig struct {
	Enabled        bool        `yaml:"enabled"`
	Hosts          []string    `yaml:"hosts" validate:"required_if=Enabled true"`
	User           string      `yaml:"user" validate:"required_if=Enabled true"`
	KeyPath        string      `yaml:"key_path" validate:"required_if=Enabled true"`
	KnownHostsPath string      `yaml:"known_hosts_path,omitempty"`
	Port           int         `yaml:"port" validate:"gte=0,lte=65535"`
	Timeout        Duration    `yaml:"timeout"`
	Retry          RetryConfig `yaml:"retry"`
}

// PhysicalNetworkConfig points at the switch description file
type PhysicalNetworkConfig struct {
	DescriptionFile string `yaml:"description_file"`
}

// NATSConfig configures the notification listener
type NATSConfig struct {
	URL      string      `yaml:"url" validate:"required"`
	Subjects []string    `yaml:"subjects" validate:"dive,required"`
	Queue    string      `yaml:"queue"`
	Retry    RetryConfig `yaml:"retry"`
}

// NetscanConfig configures nmap endpoint discovery
type NetscanConfig struct {
	Targets          []string    `yaml:"targets" validate:"dive,required"`
	// DiscoverLocal scans the host's own private subnets when Targets is
	// empty.
	DiscoverLocal    bool        `yaml:"discover_local"`
	Ports            string      `yaml:"ports,omitempty"`
	ServiceDetection bool        `yaml:"service_detection"`
	Interval         Duration    `yaml:"interval"`
	Timeout          Duration    `yaml:"timeout"`
	Retry            RetryConfig `yaml:"retry"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
