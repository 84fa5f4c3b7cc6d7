// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Device    DeviceConfig            `yaml:"device"`
	Transport TransportConfig         `yaml:"transport"`
	Discovery DiscoveryConfig         `yaml:"discovery"`
	Storage   StorageConfig           `yaml:"storage"`
	Sync      SyncConfig              `yaml:"sync"`
	Control   ControlConfig           `yaml:"control"`
	Log       LogConfig               `yaml:"log"`
	Filters   map[string]FilterConfig `yaml:"filters"`
}

// DeviceConfig describes the local device.
type DeviceConfig struct {
	Name string `yaml:"name" default:"jamtab" validate:"required,max=64"`
}

// TransportConfig represents peer transport configuration.
type TransportConfig struct {
	ListenAddr         string `yaml:"listen_addr" default:":7700" validate:"required"`
	AdvertiseAddr      string `yaml:"advertise_addr"`
	Path               string `yaml:"path" default:"/peer" validate:"startswith=/"`
	SendBuffer         int    `yaml:"send_buffer" default:"64" validate:"gte=1,lte=4096"`
	ConnectTimeoutMs   *int   `yaml:"connect_timeout_ms" default:"10000" validate:"gte=0"` // 0 disables the deadline
	HandshakeTimeoutMs int    `yaml:"handshake_timeout_ms" default:"5000" validate:"gte=0"`
}

// DiscoveryConfig represents join code discovery configuration.
type DiscoveryConfig struct {
	Kind   string            `yaml:"kind" default:"direct" validate:"oneof=direct valkey"`
	Static map[string]string `yaml:"static"` // direct only: code -> peer URL
	Valkey ValkeyConfig      `yaml:"valkey"`
}

// ValkeyConfig represents the Valkey directory connection.
type ValkeyConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	Prefix   string   `yaml:"prefix" default:"jamtab:code:"`
	TTLSec   int      `yaml:"ttl_sec" default:"43200" validate:"gte=60"`
}

// StorageConfig represents persistence configuration.
type StorageConfig struct {
	Path string `yaml:"path" default:"jamtab.db" validate:"required"`
}

// SyncConfig represents session sync tuning.
type SyncConfig struct {
	ScrollRatePerSec   float64 `yaml:"scroll_rate_per_sec" default:"10" validate:"gte=0"`
	ScrollBurst        int     `yaml:"scroll_burst" default:"5" validate:"gte=1"`
	SaveHistoryOnLeave *bool   `yaml:"save_history_on_leave" default:"true"`
}

// ControlConfig represents the local control API.
type ControlConfig struct {
	Addr  string `yaml:"addr" default:"127.0.0.1:7701" validate:"required"`
	Token string `yaml:"token" validate:"required"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	File   string `yaml:"file"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("JAM_CONTROL_TOKEN"); v != "" {
		c.Control.Token = v
	}
	if v := os.Getenv("JAM_VALKEY_PASSWORD"); v != "" {
		c.Discovery.Valkey.Password = v
	}
	if v := os.Getenv("JAM_DEVICE_NAME"); v != "" {
		c.Device.Name = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Discovery.Kind == "valkey" && len(c.Discovery.Valkey.Addrs) == 0 {
		return errors.New("discovery.valkey.addrs is required when discovery.kind is valkey")
	}
	if strings.HasPrefix(c.Transport.AdvertiseAddr, "ws://") {
		return errors.Newf("transport.advertise_addr (%s) must be host:port without scheme", c.Transport.AdvertiseAddr)
	}

	return nil
}

// ConnectTimeout returns the transport connect timeout. Zero means none.
func (c *Config) ConnectTimeout() time.Duration {
	if c.Transport.ConnectTimeoutMs == nil {
		return 0
	}
	return time.Duration(*c.Transport.ConnectTimeoutMs) * time.Millisecond
}

// HandshakeTimeout returns the websocket handshake timeout. Zero means none.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Transport.HandshakeTimeoutMs) * time.Millisecond
}

// ValkeyTTL returns how long a registered join code stays resolvable.
func (c *Config) ValkeyTTL() time.Duration {
	return time.Duration(c.Discovery.Valkey.TTLSec) * time.Second
}

// SaveHistoryOnLeave reports whether leaving stores a past session record.
func (c *Config) SaveHistoryOnLeave() bool {
	return c.Sync.SaveHistoryOnLeave == nil || *c.Sync.SaveHistoryOnLeave
}

// IsFilterEnabled checks if a filter is enabled.
// Filters missing from the config are enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return true
}

// EnabledFilters returns the enabled filters among names, sorted.
func (c *Config) EnabledFilters(names []string) []string {
	enabled := []string{}
	for _, name := range names {
		if c.IsFilterEnabled(name) {
			enabled = append(enabled, name)
		}
	}
	sort.Strings(enabled)
	return enabled
}
