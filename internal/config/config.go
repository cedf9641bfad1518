// Package config provides configuration types for cartsync.
//
// Configuration comes from cartsync.yaml (see InitViper for the search
// path), CARTSYNC_* environment variables and CLI flags, in increasing
// order of precedence. Credentials are never part of the configuration:
// they live in the session state file written by "cartsync login".
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration.
type Config struct {
	// Remote configures the remote cart service.
	Remote RemoteConfig `yaml:"remote" mapstructure:"remote"`

	// Session configures where the signed-in session is persisted.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Store configures the cart store.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Checkout configures partial checkout.
	Checkout CheckoutConfig `yaml:"checkout" mapstructure:"checkout"`

	// Journal configures the operation journal.
	Journal JournalConfig `yaml:"journal" mapstructure:"journal"`

	// Status configures the read-only status server of the shell.
	Status StatusConfig `yaml:"status" mapstructure:"status"`

	// Telemetry configures trace and metric export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// LogFormat is text or json.
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"omitempty,oneof=text json"`

	// DevMode enables development features (verbose logging, status server).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// RemoteConfig configures the remote cart service.
type RemoteConfig struct {
	// BaseURL is the API root, e.g. "http://127.0.0.1:8000/api".
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	// Timeout bounds every remote call (e.g. "10s").
	// Default: "10s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
	// Paths are relative to BaseURL.
	Paths PathsConfig `yaml:"paths" mapstructure:"paths"`
}

// PathsConfig holds the endpoint paths of the remote cart service.
type PathsConfig struct {
	Cart   string `yaml:"cart" mapstructure:"cart" validate:"omitempty,startswith=/"`
	Add    string `yaml:"add" mapstructure:"add" validate:"omitempty,startswith=/"`
	Remove string `yaml:"remove" mapstructure:"remove" validate:"omitempty,path_template"`
	Orders string `yaml:"orders" mapstructure:"orders" validate:"omitempty,startswith=/"`
}

// SessionConfig configures session persistence.
type SessionConfig struct {
	// StatePath is the session state file.
	// Default: "~/.cartsync/state.json".
	StatePath string `yaml:"state_path" mapstructure:"state_path"`
}

// StoreConfig configures the cart store.
type StoreConfig struct {
	// Concurrency is what a mutation does while another is pending:
	// "queue" waits, "reject" fails fast.
	// Default: "queue".
	Concurrency string `yaml:"concurrency" mapstructure:"concurrency" validate:"omitempty,oneof=queue reject"`
	// ClearParallelism bounds the concurrent removals of a clear.
	// Default: 8.
	ClearParallelism int `yaml:"clear_parallelism" mapstructure:"clear_parallelism" validate:"omitempty,min=1,max=64"`
}

// CheckoutConfig configures partial checkout.
type CheckoutConfig struct {
	// Rule is an optional CEL expression that must evaluate to true for a
	// checkout to proceed, e.g. "selected_total >= 15.0".
	Rule string `yaml:"rule" mapstructure:"rule" validate:"omitempty,max=1024"`
}

// JournalConfig configures the operation journal.
type JournalConfig struct {
	// Enabled stores the journal in SQLite at Path. When disabled the
	// journal is kept in memory for the life of the process.
	// Default: true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Path is the SQLite database file.
	// Default: "~/.cartsync/journal.db".
	Path string `yaml:"path" mapstructure:"path"`
}

// StatusConfig configures the status server.
type StatusConfig struct {
	// Enabled starts the status server with "cartsync shell".
	// Default: false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// HTTPAddr is the listen address.
	// Default: "127.0.0.1:7070".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Exporter is "none" or "stdout".
	// Default: "none".
	Exporter string `yaml:"exporter" mapstructure:"exporter" validate:"omitempty,oneof=none stdout"`
}

// Default values.
const (
	DefaultBaseURL          = "http://127.0.0.1:8000/api"
	DefaultTimeout          = "10s"
	DefaultCartPath         = "/cart/"
	DefaultAddPath          = "/cart/add/"
	DefaultRemovePath       = "/cart/remove/{product_id}/"
	DefaultOrdersPath       = "/orders/create/"
	DefaultConcurrency      = "queue"
	DefaultClearParallelism = 8
	DefaultStatusAddr       = "127.0.0.1:7070"
)

// DataDir returns the directory holding the state file and the journal.
func DataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cartsync")
	}
	return ".cartsync"
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = DefaultBaseURL
	}
	if c.Remote.Timeout == "" {
		c.Remote.Timeout = DefaultTimeout
	}
	if c.Remote.Paths.Cart == "" {
		c.Remote.Paths.Cart = DefaultCartPath
	}
	if c.Remote.Paths.Add == "" {
		c.Remote.Paths.Add = DefaultAddPath
	}
	if c.Remote.Paths.Remove == "" {
		c.Remote.Paths.Remove = DefaultRemovePath
	}
	if c.Remote.Paths.Orders == "" {
		c.Remote.Paths.Orders = DefaultOrdersPath
	}

	if c.Session.StatePath == "" {
		c.Session.StatePath = filepath.Join(DataDir(), "state.json")
	}

	if c.Store.Concurrency == "" {
		c.Store.Concurrency = DefaultConcurrency
	}
	if c.Store.ClearParallelism == 0 {
		c.Store.ClearParallelism = DefaultClearParallelism
	}

	// viper.IsSet distinguishes "not set" from "explicitly false".
	if !viper.IsSet("journal.enabled") {
		c.Journal.Enabled = true
	}
	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(DataDir(), "journal.db")
	}

	if c.Status.HTTPAddr == "" {
		c.Status.HTTPAddr = DefaultStatusAddr
	}

	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "none"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// SetDevDefaults applies development overrides when DevMode is set.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.LogLevel = "debug"
	c.Status.Enabled = true
}

// RemoteTimeout returns the parsed remote timeout, or the default when it
// does not parse.
func (c *Config) RemoteTimeout() time.Duration {
	d, err := time.ParseDuration(c.Remote.Timeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultTimeout)
	}
	return d
}
