package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Store drivers.
const (
	DriverRemote   = "remote"
	DriverSQLite   = "sqlite"
	DriverDynamoDB = "dynamodb"
)

// Export sinks.
const (
	SinkFile   = "file"
	SinkS3     = "s3"
	SinkStdout = "stdout"
)

// Config holds all application configuration.
type Config struct {
	// Remote store access
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Where the authenticated identity comes from
	Identity IdentityConfig `json:"identity" mapstructure:"identity"`

	// Connection status monitoring
	Monitor MonitorConfig `json:"monitor" mapstructure:"monitor"`

	// Bulk export
	Export ExportConfig `json:"export" mapstructure:"export"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// StoreConfig for the remote document store.
type StoreConfig struct {
	Driver      string        `json:"driver" mapstructure:"driver"`             // remote, sqlite, dynamodb
	BaseURL     string        `json:"base_url" mapstructure:"base_url"`         // HTTP reads
	RealtimeURL string        `json:"realtime_url" mapstructure:"realtime_url"` // WebSocket listeners (derived from base_url if empty)
	Token       string        `json:"token,omitempty" mapstructure:"token"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries  int           `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay  time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
	UserAgent   string        `json:"user_agent" mapstructure:"user_agent"`
	RateLimit   float64       `json:"rate_limit" mapstructure:"rate_limit"` // Reads per second (0 = unlimited)
	OwnerField  string        `json:"owner_field" mapstructure:"owner_field"` // Document field holding the owner id
	SQLitePath  string        `json:"sqlite_path" mapstructure:"sqlite_path"`
	DynamoTable string        `json:"dynamo_table" mapstructure:"dynamo_table"`
}

// IdentityConfig for the identity source.
type IdentityConfig struct {
	SessionFile string `json:"session_file" mapstructure:"session_file"` // Watched session file
	UserID      string `json:"user_id,omitempty" mapstructure:"user_id"`   // Fixed identity, overrides the session file
}

// MonitorConfig for the connection status monitor.
type MonitorConfig struct {
	ProbeCollection    string        `json:"probe_collection" mapstructure:"probe_collection"`
	UpdateBuffer       int           `json:"update_buffer" mapstructure:"update_buffer"`
	ConnectivityTarget string        `json:"connectivity_target" mapstructure:"connectivity_target"` // host:port dialed to detect network state
	ProbeInterval      time.Duration `json:"probe_interval" mapstructure:"probe_interval"`
	ProbeTimeout       time.Duration `json:"probe_timeout" mapstructure:"probe_timeout"`
}

// ExportConfig for the bulk export pipeline.
type ExportConfig struct {
	MaxConcurrent  int    `json:"max_concurrent" mapstructure:"max_concurrent"` // Parallel collection reads
	FilenamePrefix string `json:"filename_prefix" mapstructure:"filename_prefix"`
	Sink           string `json:"sink" mapstructure:"sink"` // file, s3, stdout
	OutputDir      string `json:"output_dir" mapstructure:"output_dir"`
	S3Bucket       string `json:"s3_bucket,omitempty" mapstructure:"s3_bucket"`
	S3Prefix       string `json:"s3_prefix,omitempty" mapstructure:"s3_prefix"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stdout)
	Color  bool   `json:"color" mapstructure:"color"`   // Enable colored output
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".finsync"

	return &Config{
		Store: StoreConfig{
			Driver:     DriverRemote,
			BaseURL:    "https://api.finsync.app",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RetryDelay: time.Second,
			UserAgent:  "finsync-go/1.0",
			OwnerField: "userId",
			SQLitePath: filepath.Join(dataDir, "store.db"),
		},
		Identity: IdentityConfig{
			SessionFile: filepath.Join(dataDir, "session.json"),
		},
		Monitor: MonitorConfig{
			ProbeCollection: "transactions",
			UpdateBuffer:    16,
			ProbeInterval:   5 * time.Second,
			ProbeTimeout:    2 * time.Second,
		},
		Export: ExportConfig{
			MaxConcurrent:  4,
			FilenamePrefix: "finance-export",
			Sink:           SinkFile,
			OutputDir:      filepath.Join(dataDir, "exports"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverRemote:
		if c.Store.BaseURL == "" {
			return errors.New("store.base_url is required")
		}
		if _, err := url.Parse(c.Store.BaseURL); err != nil {
			return fmt.Errorf("store.base_url: %w", err)
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required")
		}
	case DriverDynamoDB:
		if c.Store.DynamoTable == "" {
			return errors.New("store.dynamo_table is required")
		}
	default:
		return fmt.Errorf("invalid store driver: %s", c.Store.Driver)
	}

	if c.Store.Timeout <= 0 {
		return errors.New("store.timeout must be positive")
	}

	if c.Store.RateLimit < 0 {
		return errors.New("store.rate_limit must not be negative")
	}

	if c.Store.OwnerField == "" {
		return errors.New("store.owner_field is required")
	}

	if c.Monitor.ProbeCollection == "" {
		return errors.New("monitor.probe_collection is required")
	}

	if c.Monitor.UpdateBuffer <= 0 {
		return errors.New("monitor.update_buffer must be positive")
	}

	if c.Monitor.ProbeInterval <= 0 {
		return errors.New("monitor.probe_interval must be positive")
	}

	if c.Export.MaxConcurrent <= 0 {
		return errors.New("export.max_concurrent must be positive")
	}

	switch c.Export.Sink {
	case SinkFile:
		if c.Export.OutputDir == "" {
			return errors.New("export.output_dir is required for file sink")
		}
	case SinkS3:
		if c.Export.S3Bucket == "" {
			return errors.New("export.s3_bucket is required for s3 sink")
		}
	case SinkStdout:
	default:
		return fmt.Errorf("invalid export sink: %s", c.Export.Sink)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// RealtimeEndpoint returns the websocket endpoint, derived from the base URL when unset.
func (s StoreConfig) RealtimeEndpoint() string {
	if s.RealtimeURL != "" {
		return s.RealtimeURL
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/v1/listen"
	return u.String()
}

// ConnectivityAddr returns the host:port dialed to detect network state.
func (m MonitorConfig) ConnectivityAddr(store StoreConfig) string {
	if m.ConnectivityTarget != "" {
		return m.ConnectivityTarget
	}
	u, err := url.Parse(store.BaseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "http" {
		return u.Hostname() + ":80"
	}
	return u.Hostname() + ":443"
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	var dirs []string

	if c.Store.Driver == DriverSQLite {
		dirs = append(dirs, filepath.Dir(c.Store.SQLitePath))
	}

	if c.Export.Sink == SinkFile {
		dirs = append(dirs, c.Export.OutputDir)
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
