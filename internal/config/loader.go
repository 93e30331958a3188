package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. FINSYNC_LOG_LEVEL.
const EnvPrefix = "FINSYNC"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		v:          viper.New(),
	}
}

// ConfigFile returns the file the configuration was read from, if any.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Load reads configuration from file and environment.
func (l *Loader) Load() (*Config, error) {
	v := l.v

	// Start with defaults
	setDefaults(v, DefaultConfig())

	// Environment overrides: store.base_url -> FINSYNC_STORE_BASE_URL
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load from file if exists
	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		// Try default locations
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("load config file %s: %w", path, err)
				}
				break
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	// Validate final config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{
		"finsync.json",
		"finsync.yaml",
		".finsync.json",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "finsync", "config.json"),
			filepath.Join(homeDir, ".config", "finsync", "config.yaml"),
			filepath.Join(homeDir, ".finsync", "config.json"),
		)
	}

	return paths
}

// setDefaults registers every key so env overrides apply during Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.base_url", cfg.Store.BaseURL)
	v.SetDefault("store.realtime_url", cfg.Store.RealtimeURL)
	v.SetDefault("store.token", cfg.Store.Token)
	v.SetDefault("store.timeout", cfg.Store.Timeout)
	v.SetDefault("store.max_retries", cfg.Store.MaxRetries)
	v.SetDefault("store.retry_delay", cfg.Store.RetryDelay)
	v.SetDefault("store.user_agent", cfg.Store.UserAgent)
	v.SetDefault("store.rate_limit", cfg.Store.RateLimit)
	v.SetDefault("store.owner_field", cfg.Store.OwnerField)
	v.SetDefault("store.sqlite_path", cfg.Store.SQLitePath)
	v.SetDefault("store.dynamo_table", cfg.Store.DynamoTable)

	v.SetDefault("identity.session_file", cfg.Identity.SessionFile)
	v.SetDefault("identity.user_id", cfg.Identity.UserID)

	v.SetDefault("monitor.probe_collection", cfg.Monitor.ProbeCollection)
	v.SetDefault("monitor.update_buffer", cfg.Monitor.UpdateBuffer)
	v.SetDefault("monitor.connectivity_target", cfg.Monitor.ConnectivityTarget)
	v.SetDefault("monitor.probe_interval", cfg.Monitor.ProbeInterval)
	v.SetDefault("monitor.probe_timeout", cfg.Monitor.ProbeTimeout)

	v.SetDefault("export.max_concurrent", cfg.Export.MaxConcurrent)
	v.SetDefault("export.filename_prefix", cfg.Export.FilenamePrefix)
	v.SetDefault("export.sink", cfg.Export.Sink)
	v.SetDefault("export.output_dir", cfg.Export.OutputDir)
	v.SetDefault("export.s3_bucket", cfg.Export.S3Bucket)
	v.SetDefault("export.s3_prefix", cfg.Export.S3Prefix)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.color", cfg.Log.Color)
}

// SaveExample writes an example config file.
func SaveExample(path string) error {
	cfg := DefaultConfig()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
