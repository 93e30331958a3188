package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/finsync/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, config.DriverRemote, cfg.Store.Driver)
	assert.NotEmpty(t, cfg.Store.BaseURL)
	assert.Positive(t, cfg.Store.Timeout)
	assert.Equal(t, "userId", cfg.Store.OwnerField)
	assert.Equal(t, "transactions", cfg.Monitor.ProbeCollection)
	assert.Equal(t, "finance-export", cfg.Export.FilenamePrefix)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *config.Config) {},
			wantErr: "",
		},
		{
			name: "missing base URL",
			modify: func(c *config.Config) {
				c.Store.BaseURL = ""
			},
			wantErr: "store.base_url is required",
		},
		{
			name: "unknown driver",
			modify: func(c *config.Config) {
				c.Store.Driver = "mongo"
			},
			wantErr: "invalid store driver",
		},
		{
			name: "dynamodb without table",
			modify: func(c *config.Config) {
				c.Store.Driver = config.DriverDynamoDB
			},
			wantErr: "store.dynamo_table is required",
		},
		{
			name: "negative timeout",
			modify: func(c *config.Config) {
				c.Store.Timeout = -1
			},
			wantErr: "store.timeout must be positive",
		},
		{
			name: "s3 sink without bucket",
			modify: func(c *config.Config) {
				c.Export.Sink = config.SinkS3
			},
			wantErr: "export.s3_bucket is required",
		},
		{
			name: "zero export concurrency",
			modify: func(c *config.Config) {
				c.Export.MaxConcurrent = 0
			},
			wantErr: "export.max_concurrent must be positive",
		},
		{
			name: "invalid log level",
			modify: func(c *config.Config) {
				c.Log.Level = "invalid"
			},
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRealtimeEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		store config.StoreConfig
		want  string
	}{
		{"https base", config.StoreConfig{BaseURL: "https://api.example.com"}, "wss://api.example.com/v1/listen"},
		{"http base with port", config.StoreConfig{BaseURL: "http://127.0.0.1:8080"}, "ws://127.0.0.1:8080/v1/listen"},
		{"explicit", config.StoreConfig{BaseURL: "https://api.example.com", RealtimeURL: "wss://rt.example.com/ws"}, "wss://rt.example.com/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.store.RealtimeEndpoint())
		})
	}
}

func TestConnectivityAddr(t *testing.T) {
	m := config.MonitorConfig{}
	assert.Equal(t, "api.example.com:443", m.ConnectivityAddr(config.StoreConfig{BaseURL: "https://api.example.com"}))
	assert.Equal(t, "localhost:80", m.ConnectivityAddr(config.StoreConfig{BaseURL: "http://localhost"}))
	assert.Equal(t, "localhost:9000", m.ConnectivityAddr(config.StoreConfig{BaseURL: "http://localhost:9000"}))

	m.ConnectivityTarget = "1.1.1.1:53"
	assert.Equal(t, "1.1.1.1:53", m.ConnectivityAddr(config.StoreConfig{}))
}

func TestLoaderEnv(t *testing.T) {
	t.Setenv("FINSYNC_STORE_BASE_URL", "https://test.example.com")
	t.Setenv("FINSYNC_STORE_TIMEOUT", "45s")
	t.Setenv("FINSYNC_LOG_LEVEL", "DEBUG")
	t.Setenv("FINSYNC_EXPORT_MAX_CONCURRENT", "8")

	loader := config.NewLoader(filepath.Join(t.TempDir(), "missing-ok.json"))
	_, err := loader.Load()
	require.Error(t, err, "explicit config path must exist")

	loader = config.NewLoader("")
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "https://test.example.com", cfg.Store.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Export.MaxConcurrent)
}

func TestLoaderFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.json")

	configJSON := `{
		"store": {
			"driver": "sqlite",
			"sqlite_path": "/tmp/finsync-test.db",
			"owner_field": "ownerId"
		},
		"monitor": {
			"probe_interval": "10s"
		},
		"log": {
			"level": "warn",
			"format": "json"
		}
	}`

	err := os.WriteFile(configPath, []byte(configJSON), 0644)
	require.NoError(t, err)

	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, configPath, loader.ConfigFile())
	assert.Equal(t, config.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/finsync-test.db", cfg.Store.SQLitePath)
	assert.Equal(t, "ownerId", cfg.Store.OwnerField)
	assert.Equal(t, 10*time.Second, cfg.Monitor.ProbeInterval)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// Untouched keys keep their defaults
	assert.Equal(t, "finance-export", cfg.Export.FilenamePrefix)
}

func TestSaveExampleRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.json")
	require.NoError(t, config.SaveExample(path))

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Store.Timeout, cfg.Store.Timeout)
}

func TestApplyLambdaDefaults(t *testing.T) {
	t.Setenv("S3_BUCKET", "exports-bucket")
	t.Setenv("STORE_TOKEN_SECRET", "finsync/store-token")
	t.Setenv("EXPORT_RUNS_TABLE", "finsync-runs")

	cfg := config.DefaultConfig()
	lc := config.ApplyLambdaDefaults(cfg)

	assert.Equal(t, config.DriverDynamoDB, cfg.Store.Driver)
	assert.Equal(t, "finsync-documents", cfg.Store.DynamoTable)
	assert.Equal(t, config.SinkS3, cfg.Export.Sink)
	assert.Equal(t, "exports-bucket", cfg.Export.S3Bucket)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "finsync/store-token", lc.TokenSecretName)
	assert.Equal(t, "finsync-runs", lc.RunsTable)
	assert.NoError(t, cfg.Validate())
}

func TestConfigEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Store.Driver = config.DriverSQLite
	cfg.Store.SQLitePath = filepath.Join(tmpDir, "data", "store.db")
	cfg.Export.OutputDir = filepath.Join(tmpDir, "exports")
	cfg.Log.File = filepath.Join(tmpDir, "logs", "app.log")

	err := cfg.EnsureDirectories()
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(tmpDir, "data"))
	assert.DirExists(t, cfg.Export.OutputDir)
	assert.DirExists(t, filepath.Dir(cfg.Log.File))
}
