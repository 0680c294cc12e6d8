package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, []string{"*"}, cfg.Server.CORSAllowedOrigins)
	require.Equal(t, WorkerModeProcess, cfg.Worker.Mode)
	require.Equal(t, "python3", cfg.Worker.Command)
	require.Equal(t, []string{"seo_analyzer.py"}, cfg.Worker.Args)
	require.Equal(t, 5, cfg.Worker.MaxPagesDefault)
	require.Equal(t, 250*time.Millisecond, cfg.HubBatchWait())
	require.Equal(t, 30*time.Second, cfg.ShutdownGrace())
	require.Empty(t, cfg.DB.DSN)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  cors_allowed_origins: ["https://app.example.com"]
  rate_limit_rps: 0.5
  rate_limit_burst: 2
auth:
  enabled: true
  api_key: secret
worker:
  mode: remote
  remote_url: http://analyzer:8001/analyze
  max_pages_default: 12
hub:
  buffer_size: 64
  max_batch_events: 8
  max_batch_wait_ms: 50
db:
  dsn: postgres://localhost/siteaudit
pubsub:
  project_id: proj
  topic_name: analysis-runs
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSAllowedOrigins)
	require.InDelta(t, 0.5, cfg.Server.RateLimitRPS, 1e-9)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, WorkerModeRemote, cfg.Worker.Mode)
	require.Equal(t, "http://analyzer:8001/analyze", cfg.Worker.RemoteURL)
	require.Equal(t, 12, cfg.Worker.MaxPagesDefault)
	require.Equal(t, 8, cfg.Hub.MaxBatchEvents)
	require.Equal(t, 50*time.Millisecond, cfg.HubBatchWait())
	require.Equal(t, "postgres://localhost/siteaudit", cfg.DB.DSN)
	require.Equal(t, "analysis-runs", cfg.PubSub.TopicName)
	require.False(t, cfg.Logging.Development)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SITEAUDIT_SERVER_PORT", "9191")
	t.Setenv("SITEAUDIT_WORKER_COMMAND", "/usr/local/bin/analyzer")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)
	require.Equal(t, "/usr/local/bin/analyzer", cfg.Worker.Command)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8000},
		Worker: WorkerConfig{Mode: WorkerModeProcess, Command: "python3"},
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "negative rate", mutate: func(c *Config) { c.Server.RateLimitRPS = -1 }, want: "server.rate_limit_rps"},
		{name: "rate without burst", mutate: func(c *Config) { c.Server.RateLimitRPS = 2 }, want: "server.rate_limit_burst"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "unknown mode", mutate: func(c *Config) { c.Worker.Mode = "grpc" }, want: "worker.mode"},
		{name: "process without command", mutate: func(c *Config) { c.Worker.Command = "" }, want: "worker.command"},
		{name: "remote without url", mutate: func(c *Config) { c.Worker.Mode = WorkerModeRemote }, want: "worker.remote_url"},
		{name: "negative max pages", mutate: func(c *Config) { c.Worker.MaxPagesDefault = -1 }, want: "worker.max_pages_default"},
		{name: "half pubsub", mutate: func(c *Config) { c.PubSub.ProjectID = "proj" }, want: "pubsub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
	require.NoError(t, base.Validate())
}
