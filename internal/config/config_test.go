package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foldworks/designd/internal/design"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
jobs:
  data_dir: /var/lib/designd/jobs
  max_running: 4
  grace_period_seconds: 30
  log_tail_default: 100
store:
  driver: memory
logging:
  development: false
tools:
  binder:
    command: ["/opt/tools/binder.sh"]
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, "/var/lib/designd/jobs", cfg.Jobs.DataDir)
	require.Equal(t, 4, cfg.Jobs.MaxRunning)
	require.Equal(t, 100, cfg.Jobs.LogTailDefault)
	require.Equal(t, "memory", cfg.Store.Driver)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, 30*time.Second, cfg.GracePeriod())

	binder, err := cfg.ToolFor(design.KindBinder)
	require.NoError(t, err)
	require.Equal(t, "/opt/tools/binder.sh", binder.Program)
	require.Empty(t, binder.Args)

	// Kinds not overridden keep their defaults.
	pred, err := cfg.ToolFor(design.KindPrediction)
	require.NoError(t, err)
	require.Equal(t, "python3", pred.Program)
	require.Equal(t, []string{"scripts/chai1_structure_prediction.py"}, pred.Args)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 2, cfg.Jobs.MaxRunning)
	require.Equal(t, "fs", cfg.Store.Driver)
	require.Equal(t, 50, cfg.Jobs.LogTailDefault)
	require.Equal(t, 10*time.Second, cfg.GracePeriod())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "zero max running",
			mutate:  func(c *Config) { c.Jobs.MaxRunning = 0 },
			wantErr: "jobs.max_running",
		},
		{
			name:    "auth without key",
			mutate:  func(c *Config) { c.Auth.Enabled = true },
			wantErr: "auth.api_key",
		},
		{
			name:    "unknown store driver",
			mutate:  func(c *Config) { c.Store.Driver = "sqlite" },
			wantErr: "store.driver",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Store.Driver = "postgres" },
			wantErr: "store.dsn",
		},
		{
			name:    "missing tool command",
			mutate:  func(c *Config) { delete(c.Tools, "binder") },
			wantErr: "tools.binder.command",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Tools = make(map[string]ToolConfig, len(base.Tools))
			for k, v := range base.Tools {
				cfg.Tools[k] = v
			}
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
