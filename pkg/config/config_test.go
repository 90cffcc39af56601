package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "test-app",
			Mode:     "development",
			LogLevel: "info",
			Provider: ProviderSimulator,
		},
		Pool: PoolConfig{
			NodePoolID:        "pool",
			EvalWindowMinutes: 5,
			MinSize:           1,
			MaxSize:           5,
			CPUThreshold:      40,
		},
		Kubernetes: KubernetesConfig{PoolLabelKey: "name"},
		Pipeline: PipelineConfig{
			Interval: time.Minute,
			Timeout:  30 * time.Second,
		},
		Collector: CollectorConfig{Concurrency: 2},
		Drain:     DrainConfig{GracePeriod: 10 * time.Second, Timeout: 90 * time.Second},
		API:       APIConfig{Enabled: true, Port: 8080},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectErr   bool
		errContains string
	}{
		{
			name:       "valid config",
			modifyFunc: func(c *Config) {},
		},
		{
			name:        "invalid provider",
			modifyFunc:  func(c *Config) { c.App.Provider = "aws" },
			expectErr:   true,
			errContains: "app.provider",
		},
		{
			name:        "zero eval window",
			modifyFunc:  func(c *Config) { c.Pool.EvalWindowMinutes = 0 },
			expectErr:   true,
			errContains: "pool.eval_window_minutes",
		},
		{
			name: "max below min",
			modifyFunc: func(c *Config) {
				c.Pool.MinSize = 4
				c.Pool.MaxSize = 2
			},
			expectErr:   true,
			errContains: "pool.max_size",
		},
		{
			name:        "cpu threshold above 100",
			modifyFunc:  func(c *Config) { c.Pool.CPUThreshold = 120 },
			expectErr:   true,
			errContains: "pool.cpu_threshold",
		},
		{
			name:        "negative ram threshold",
			modifyFunc:  func(c *Config) { c.Pool.RAMThreshold = -1 },
			expectErr:   true,
			errContains: "pool.ram_threshold",
		},
		{
			name:        "pipeline timeout exceeds interval",
			modifyFunc:  func(c *Config) { c.Pipeline.Timeout = 2 * time.Minute },
			expectErr:   true,
			errContains: "pipeline.timeout",
		},
		{
			name: "config file auth without path",
			modifyFunc: func(c *Config) {
				c.App.Provider = ProviderOCI
				c.OCI.AuthMode = AuthConfigFile
			},
			expectErr:   true,
			errContains: "oci.config_file",
		},
		{
			name: "default jwt secret in production",
			modifyFunc: func(c *Config) {
				c.App.Mode = "production"
				c.API.JWTSecret = "change-me-in-production"
			},
			expectErr:   true,
			errContains: "api.jwt_secret",
		},
		{
			name: "database enabled without name",
			modifyFunc: func(c *Config) {
				c.Database = DatabaseConfig{Enabled: true, Host: "db", Port: 5432, MaxConnections: 5}
			},
			expectErr:   true,
			errContains: "database.name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modifyFunc(cfg)

			err := cfg.Validate()
			if tt.expectErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
app:
  provider: oci
pool:
  node_pool_id: ocid1.nodepool.oc1..pool
  eval_window_minutes: 5
  min_size: 1
  max_size: 4
  cpu_threshold: 40
  ram_threshold: 0
oci:
  cluster_id: ocid1.cluster.oc1..cluster
  secret_id: ocid1.vaultsecret.oc1..secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ocid1.nodepool.oc1..pool", cfg.Pool.NodePoolID)
	assert.Equal(t, 5*time.Minute, cfg.Pool.EvalWindow())
	assert.Equal(t, 3, cfg.Pool.StabilizationMarginMinutes)
	assert.Equal(t, 0, cfg.Pool.RAMThreshold)
	assert.Equal(t, 10*time.Second, cfg.Drain.GracePeriod)
	assert.Equal(t, 90*time.Second, cfg.Drain.Timeout)
	assert.Equal(t, "name", cfg.Kubernetes.PoolLabelKey)
	assert.Equal(t, AuthResourcePrincipal, cfg.OCI.AuthMode)
}

func TestLoad_MissingRequired(t *testing.T) {
	path := writeConfig(t, `
pool:
  eval_window_minutes: 5
  min_size: 1
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigurationMissing))
	assert.Contains(t, err.Error(), "oci.cluster_id")
	assert.Contains(t, err.Error(), "pool.max_size")
	assert.NotContains(t, err.Error(), "pool.min_size")
}

func TestLoad_SimulatorRelaxesOCIKeys(t *testing.T) {
	path := writeConfig(t, `
app:
  provider: simulator
pool:
  eval_window_minutes: 5
  min_size: 1
  max_size: 4
  cpu_threshold: 40
  ram_threshold: 20
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderSimulator, cfg.App.Provider)
	assert.Equal(t, 20, cfg.Pool.RAMThreshold)
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	path := writeConfig(t, "app:\n  name: legacy\n")

	t.Setenv("node_pool_eval_window", "10")
	t.Setenv("cluster_id", "ocid1.cluster.oc1..legacy")
	t.Setenv("node_pool_id", "ocid1.nodepool.oc1..legacy")
	t.Setenv("secret_id", "ocid1.vaultsecret.oc1..legacy")
	t.Setenv("node_pool_min_size", "2")
	t.Setenv("node_pool_max_size", "6")
	t.Setenv("node_pool_eval_cpu_load", "35")
	t.Setenv("node_pool_eval_ram_load", "0")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Pool.EvalWindowMinutes)
	assert.Equal(t, "ocid1.cluster.oc1..legacy", cfg.OCI.ClusterID)
	assert.Equal(t, "ocid1.nodepool.oc1..legacy", cfg.Pool.NodePoolID)
	assert.Equal(t, 2, cfg.Pool.MinSize)
	assert.Equal(t, 6, cfg.Pool.MaxSize)
	assert.Equal(t, 35, cfg.Pool.CPUThreshold)
}

func TestLoad_PrefixedEnvironmentWins(t *testing.T) {
	path := writeConfig(t, `
app:
  provider: simulator
pool:
  eval_window_minutes: 5
  min_size: 1
  max_size: 4
  cpu_threshold: 40
  ram_threshold: 0
`)

	t.Setenv("AUTOSCALER_POOL_MAX_SIZE", "9")
	t.Setenv("node_pool_max_size", "7")
	t.Setenv("AUTOSCALER_PIPELINE_DRY_RUN", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Pool.MaxSize)
	assert.True(t, cfg.Pipeline.DryRun)
}
