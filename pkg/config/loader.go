package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ErrConfigurationMissing is returned by Load when a required setting is
// absent from the file and the environment.
var ErrConfigurationMissing = errors.New("missing input data")

const envPrefix = "AUTOSCALER"

// requiredKey is a setting with no default. legacyEnv is the variable name
// accepted from older function deployments.
type requiredKey struct {
	key       string
	legacyEnv string
	ociOnly   bool
}

var requiredKeys = []requiredKey{
	{key: "pool.eval_window_minutes", legacyEnv: "node_pool_eval_window"},
	{key: "oci.cluster_id", legacyEnv: "cluster_id", ociOnly: true},
	{key: "pool.node_pool_id", legacyEnv: "node_pool_id", ociOnly: true},
	{key: "oci.secret_id", legacyEnv: "secret_id", ociOnly: true},
	{key: "pool.min_size", legacyEnv: "node_pool_min_size"},
	{key: "pool.max_size", legacyEnv: "node_pool_max_size"},
	{key: "pool.cpu_threshold", legacyEnv: "node_pool_eval_cpu_load"},
	{key: "pool.ram_threshold", legacyEnv: "node_pool_eval_ram_load"},
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/oke-autoscaler")
	}

	// Environment variable settings
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, rk := range requiredKeys {
		if err := v.BindEnv(rk.key, envName(rk.key), rk.legacyEnv); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", rk.key, err)
		}
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	if missing := missingKeys(v); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(missing, ", "))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func missingKeys(v *viper.Viper) []string {
	simulated := v.GetString("app.provider") == ProviderSimulator

	var missing []string
	for _, rk := range requiredKeys {
		if rk.ociOnly && simulated {
			continue
		}
		if !v.IsSet(rk.key) {
			missing = append(missing, rk.key)
		}
	}
	return missing
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "oke-autoscaler")
	v.SetDefault("app.mode", "production")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.provider", ProviderOCI)
	v.SetDefault("app.shutdown_timeout", "30s")

	// Pool defaults
	v.SetDefault("pool.stabilization_margin_minutes", 3)

	// OCI defaults
	v.SetDefault("oci.auth_mode", AuthResourcePrincipal)
	v.SetDefault("oci.profile", "DEFAULT")
	v.SetDefault("oci.config_file", "")
	v.SetDefault("oci.region", "")

	// Kubernetes defaults
	v.SetDefault("kubernetes.kubeconfig", "")
	v.SetDefault("kubernetes.pool_label_key", "name")
	v.SetDefault("kubernetes.request_timeout", "30s")

	// Pipeline defaults
	v.SetDefault("pipeline.interval", "5m")
	v.SetDefault("pipeline.timeout", "4m")
	v.SetDefault("pipeline.dry_run", false)

	// Collector defaults
	v.SetDefault("collector.concurrency", 4)
	v.SetDefault("collector.timeout", "20s")
	v.SetDefault("collector.retry_attempts", 3)
	v.SetDefault("collector.retry_delay", "2s")
	v.SetDefault("collector.circuit_breaker.max_failures", 5)
	v.SetDefault("collector.circuit_breaker.timeout", "1m")

	// Drain defaults
	v.SetDefault("drain.grace_period", "10s")
	v.SetDefault("drain.timeout", "90s")
	v.SetDefault("drain.poll_interval", "2s")

	// Simulator defaults
	v.SetDefault("simulator.initial_size", 3)
	v.SetDefault("simulator.provision_time", "30s")
	v.SetDefault("simulator.base_cpu", 45.0)
	v.SetDefault("simulator.base_ram", 55.0)
	v.SetDefault("simulator.jitter", 5.0)
	v.SetDefault("simulator.pending_pods", 0)

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "5m")
	v.SetDefault("api.idle_timeout", "60s")
	v.SetDefault("api.rate_limit", 60)
	v.SetDefault("api.jwt_secret", "")
	v.SetDefault("api.jwt_issuer", "oke-autoscaler")
	v.SetDefault("api.default_limit", 20)
	v.SetDefault("api.max_limit", 200)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "autoscaler")
	v.SetDefault("database.user", "admin")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.migration_timeout", "1m")

	// WebSocket defaults
	v.SetDefault("websocket.max_connections", 100)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.max_message_size", 512)
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.broadcast_buffer", 256)
	v.SetDefault("websocket.client_buffer", 64)

	// Prometheus defaults
	v.SetDefault("prometheus.enabled", true)
	v.SetDefault("prometheus.path", "/metrics")

	// Events defaults
	v.SetDefault("events.buffer_size", 100)
}
