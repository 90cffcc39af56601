package config

import (
	"fmt"
	"time"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Pool       PoolConfig       `mapstructure:"pool"`
	OCI        OCIConfig        `mapstructure:"oci"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Collector  CollectorConfig  `mapstructure:"collector"`
	Drain      DrainConfig      `mapstructure:"drain"`
	Simulator  SimulatorConfig  `mapstructure:"simulator"`
	API        APIConfig        `mapstructure:"api"`
	Database   DatabaseConfig   `mapstructure:"database"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Events     EventsConfig     `mapstructure:"events"`
}

const (
	ProviderOCI       = "oci"
	ProviderSimulator = "simulator"
)

type AppConfig struct {
	Name            string        `mapstructure:"name"`
	Mode            string        `mapstructure:"mode"`
	LogLevel        string        `mapstructure:"log_level"`
	Provider        string        `mapstructure:"provider"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PoolConfig describes the node pool under management and its scaling
// thresholds. Thresholds are integer percentages; 0 disables a dimension.
type PoolConfig struct {
	NodePoolID                 string `mapstructure:"node_pool_id"`
	EvalWindowMinutes          int    `mapstructure:"eval_window_minutes"`
	StabilizationMarginMinutes int    `mapstructure:"stabilization_margin_minutes"`
	MinSize                    int    `mapstructure:"min_size"`
	MaxSize                    int    `mapstructure:"max_size"`
	CPUThreshold               int    `mapstructure:"cpu_threshold"`
	RAMThreshold               int    `mapstructure:"ram_threshold"`
}

func (p PoolConfig) EvalWindow() time.Duration {
	return time.Duration(p.EvalWindowMinutes) * time.Minute
}

const (
	AuthResourcePrincipal = "resource_principal"
	AuthInstancePrincipal = "instance_principal"
	AuthConfigFile        = "config_file"
)

type OCIConfig struct {
	AuthMode   string `mapstructure:"auth_mode"`
	ConfigFile string `mapstructure:"config_file"`
	Profile    string `mapstructure:"profile"`
	Region     string `mapstructure:"region"`
	ClusterID  string `mapstructure:"cluster_id"`
	SecretID   string `mapstructure:"secret_id"`
}

type KubernetesConfig struct {
	// Kubeconfig is an optional path; when empty the kubeconfig is fetched
	// from the control plane for the configured cluster.
	Kubeconfig     string        `mapstructure:"kubeconfig"`
	PoolLabelKey   string        `mapstructure:"pool_label_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type PipelineConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	DryRun   bool          `mapstructure:"dry_run"`
}

type CollectorConfig struct {
	Concurrency    int                  `mapstructure:"concurrency"`
	Timeout        time.Duration        `mapstructure:"timeout"`
	RetryAttempts  int                  `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration        `mapstructure:"retry_delay"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type DrainConfig struct {
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type SimulatorConfig struct {
	InitialSize   int           `mapstructure:"initial_size"`
	ProvisionTime time.Duration `mapstructure:"provision_time"`
	BaseCPU       float64       `mapstructure:"base_cpu"`
	BaseRAM       float64       `mapstructure:"base_ram"`
	Jitter        float64       `mapstructure:"jitter"`
	PendingPods   int           `mapstructure:"pending_pods"`
}

type APIConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RateLimit    int           `mapstructure:"rate_limit"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	JWTIssuer    string        `mapstructure:"jwt_issuer"`
	DefaultLimit int           `mapstructure:"default_limit"`
	MaxLimit     int           `mapstructure:"max_limit"`
}

type DatabaseConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Name             string        `mapstructure:"name"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	MaxConnections   int           `mapstructure:"max_connections"`
	SSLMode          string        `mapstructure:"ssl_mode"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime  time.Duration `mapstructure:"conn_max_idle_time"`
	PingTimeout      time.Duration `mapstructure:"ping_timeout"`
	MigrationTimeout time.Duration `mapstructure:"migration_timeout"`
}

func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, sslMode,
	)
}

type WebSocketConfig struct {
	MaxConnections  int           `mapstructure:"max_connections"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	BroadcastBuffer int           `mapstructure:"broadcast_buffer"`
	ClientBuffer    int           `mapstructure:"client_buffer"`
}

type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}
