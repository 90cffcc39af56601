package config

import (
	"errors"
	"fmt"
)

func (c *Config) Validate() error {
	var errs []error

	// App validation
	if c.App.Name == "" {
		errs = append(errs, errors.New("app.name is required"))
	}

	validModes := map[string]bool{"development": true, "production": true, "test": true}
	if !validModes[c.App.Mode] {
		errs = append(errs, fmt.Errorf("app.mode must be one of: development, production, test"))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.App.LogLevel] {
		errs = append(errs, fmt.Errorf("app.log_level must be one of: debug, info, warn, error"))
	}

	validProviders := map[string]bool{ProviderOCI: true, ProviderSimulator: true}
	if !validProviders[c.App.Provider] {
		errs = append(errs, fmt.Errorf("app.provider must be one of: %s, %s", ProviderOCI, ProviderSimulator))
	}

	// Pool validation
	if c.Pool.EvalWindowMinutes <= 0 {
		errs = append(errs, errors.New("pool.eval_window_minutes must be positive"))
	}
	if c.Pool.StabilizationMarginMinutes < 0 {
		errs = append(errs, errors.New("pool.stabilization_margin_minutes must not be negative"))
	}
	if c.Pool.MinSize < 0 {
		errs = append(errs, errors.New("pool.min_size must not be negative"))
	}
	if c.Pool.MaxSize < c.Pool.MinSize {
		errs = append(errs, errors.New("pool.max_size must be >= min_size"))
	}
	if c.Pool.CPUThreshold < 0 || c.Pool.CPUThreshold > 100 {
		errs = append(errs, errors.New("pool.cpu_threshold must be between 0 and 100"))
	}
	if c.Pool.RAMThreshold < 0 || c.Pool.RAMThreshold > 100 {
		errs = append(errs, errors.New("pool.ram_threshold must be between 0 and 100"))
	}

	// OCI validation
	if c.App.Provider == ProviderOCI {
		validAuth := map[string]bool{AuthResourcePrincipal: true, AuthInstancePrincipal: true, AuthConfigFile: true}
		if !validAuth[c.OCI.AuthMode] {
			errs = append(errs, fmt.Errorf("oci.auth_mode must be one of: %s, %s, %s",
				AuthResourcePrincipal, AuthInstancePrincipal, AuthConfigFile))
		}
		if c.OCI.AuthMode == AuthConfigFile && c.OCI.ConfigFile == "" {
			errs = append(errs, errors.New("oci.config_file is required for config_file auth"))
		}
	}

	// Kubernetes validation
	if c.Kubernetes.PoolLabelKey == "" {
		errs = append(errs, errors.New("kubernetes.pool_label_key is required"))
	}

	// Pipeline validation
	if c.Pipeline.Interval <= 0 {
		errs = append(errs, errors.New("pipeline.interval must be positive"))
	}
	if c.Pipeline.Timeout <= 0 {
		errs = append(errs, errors.New("pipeline.timeout must be positive"))
	}
	if c.Pipeline.Timeout > c.Pipeline.Interval {
		errs = append(errs, errors.New("pipeline.timeout must not exceed pipeline.interval"))
	}

	// Collector validation
	if c.Collector.Concurrency <= 0 {
		errs = append(errs, errors.New("collector.concurrency must be positive"))
	}
	if c.Collector.RetryAttempts < 0 {
		errs = append(errs, errors.New("collector.retry_attempts must not be negative"))
	}

	// Drain validation
	if c.Drain.GracePeriod < 0 {
		errs = append(errs, errors.New("drain.grace_period must not be negative"))
	}
	if c.Drain.Timeout <= 0 {
		errs = append(errs, errors.New("drain.timeout must be positive"))
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			errs = append(errs, errors.New("api.port must be between 1 and 65535"))
		}
		if c.App.Mode == "production" && c.API.JWTSecret == "change-me-in-production" {
			errs = append(errs, errors.New("api.jwt_secret must be changed in production"))
		}
	}

	// Database validation
	if c.Database.Enabled {
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database.host is required"))
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, errors.New("database.port must be between 1 and 65535"))
		}
		if c.Database.Name == "" {
			errs = append(errs, errors.New("database.name is required"))
		}
		if c.Database.MaxConnections <= 0 {
			errs = append(errs, errors.New("database.max_connections must be positive"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}

	return nil
}
