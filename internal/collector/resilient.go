package collector

import (
	"context"
	"time"

	"github.com/OldStager01/oke-autoscaler/internal/logger"
	"github.com/OldStager01/oke-autoscaler/internal/resilience"
)

// ResilientSource retries metric queries and stops calling the backend
// while its circuit is open.
type ResilientSource struct {
	source         MetricsSource
	circuitBreaker *resilience.CircuitBreaker
	retry          resilience.RetryConfig
}

type ResilientSourceConfig struct {
	Source        MetricsSource
	MaxFailures   int
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	OnStateChange func(name string, from, to resilience.State)
}

func NewResilientSource(cfg ResilientSourceConfig) *ResilientSource {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 1 * time.Second
	}

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          "metrics",
		MaxFailures:   cfg.MaxFailures,
		Timeout:       cfg.Timeout,
		OnStateChange: cfg.OnStateChange,
	})

	return &ResilientSource{
		source:         cfg.Source,
		circuitBreaker: cb,
		retry: resilience.RetryConfig{
			Attempts: cfg.RetryAttempts,
			Delay:    cfg.RetryDelay,
			MaxDelay: 8 * cfg.RetryDelay,
		},
	}
}

func (s *ResilientSource) MeanUtilization(ctx context.Context, q Query) (float64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}

	var value float64
	attempt := 0

	err := resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
		attempt++
		return s.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			value, err = s.source.MeanUtilization(ctx, q)
			if err != nil {
				logger.FromContext(ctx).WithField("resource_id", q.ResourceID).Warnf(
					"%s query attempt %d/%d failed: %v",
					q.Metric, attempt, s.retry.Attempts, err,
				)
			}
			return err
		})
	})
	if err != nil {
		return 0, err
	}

	return value, nil
}

func (s *ResilientSource) CircuitState() resilience.State {
	return s.circuitBreaker.State()
}

func (s *ResilientSource) ResetCircuit() {
	s.circuitBreaker.Reset()
}
