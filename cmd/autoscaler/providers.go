package main

import (
	"context"
	"fmt"

	"github.com/OldStager01/oke-autoscaler/internal/collector"
	"github.com/OldStager01/oke-autoscaler/internal/controlplane"
	"github.com/OldStager01/oke-autoscaler/internal/kube"
	"github.com/OldStager01/oke-autoscaler/internal/logger"
	"github.com/OldStager01/oke-autoscaler/internal/metrics"
	"github.com/OldStager01/oke-autoscaler/internal/orchestrator"
	"github.com/OldStager01/oke-autoscaler/internal/resilience"
	"github.com/OldStager01/oke-autoscaler/internal/secrets"
	"github.com/OldStager01/oke-autoscaler/pkg/config"
)

// buildPoolDeps wires the collaborators for the configured provider and
// returns the id of the pool they serve.
func buildPoolDeps(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (string, orchestrator.PoolDeps, error) {
	switch cfg.App.Provider {
	case config.ProviderSimulator:
		poolID, deps := simulatorDeps(cfg, m)
		return poolID, deps, nil
	case config.ProviderOCI:
		deps, err := ociDeps(ctx, cfg, m)
		return cfg.Pool.NodePoolID, deps, err
	default:
		return "", orchestrator.PoolDeps{}, fmt.Errorf("unsupported provider %q", cfg.App.Provider)
	}
}

func resilientSource(cfg config.CollectorConfig, source collector.MetricsSource, m *metrics.Metrics) *collector.ResilientSource {
	return collector.NewResilientSource(collector.ResilientSourceConfig{
		Source:        source,
		MaxFailures:   cfg.CircuitBreaker.MaxFailures,
		Timeout:       cfg.CircuitBreaker.Timeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warnf("Circuit breaker %s: %s -> %s", name, from, to)
			m.SetCircuitBreakerState(name, int(to))
		},
	})
}

func assemblerConfig(cfg *config.Config) collector.AssemblerConfig {
	return collector.AssemblerConfig{
		MinSize:     cfg.Pool.MinSize,
		MaxSize:     cfg.Pool.MaxSize,
		Window:      cfg.Pool.EvalWindow(),
		Concurrency: cfg.Collector.Concurrency,
	}
}

func simulatorDeps(cfg *config.Config, m *metrics.Metrics) (string, orchestrator.PoolDeps) {
	sim := controlplane.NewSimulator(controlplane.SimulatorConfig{
		PoolID:        cfg.Pool.NodePoolID,
		InitialSize:   cfg.Simulator.InitialSize,
		ProvisionTime: cfg.Simulator.ProvisionTime,
		PendingPods:   cfg.Simulator.PendingPods,
	})
	source := collector.NewMockSource(collector.MockSourceConfig{
		BaseCPU: cfg.Simulator.BaseCPU,
		BaseRAM: cfg.Simulator.BaseRAM,
		Jitter:  cfg.Simulator.Jitter,
	})

	return sim.PoolID(), orchestrator.PoolDeps{
		Assembler: collector.NewAssembler(sim, resilientSource(cfg.Collector, source, m), assemblerConfig(cfg)),
		Demand:    sim,
		Drainer:   sim,
		Resizer:   sim,
	}
}

func ociDeps(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (orchestrator.PoolDeps, error) {
	provider, err := controlplane.NewConfigurationProvider(cfg.OCI)
	if err != nil {
		return orchestrator.PoolDeps{}, fmt.Errorf("failed to build oci credentials: %w", err)
	}

	containers, err := controlplane.NewOCIClient(provider, controlplane.OCIConfig{
		Region:       cfg.OCI.Region,
		PoolLabelKey: cfg.Kubernetes.PoolLabelKey,
	})
	if err != nil {
		return orchestrator.PoolDeps{}, err
	}

	monitoring, err := collector.NewOCIMonitoringSource(provider, cfg.OCI.Region)
	if err != nil {
		return orchestrator.PoolDeps{}, err
	}

	tokens, err := secrets.NewVaultTokenProvider(provider, cfg.OCI.Region, cfg.OCI.SecretID)
	if err != nil {
		return orchestrator.PoolDeps{}, err
	}

	loader := kube.FileKubeconfig(cfg.Kubernetes.Kubeconfig)
	if cfg.Kubernetes.Kubeconfig == "" {
		clusterID := cfg.OCI.ClusterID
		loader = func(ctx context.Context) ([]byte, error) {
			return containers.GetKubeconfig(ctx, clusterID)
		}
	}
	kubeSource := kube.NewTokenClientSource(loader, tokens, cfg.Kubernetes.RequestTimeout)

	logger.WithPoolCtx(ctx, cfg.Pool.NodePoolID).Infof("Managing node pool of cluster %s", cfg.OCI.ClusterID)

	return orchestrator.PoolDeps{
		Assembler: collector.NewAssembler(containers, resilientSource(cfg.Collector, monitoring, m), assemblerConfig(cfg)),
		Demand:    kube.NewPodDemandCounter(kubeSource, cfg.Kubernetes.PoolLabelKey),
		Drainer: kube.NewNodeDrainer(kubeSource, kube.DrainConfig{
			GracePeriod:  cfg.Drain.GracePeriod,
			Timeout:      cfg.Drain.Timeout,
			PollInterval: cfg.Drain.PollInterval,
		}),
		Resizer: containers,
	}, nil
}
