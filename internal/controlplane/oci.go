package controlplane

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/common/auth"
	"github.com/oracle/oci-go-sdk/v65/containerengine"
	"github.com/oracle/oci-go-sdk/v65/core"

	"github.com/OldStager01/oke-autoscaler/internal/logger"
	"github.com/OldStager01/oke-autoscaler/pkg/config"
	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

// NewConfigurationProvider builds the OCI credential provider for the
// configured auth mode.
func NewConfigurationProvider(cfg config.OCIConfig) (common.ConfigurationProvider, error) {
	switch cfg.AuthMode {
	case config.AuthResourcePrincipal:
		return auth.ResourcePrincipalConfigurationProvider()
	case config.AuthInstancePrincipal:
		return auth.InstancePrincipalConfigurationProvider()
	case config.AuthConfigFile:
		return common.CustomProfileConfigProvider(cfg.ConfigFile, cfg.Profile), nil
	default:
		return nil, fmt.Errorf("unsupported oci auth mode %q", cfg.AuthMode)
	}
}

type OCIConfig struct {
	Region       string
	PoolLabelKey string
	PollInterval time.Duration
}

type OCIClient struct {
	containers   containerengine.ContainerEngineClient
	compute      core.ComputeClient
	poolLabelKey string
	pollInterval time.Duration
}

func NewOCIClient(provider common.ConfigurationProvider, cfg OCIConfig) (*OCIClient, error) {
	containers, err := containerengine.NewContainerEngineClientWithConfigurationProvider(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create container engine client: %w", err)
	}
	compute, err := core.NewComputeClientWithConfigurationProvider(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute client: %w", err)
	}
	if cfg.Region != "" {
		containers.SetRegion(cfg.Region)
		compute.SetRegion(cfg.Region)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}

	return &OCIClient{
		containers:   containers,
		compute:      compute,
		poolLabelKey: cfg.PoolLabelKey,
		pollInterval: cfg.PollInterval,
	}, nil
}

func (c *OCIClient) GetNodePool(ctx context.Context, poolID string) (*models.NodePool, error) {
	resp, err := c.containers.GetNodePool(ctx, containerengine.GetNodePoolRequest{
		NodePoolId: common.String(poolID),
	})
	if err != nil {
		if failure, ok := common.IsServiceError(err); ok && failure.GetHTTPStatusCode() == 404 {
			return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
		}
		return nil, fmt.Errorf("failed to get node pool %s: %w", poolID, err)
	}

	return convertNodePool(resp.NodePool, c.poolLabelKey), nil
}

func convertNodePool(np containerengine.NodePool, labelKey string) *models.NodePool {
	pool := &models.NodePool{
		ID:            deref(np.Id),
		Name:          poolName(np, labelKey),
		CompartmentID: deref(np.CompartmentId),
	}

	if details := np.NodeConfigDetails; details != nil {
		if details.Size != nil {
			pool.Size = *details.Size
		}
		for _, pc := range details.PlacementConfigs {
			pool.Placement = append(pool.Placement, models.PlacementConfig{
				AvailabilityDomain: deref(pc.AvailabilityDomain),
				SubnetID:           deref(pc.SubnetId),
			})
		}
	}

	for _, n := range np.Nodes {
		// Kubernetes registers OKE workers under their private IP.
		name := deref(n.PrivateIp)
		if name == "" {
			name = deref(n.Name)
		}
		pool.Nodes = append(pool.Nodes, models.PoolNode{
			ID:             deref(n.Id),
			Name:           name,
			LifecycleState: models.NodeLifecycleState(n.LifecycleState),
		})
	}

	return pool
}

// poolName is the value pods select the pool by: the initial node label
// with the configured key, then the first initial label, then the pool name.
func poolName(np containerengine.NodePool, labelKey string) string {
	for _, label := range np.InitialNodeLabels {
		if deref(label.Key) == labelKey {
			return deref(label.Value)
		}
	}
	if len(np.InitialNodeLabels) > 0 {
		return deref(np.InitialNodeLabels[0].Value)
	}
	return deref(np.Name)
}

func (c *OCIClient) GetNodeCreationTime(ctx context.Context, nodeID string) (time.Time, error) {
	resp, err := c.compute.GetInstance(ctx, core.GetInstanceRequest{
		InstanceId: common.String(nodeID),
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get instance %s: %w", nodeID, err)
	}
	if resp.Instance.TimeCreated == nil {
		return time.Time{}, fmt.Errorf("%w: instance %s has no creation time", ErrNodeNotFound, nodeID)
	}
	return resp.Instance.TimeCreated.Time, nil
}

func (c *OCIClient) ResizeNodePool(ctx context.Context, pool *models.NodePool, size int) (*ResizeResult, error) {
	if size < 0 {
		return nil, ErrInvalidTarget
	}

	placements := make([]containerengine.NodePoolPlacementConfigDetails, 0, len(pool.Placement))
	for _, p := range pool.Placement {
		placements = append(placements, containerengine.NodePoolPlacementConfigDetails{
			AvailabilityDomain: common.String(p.AvailabilityDomain),
			SubnetId:           common.String(p.SubnetID),
		})
	}

	log := logger.WithPoolCtx(ctx, pool.ID)
	log.Infof("Resizing node pool: %d -> %d nodes", pool.Size, size)

	resp, err := c.containers.UpdateNodePool(ctx, containerengine.UpdateNodePoolRequest{
		NodePoolId: common.String(pool.ID),
		UpdateNodePoolDetails: containerengine.UpdateNodePoolDetails{
			NodeConfigDetails: &containerengine.UpdateNodePoolNodeConfigDetails{
				Size:             common.Int(size),
				PlacementConfigs: placements,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResizeFailed, err)
	}

	result := &ResizeResult{
		PoolID:        pool.ID,
		WorkRequestID: deref(resp.OpcWorkRequestId),
		PreviousSize:  pool.Size,
		TargetSize:    size,
	}

	status, err := c.waitForWorkRequest(ctx, result.WorkRequestID)
	result.Status = string(status)
	if err != nil {
		return result, err
	}

	switch status {
	case containerengine.WorkRequestStatusSucceeded:
		log.Infof("Node pool resize succeeded (work request %s)", result.WorkRequestID)
		return result, nil
	default:
		result.Errors = c.workRequestErrors(ctx, pool.CompartmentID, result.WorkRequestID)
		return result, fmt.Errorf("%w: work request %s ended %s", ErrResizeFailed, result.WorkRequestID, status)
	}
}

func (c *OCIClient) waitForWorkRequest(ctx context.Context, id string) (containerengine.WorkRequestStatusEnum, error) {
	if id == "" {
		return containerengine.WorkRequestStatusSucceeded, nil
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		resp, err := c.containers.GetWorkRequest(ctx, containerengine.GetWorkRequestRequest{
			WorkRequestId: common.String(id),
		})
		if err != nil {
			return "", fmt.Errorf("failed to get work request %s: %w", id, err)
		}

		switch resp.WorkRequest.Status {
		case containerengine.WorkRequestStatusSucceeded,
			containerengine.WorkRequestStatusFailed,
			containerengine.WorkRequestStatusCanceled:
			return resp.WorkRequest.Status, nil
		}

		select {
		case <-ctx.Done():
			return resp.WorkRequest.Status, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *OCIClient) workRequestErrors(ctx context.Context, compartmentID, id string) []string {
	resp, err := c.containers.ListWorkRequestErrors(ctx, containerengine.ListWorkRequestErrorsRequest{
		CompartmentId: common.String(compartmentID),
		WorkRequestId: common.String(id),
	})
	if err != nil {
		logger.WithField("work_request_id", id).Warnf("Failed to list work request errors: %v", err)
		return nil
	}

	var messages []string
	for _, e := range resp.Items {
		messages = append(messages, fmt.Sprintf("%s: %s", deref(e.Code), deref(e.Message)))
	}
	logger.WithField("work_request_id", id).Errorf("Work request errors: %v", messages)
	return messages
}

func (c *OCIClient) GetKubeconfig(ctx context.Context, clusterID string) ([]byte, error) {
	resp, err := c.containers.CreateKubeconfig(ctx, containerengine.CreateKubeconfigRequest{
		ClusterId: common.String(clusterID),
		CreateClusterKubeconfigContentDetails: containerengine.CreateClusterKubeconfigContentDetails{
			TokenVersion: common.String("2.0.0"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubeconfig for %s: %w", clusterID, err)
	}
	defer resp.Content.Close()

	content, err := io.ReadAll(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to read kubeconfig: %w", err)
	}
	if len(content) == 0 {
		return nil, ErrNoKubeconfig
	}
	return content, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
