package controlplane

import (
	"context"
	"errors"
	"time"

	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

var (
	ErrResizeFailed  = errors.New("node pool resize failed")
	ErrInvalidTarget = errors.New("invalid target node pool size")
	ErrPoolNotFound  = errors.New("node pool not found")
	ErrNodeNotFound  = errors.New("node not found")
	ErrNoKubeconfig  = errors.New("kubeconfig unavailable")
)

// ResizeResult describes a finished resize request.
type ResizeResult struct {
	PoolID        string
	WorkRequestID string
	PreviousSize  int
	TargetSize    int
	Status        string
	Errors        []string
}

// Client is the control plane surface used by the tick pipeline.
type Client interface {
	// GetNodePool returns pool details including per-node lifecycle state.
	GetNodePool(ctx context.Context, poolID string) (*models.NodePool, error)

	// GetNodeCreationTime returns when the compute instance backing a node
	// was created.
	GetNodeCreationTime(ctx context.Context, nodeID string) (time.Time, error)

	// ResizeNodePool sets the pool size and blocks until the resulting work
	// request reaches a terminal state. A failed work request is returned as
	// ErrResizeFailed.
	ResizeNodePool(ctx context.Context, pool *models.NodePool, size int) (*ResizeResult, error)

	// GetKubeconfig returns a kubeconfig document for the cluster.
	GetKubeconfig(ctx context.Context, clusterID string) ([]byte, error)
}
