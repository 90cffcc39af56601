package collector

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OldStager01/oke-autoscaler/internal/logger"
	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

// NodePoolReader is the read side of the control plane.
type NodePoolReader interface {
	GetNodePool(ctx context.Context, poolID string) (*models.NodePool, error)
	GetNodeCreationTime(ctx context.Context, nodeID string) (time.Time, error)
}

type AssemblerConfig struct {
	MinSize     int
	MaxSize     int
	Window      time.Duration
	Concurrency int
}

// Assembler builds the snapshot the decision engine evaluates.
type Assembler struct {
	pools   NodePoolReader
	metrics MetricsSource
	cfg     AssemblerConfig
}

func NewAssembler(pools NodePoolReader, metrics MetricsSource, cfg AssemblerConfig) *Assembler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Assembler{pools: pools, metrics: metrics, cfg: cfg}
}

// Assemble fetches the pool and, when it is settled, every live member's
// creation time and mean CPU and RAM utilization over the window ending at
// now. Any member failure fails the whole snapshot. The pool details are
// returned alongside for the resize call.
func (a *Assembler) Assemble(ctx context.Context, poolID string, now time.Time) (*models.NodePoolSnapshot, *models.NodePool, error) {
	pool, err := a.pools.GetNodePool(ctx, poolID)
	if err != nil {
		return nil, nil, err
	}

	live := pool.LiveNodes()
	snapshot := &models.NodePoolSnapshot{
		PoolID:          pool.ID,
		PoolName:        pool.Name,
		LifecycleStatus: pool.LifecycleStatus(),
		CurrentSize:     len(live),
		MinSize:         a.cfg.MinSize,
		MaxSize:         a.cfg.MaxSize,
		AssembledAt:     now,
	}

	log := logger.WithPoolCtx(ctx, pool.ID)
	if snapshot.IsUpdating() {
		log.Info("Node pool is updating, skipping member observation")
		return snapshot, pool, nil
	}

	members := make([]models.NodeObservation, len(live))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	for i, node := range live {
		i, node := i, node
		g.Go(func() error {
			obs, err := a.observe(gctx, pool.CompartmentID, node, now)
			if err != nil {
				return fmt.Errorf("node %s: %w", node.Name, err)
			}
			members[i] = obs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	snapshot.Members = members
	log.Debugf("Assembled snapshot with %d members", len(members))
	return snapshot, pool, nil
}

func (a *Assembler) observe(ctx context.Context, compartmentID string, node models.PoolNode, now time.Time) (models.NodeObservation, error) {
	created, err := a.pools.GetNodeCreationTime(ctx, node.ID)
	if err != nil {
		return models.NodeObservation{}, err
	}

	query := Query{
		CompartmentID: compartmentID,
		ResourceID:    node.ID,
		Window:        a.cfg.Window,
		End:           now,
	}

	query.Metric = MetricCPU
	cpu, err := a.metrics.MeanUtilization(ctx, query)
	if err != nil {
		return models.NodeObservation{}, err
	}

	query.Metric = MetricMemory
	ram, err := a.metrics.MeanUtilization(ctx, query)
	if err != nil {
		return models.NodeObservation{}, err
	}

	return models.NodeObservation{
		ID:             node.ID,
		Name:           node.Name,
		CreatedAt:      created,
		CPUUtilization: cpu,
		RAMUtilization: ram,
	}, nil
}
