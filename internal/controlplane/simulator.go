package controlplane

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/OldStager01/oke-autoscaler/internal/logger"
	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

// Simulator is an in-memory node pool. Node lifecycle transitions happen
// lazily against its clock: CREATING nodes turn ACTIVE and DELETING nodes
// turn DELETED once ProvisionTime has passed.
type Simulator struct {
	poolID        string
	poolName      string
	compartmentID string
	provisionTime time.Duration
	now           func() time.Time

	mu            sync.Mutex
	nodes         []*simNode
	seq           int
	pendingPods   int
	failNextWith  error
	resizeHistory []ResizeResult
}

type simNode struct {
	id        string
	name      string
	createdAt time.Time
	changedAt time.Time
	state     models.NodeLifecycleState
	cordoned  bool
}

type SimulatorConfig struct {
	PoolID        string
	PoolName      string
	CompartmentID string
	InitialSize   int
	// InitialAge is how long ago the initial nodes were created.
	InitialAge    time.Duration
	ProvisionTime time.Duration
	PendingPods   int
	Now           func() time.Time
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.PoolID == "" {
		cfg.PoolID = "ocid1.nodepool.oc1..simulated"
	}
	if cfg.PoolName == "" {
		cfg.PoolName = "simulated-pool"
	}
	if cfg.CompartmentID == "" {
		cfg.CompartmentID = "ocid1.compartment.oc1..simulated"
	}
	if cfg.ProvisionTime <= 0 {
		cfg.ProvisionTime = 30 * time.Second
	}
	if cfg.InitialAge <= 0 {
		cfg.InitialAge = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Simulator{
		poolID:        cfg.PoolID,
		poolName:      cfg.PoolName,
		compartmentID: cfg.CompartmentID,
		provisionTime: cfg.ProvisionTime,
		now:           cfg.Now,
		pendingPods:   cfg.PendingPods,
	}

	created := s.now().Add(-cfg.InitialAge)
	for i := 0; i < cfg.InitialSize; i++ {
		n := s.newNode(created)
		n.state = models.NodeStateActive
		s.nodes = append(s.nodes, n)
	}

	logger.WithPool(s.poolID).Infof("Initialized simulated node pool with %d active nodes", cfg.InitialSize)
	return s
}

func (s *Simulator) newNode(createdAt time.Time) *simNode {
	s.seq++
	return &simNode{
		id:        fmt.Sprintf("ocid1.instance.oc1..sim%04d", s.seq),
		name:      fmt.Sprintf("10.0.10.%d", s.seq),
		createdAt: createdAt,
		changedAt: createdAt,
		state:     models.NodeStateCreating,
	}
}

func (s *Simulator) PoolID() string {
	return s.poolID
}

// advance applies pending lifecycle transitions. Callers hold s.mu.
func (s *Simulator) advance() {
	now := s.now()
	for _, n := range s.nodes {
		if now.Sub(n.changedAt) < s.provisionTime {
			continue
		}
		switch n.state {
		case models.NodeStateCreating:
			n.state = models.NodeStateActive
			n.changedAt = now
			logger.WithPool(s.poolID).Infof("Node %s is now ACTIVE", n.name)
		case models.NodeStateDeleting:
			n.state = models.NodeStateDeleted
			n.changedAt = now
			logger.WithPool(s.poolID).Infof("Node %s is now DELETED", n.name)
		}
	}
}

func (s *Simulator) GetNodePool(ctx context.Context, poolID string) (*models.NodePool, error) {
	if poolID != s.poolID {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()

	pool := &models.NodePool{
		ID:            s.poolID,
		Name:          s.poolName,
		CompartmentID: s.compartmentID,
		Placement: []models.PlacementConfig{
			{AvailabilityDomain: "SIM:AD-1", SubnetID: "ocid1.subnet.oc1..simulated"},
		},
	}
	for _, n := range s.nodes {
		pool.Nodes = append(pool.Nodes, models.PoolNode{
			ID:             n.id,
			Name:           n.name,
			LifecycleState: n.state,
		})
		if n.state != models.NodeStateDeleted && n.state != models.NodeStateDeleting {
			pool.Size++
		}
	}
	return pool, nil
}

func (s *Simulator) GetNodeCreationTime(ctx context.Context, nodeID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.nodes {
		if n.id == nodeID {
			return n.createdAt, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
}

func (s *Simulator) ResizeNodePool(ctx context.Context, pool *models.NodePool, size int) (*ResizeResult, error) {
	if size < 0 {
		return nil, ErrInvalidTarget
	}
	if pool.ID != s.poolID {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, pool.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	result := ResizeResult{
		PoolID:        s.poolID,
		WorkRequestID: fmt.Sprintf("ocid1.clustersworkrequest.oc1..sim%04d", s.seq),
		PreviousSize:  s.liveCountLocked(),
		TargetSize:    size,
	}

	if s.failNextWith != nil {
		err := s.failNextWith
		s.failNextWith = nil
		result.Status = "FAILED"
		result.Errors = []string{err.Error()}
		s.resizeHistory = append(s.resizeHistory, result)
		return &result, fmt.Errorf("%w: %v", ErrResizeFailed, err)
	}

	log := logger.WithPoolCtx(ctx, s.poolID)
	switch delta := size - result.PreviousSize; {
	case delta > 0:
		log.Infof("Scaling up: adding %d nodes", delta)
		for i := 0; i < delta; i++ {
			s.nodes = append(s.nodes, s.newNode(s.now()))
		}
	case delta < 0:
		log.Infof("Scaling down: removing %d nodes", -delta)
		for _, n := range s.removalOrder()[:-delta] {
			n.state = models.NodeStateDeleting
			n.changedAt = s.now()
		}
	}

	result.Status = "SUCCEEDED"
	s.resizeHistory = append(s.resizeHistory, result)
	return &result, nil
}

func (s *Simulator) liveCountLocked() int {
	count := 0
	for _, n := range s.nodes {
		if n.state != models.NodeStateDeleted && n.state != models.NodeStateDeleting {
			count++
		}
	}
	return count
}

// removalOrder lists live nodes cordoned first, then newest first.
func (s *Simulator) removalOrder() []*simNode {
	var live []*simNode
	for _, n := range s.nodes {
		if n.state != models.NodeStateDeleted && n.state != models.NodeStateDeleting {
			live = append(live, n)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].cordoned != live[j].cordoned {
			return live[i].cordoned
		}
		return live[i].createdAt.After(live[j].createdAt)
	})
	return live
}

func (s *Simulator) GetKubeconfig(ctx context.Context, clusterID string) ([]byte, error) {
	return nil, fmt.Errorf("%w: simulated cluster %s", ErrNoKubeconfig, clusterID)
}

// Drain cordons the named node so the next shrink removes it.
func (s *Simulator) Drain(ctx context.Context, nodeName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.nodes {
		if n.name == nodeName && n.state != models.NodeStateDeleted {
			n.cordoned = true
			logger.WithPoolCtx(ctx, s.poolID).Infof("Node %s cordoned and drained", nodeName)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeName)
}

// CountUnschedulable reports the simulated pending pod count for the pool.
func (s *Simulator) CountUnschedulable(ctx context.Context, poolName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if poolName != s.poolName {
		return 0, nil
	}
	return s.pendingPods, nil
}

func (s *Simulator) SetPendingPods(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPods = count
}

// FailNextResize makes the next resize end in a failed work request.
func (s *Simulator) FailNextResize(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextWith = err
}

func (s *Simulator) IsCordoned(nodeName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.nodes {
		if n.name == nodeName {
			return n.cordoned
		}
	}
	return false
}

func (s *Simulator) ResizeHistory() []ResizeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]ResizeResult, len(s.resizeHistory))
	copy(history, s.resizeHistory)
	return history
}
