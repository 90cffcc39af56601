package models

import "time"

type PoolLifecycleStatus string

const (
	PoolStatusReady    PoolLifecycleStatus = "READY"
	PoolStatusUpdating PoolLifecycleStatus = "UPDATING"
)

// NodeLifecycleState mirrors the control plane's per-node lifecycle values.
type NodeLifecycleState string

const (
	NodeStateCreating NodeLifecycleState = "CREATING"
	NodeStateActive   NodeLifecycleState = "ACTIVE"
	NodeStateUpdating NodeLifecycleState = "UPDATING"
	NodeStateDeleting NodeLifecycleState = "DELETING"
	NodeStateDeleted  NodeLifecycleState = "DELETED"
	NodeStateFailing  NodeLifecycleState = "FAILING"
	NodeStateInactive NodeLifecycleState = "INACTIVE"
)

// IsSettled reports whether the node is not in the middle of a transition.
func (s NodeLifecycleState) IsSettled() bool {
	return s == NodeStateActive || s == NodeStateDeleted
}

type PlacementConfig struct {
	AvailabilityDomain string `json:"availability_domain"`
	SubnetID           string `json:"subnet_id"`
}

// PoolNode is a node pool member as reported by the control plane.
type PoolNode struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	LifecycleState NodeLifecycleState `json:"lifecycle_state"`
}

// NodePool is the control plane's view of a node pool.
type NodePool struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	CompartmentID string            `json:"compartment_id"`
	Size          int               `json:"size"`
	Placement     []PlacementConfig `json:"placement"`
	Nodes         []PoolNode        `json:"nodes"`
}

func (p *NodePool) LifecycleStatus() PoolLifecycleStatus {
	for _, n := range p.Nodes {
		if !n.LifecycleState.IsSettled() {
			return PoolStatusUpdating
		}
	}
	return PoolStatusReady
}

// LiveNodes returns the members that have not been deleted.
func (p *NodePool) LiveNodes() []PoolNode {
	live := make([]PoolNode, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.LifecycleState != NodeStateDeleted {
			live = append(live, n)
		}
	}
	return live
}

// NodeObservation is one member's identity and utilization for a single tick.
type NodeObservation struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	CPUUtilization float64   `json:"cpu_utilization"`
	RAMUtilization float64   `json:"ram_utilization"`
}

// NodePoolSnapshot is everything the decision engine needs about a pool.
type NodePoolSnapshot struct {
	PoolID          string              `json:"pool_id"`
	PoolName        string              `json:"pool_name"`
	LifecycleStatus PoolLifecycleStatus `json:"lifecycle_status"`
	CurrentSize     int                 `json:"current_size"`
	MinSize         int                 `json:"min_size"`
	MaxSize         int                 `json:"max_size"`
	Members         []NodeObservation   `json:"members"`
	AssembledAt     time.Time           `json:"assembled_at"`
}

func (s *NodePoolSnapshot) IsUpdating() bool {
	return s.LifecycleStatus == PoolStatusUpdating
}
