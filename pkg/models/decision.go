package models

import "time"

type ScalingAction string

const (
	ActionScaleUp   ScalingAction = "SCALE_UP"
	ActionScaleDown ScalingAction = "SCALE_DOWN"
	ActionNone      ScalingAction = "NONE"
)

type DecisionReason string

const (
	ReasonUnschedulableDemand DecisionReason = "UNSCHEDULABLE_DEMAND"
	ReasonCPU                 DecisionReason = "CPU"
	ReasonRAM                 DecisionReason = "RAM"
	ReasonCPUAndRAM           DecisionReason = "CPU_AND_RAM"
	ReasonMaxLimitReached     DecisionReason = "MAX_LIMIT_REACHED"
	ReasonStabilizing         DecisionReason = "STABILIZING"
	ReasonPoolUpdating        DecisionReason = "POOL_UPDATING"
	ReasonNoPressure          DecisionReason = "NO_PRESSURE"
)

// IsDemandRelated reports whether the reason was reached through the
// pending-demand branch of the decision table.
func (r DecisionReason) IsDemandRelated() bool {
	switch r {
	case ReasonUnschedulableDemand, ReasonMaxLimitReached, ReasonStabilizing:
		return true
	}
	return false
}

type PoolStability string

const (
	StabilityUnknown     PoolStability = "unknown"
	StabilityStable      PoolStability = "stable"
	StabilityStabilizing PoolStability = "stabilizing"
)

// DrainTarget identifies the node to cordon and drain before shrinking.
type DrainTarget struct {
	NodeID   string `json:"node_id"`
	NodeName string `json:"node_name"`
}

// ScalingDecision is the single outcome of one evaluation.
type ScalingDecision struct {
	PoolID        string              `json:"pool_id"`
	PoolName      string              `json:"pool_name"`
	EvaluatedAt   time.Time           `json:"evaluated_at"`
	Action        ScalingAction       `json:"action"`
	Reason        DecisionReason      `json:"reason"`
	PoolStatus    PoolLifecycleStatus `json:"pool_status"`
	Stability     PoolStability       `json:"stability"`
	CurrentSize   int                 `json:"current_size"`
	ResultingSize int                 `json:"resulting_size"`
	PendingDemand int                 `json:"pending_demand"`
	AvgCPU        *float64            `json:"avg_cpu,omitempty"`
	AvgRAM        *float64            `json:"avg_ram,omitempty"`
	DrainTarget   *DrainTarget        `json:"drain_target,omitempty"`
}

func (d *ScalingDecision) SizeDelta() int {
	return d.ResultingSize - d.CurrentSize
}

func (d *ScalingDecision) ShouldExecute() bool {
	return d.Action != ActionNone
}
