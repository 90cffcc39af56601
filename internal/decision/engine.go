package decision

import (
	"fmt"
	"strings"
	"time"

	"github.com/OldStager01/oke-autoscaler/internal/logger"
	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

// Config holds the per-tick evaluation inputs that do not come from the
// pool snapshot itself.
type Config struct {
	EvalWindowMinutes          int
	StabilizationMarginMinutes int
	// CPUThreshold and RAMThreshold are percentages; 0 disables the
	// dimension for scale-down.
	CPUThreshold       int
	RAMThreshold       int
	PendingDemandCount int
}

func (c Config) StabilizationMargin() time.Duration {
	return time.Duration(c.StabilizationMarginMinutes) * time.Minute
}

func (c Config) Validate() error {
	var problems []string

	if c.EvalWindowMinutes <= 0 {
		problems = append(problems, "eval window must be positive")
	}
	if c.StabilizationMarginMinutes < 0 {
		problems = append(problems, "stabilization margin must not be negative")
	}
	if c.CPUThreshold < 0 {
		problems = append(problems, "cpu threshold must not be negative")
	}
	if c.RAMThreshold < 0 {
		problems = append(problems, "ram threshold must not be negative")
	}
	if c.PendingDemandCount < 0 {
		problems = append(problems, "pending demand count must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrPreconditionViolation, strings.Join(problems, "; "))
	}
	return nil
}

func validateSnapshot(s *models.NodePoolSnapshot) error {
	if s == nil {
		return fmt.Errorf("%w: snapshot is nil", ErrPreconditionViolation)
	}

	var problems []string

	switch s.LifecycleStatus {
	case models.PoolStatusReady, models.PoolStatusUpdating:
	default:
		problems = append(problems, fmt.Sprintf("unknown lifecycle status %q", s.LifecycleStatus))
	}
	if s.CurrentSize < 0 {
		problems = append(problems, "current size must not be negative")
	}
	if s.MinSize < 0 || s.MaxSize < 0 {
		problems = append(problems, "size bounds must not be negative")
	}
	if s.MinSize > s.MaxSize {
		problems = append(problems, fmt.Sprintf("min size %d exceeds max size %d", s.MinSize, s.MaxSize))
	}

	// Members are only observed for settled pools.
	if s.LifecycleStatus == models.PoolStatusReady {
		switch {
		case len(s.Members) == 0 && s.CurrentSize > 0:
			problems = append(problems, fmt.Sprintf("no members observed for a pool of size %d", s.CurrentSize))
		case len(s.Members) != s.CurrentSize:
			problems = append(problems, fmt.Sprintf("%d members observed for a pool of size %d", len(s.Members), s.CurrentSize))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrPreconditionViolation, strings.Join(problems, "; "))
	}
	return nil
}

// Evaluate runs the priority-ordered decision table over one snapshot and
// returns exactly one decision, or an error wrapping
// ErrPreconditionViolation when the input is malformed.
func Evaluate(snapshot *models.NodePoolSnapshot, cfg Config, now time.Time) (*models.ScalingDecision, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateSnapshot(snapshot); err != nil {
		return nil, err
	}

	decision := &models.ScalingDecision{
		PoolID:        snapshot.PoolID,
		PoolName:      snapshot.PoolName,
		EvaluatedAt:   now,
		Action:        models.ActionNone,
		PoolStatus:    snapshot.LifecycleStatus,
		Stability:     models.StabilityUnknown,
		CurrentSize:   snapshot.CurrentSize,
		ResultingSize: snapshot.CurrentSize,
		PendingDemand: cfg.PendingDemandCount,
	}

	switch {
	case snapshot.IsUpdating():
		decision.Reason = models.ReasonPoolUpdating
	case cfg.PendingDemandCount > 0:
		evaluateScaleUp(decision, snapshot, cfg, now)
	default:
		evaluateScaleDown(decision, snapshot, cfg, now)
	}

	logDecision(decision)
	return decision, nil
}

func evaluateScaleUp(d *models.ScalingDecision, s *models.NodePoolSnapshot, cfg Config, now time.Time) {
	stability, ok := ClassifyStability(s.Members, cfg.StabilizationMargin(), now)
	// An empty pool has nothing warming up.
	stable := !ok || stability.Stable
	d.Stability = stabilityLabel(stable)

	switch {
	case stable && s.CurrentSize < s.MaxSize:
		d.Action = models.ActionScaleUp
		d.Reason = models.ReasonUnschedulableDemand
		d.ResultingSize = s.CurrentSize + 1
	case s.CurrentSize >= s.MaxSize:
		d.Reason = models.ReasonMaxLimitReached
	default:
		d.Reason = models.ReasonStabilizing
	}
}

func evaluateScaleDown(d *models.ScalingDecision, s *models.NodePoolSnapshot, cfg Config, now time.Time) {
	d.Reason = models.ReasonNoPressure

	utilization, ok := AggregateUtilization(s.Members, s.CurrentSize)
	if !ok {
		return
	}
	d.AvgCPU = models.FloatPtr(utilization.AvgCPU)
	d.AvgRAM = models.FloatPtr(utilization.AvgRAM)

	stability, _ := ClassifyStability(s.Members, cfg.StabilizationMargin(), now)
	d.Stability = stabilityLabel(stability.Stable)

	cpuTrigger := cfg.CPUThreshold != 0 && utilization.AvgCPU < float64(cfg.CPUThreshold)
	ramTrigger := cfg.RAMThreshold != 0 && utilization.AvgRAM < float64(cfg.RAMThreshold)
	if !cpuTrigger && !ramTrigger {
		return
	}

	candidate := s.CurrentSize - 1
	if candidate < s.MinSize {
		return
	}

	d.Action = models.ActionScaleDown
	d.ResultingSize = candidate
	d.DrainTarget = &models.DrainTarget{
		NodeID:   stability.LIFONode.ID,
		NodeName: stability.LIFONode.Name,
	}

	switch {
	case cpuTrigger && ramTrigger:
		d.Reason = models.ReasonCPUAndRAM
	case cpuTrigger:
		d.Reason = models.ReasonCPU
	default:
		d.Reason = models.ReasonRAM
	}
}

func stabilityLabel(stable bool) models.PoolStability {
	if stable {
		return models.StabilityStable
	}
	return models.StabilityStabilizing
}

func logDecision(d *models.ScalingDecision) {
	entry := logger.WithPool(d.PoolID)
	if d.Action == models.ActionNone {
		entry.Debugf("Decision: none (reason: %s, size: %d)", d.Reason, d.CurrentSize)
		return
	}
	entry.Infof(
		"Decision: %s %d -> %d nodes (reason: %s)",
		d.Action, d.CurrentSize, d.ResultingSize, d.Reason,
	)
}
