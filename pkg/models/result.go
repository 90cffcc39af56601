package models

import (
	"encoding/json"
	"time"
)

type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultWarning ResultKind = "warning"
	ResultError   ResultKind = "error"
)

// Error reasons reported in an error record.
const (
	ErrorReasonMissingInput          = "missing-input-data"
	ErrorReasonPreconditionViolation = "precondition-violation"
	ErrorReasonCollaboratorFailure   = "collaborator-failure"
)

// ResultBody is the payload of one tick result. Counts are omitted when they
// do not apply to the reason.
type ResultBody struct {
	Action                 string `json:"action,omitempty"`
	Reason                 string `json:"reason"`
	UnschedulablePodsCount *int   `json:"unschedulable-pods-count,omitempty"`
	NodePoolName           string `json:"node-pool-name,omitempty"`
	NodePoolStatus         string `json:"node-pool-status,omitempty"`
	NodeCount              *int   `json:"node-count,omitempty"`
	Detail                 string `json:"detail,omitempty"`
}

// TickResult is the single structured record emitted per evaluation tick.
// It serializes as {"<kind>": {...body}}.
type TickResult struct {
	ID        int              `json:"-"`
	TraceID   string           `json:"-"`
	PoolID    string           `json:"-"`
	Timestamp time.Time        `json:"-"`
	Kind      ResultKind       `json:"-"`
	Body      ResultBody       `json:"-"`
	Decision  *ScalingDecision `json:"-"`
}

func (r TickResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[ResultKind]ResultBody{r.Kind: r.Body})
}

func (r *TickResult) IsError() bool {
	return r.Kind == ResultError
}

// NewDecisionResult renders a decision as a tick result.
func NewDecisionResult(d *ScalingDecision) *TickResult {
	size := d.ResultingSize
	body := ResultBody{
		Action:         actionLabel(d.Action),
		Reason:         reasonLabel(d.Reason),
		NodePoolName:   d.PoolName,
		NodePoolStatus: poolStatusLabel(d),
		NodeCount:      &size,
	}
	if d.Reason.IsDemandRelated() {
		pending := d.PendingDemand
		body.UnschedulablePodsCount = &pending
	}

	kind := ResultSuccess
	if d.Reason == ReasonMaxLimitReached {
		kind = ResultWarning
	}

	return &TickResult{
		PoolID:    d.PoolID,
		Timestamp: d.EvaluatedAt,
		Kind:      kind,
		Body:      body,
		Decision:  d,
	}
}

func NewErrorResult(poolID, reason, detail string) *TickResult {
	return &TickResult{
		PoolID:    poolID,
		Timestamp: time.Now(),
		Kind:      ResultError,
		Body: ResultBody{
			Reason: reason,
			Detail: detail,
		},
	}
}

func actionLabel(a ScalingAction) string {
	switch a {
	case ActionScaleUp:
		return "scale-up"
	case ActionScaleDown:
		return "scale-down"
	default:
		return "none"
	}
}

func reasonLabel(r DecisionReason) string {
	switch r {
	case ReasonUnschedulableDemand:
		return "unschedulable-pods"
	case ReasonCPU:
		return "cpu"
	case ReasonRAM:
		return "ram"
	case ReasonCPUAndRAM:
		return "cpu+ram"
	case ReasonMaxLimitReached:
		return "node-max-limit-reached"
	case ReasonStabilizing:
		return "node-pool-status"
	case ReasonPoolUpdating:
		return "node-pool-updating"
	default:
		return "no-resource-pressure"
	}
}

func poolStatusLabel(d *ScalingDecision) string {
	switch {
	case d.PoolStatus == PoolStatusUpdating:
		return "updating"
	case d.Reason == ReasonStabilizing:
		return "stabilizing"
	default:
		return "ready"
	}
}
