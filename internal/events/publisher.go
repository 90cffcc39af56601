package events

import (
	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

type Publisher struct {
	bus     *EventBus
	traceID string
}

func NewPublisher(bus *EventBus) *Publisher {
	return &Publisher{bus: bus}
}

func (p *Publisher) WithTraceID(traceID string) *Publisher {
	return &Publisher{
		bus:     p.bus,
		traceID: traceID,
	}
}

func (p *Publisher) publish(event *models.Event) {
	if p.traceID != "" {
		event.TraceID = p.traceID
	}
	p.bus.Publish(event)
}

func (p *Publisher) SnapshotAssembled(snapshot *models.NodePoolSnapshot) {
	event := models.NewEvent(models.EventTypeSnapshotAssembled, snapshot.PoolID, "Node pool snapshot assembled").
		WithData(snapshot)
	p.publish(event)
}

func (p *Publisher) DecisionMade(decision *models.ScalingDecision) {
	msg := "Scaling decision: " + string(decision.Action) + " (" + string(decision.Reason) + ")"
	event := models.NewEvent(models.EventTypeDecisionMade, decision.PoolID, msg).
		WithData(decision)

	if decision.Reason == models.ReasonMaxLimitReached {
		event.WithSeverity(models.SeverityWarning)
	}

	p.publish(event)
}

func (p *Publisher) DrainStarted(poolID string, target *models.DrainTarget) {
	event := models.NewEvent(models.EventTypeDrainStarted, poolID, "Draining node "+target.NodeName).
		WithData(target)
	p.publish(event)
}

func (p *Publisher) ScalingStarted(decision *models.ScalingDecision) {
	msg := "Scaling started: " + string(decision.Action)
	event := models.NewEvent(models.EventTypeScalingStarted, decision.PoolID, msg).
		WithData(decision)
	p.publish(event)
}

func (p *Publisher) ScalingComplete(decision *models.ScalingDecision) {
	msg := "Scaling complete: " + string(decision.Action)
	event := models.NewEvent(models.EventTypeScalingComplete, decision.PoolID, msg).
		WithData(decision)
	p.publish(event)
}

func (p *Publisher) ScalingFailed(poolID string, reason string, err error) {
	msg := "Scaling failed: " + reason
	event := models.NewEvent(models.EventTypeScalingFailed, poolID, msg).
		WithSeverity(models.SeverityCritical).
		WithData(map[string]interface{}{
			"reason": reason,
			"error":  err.Error(),
		})
	p.publish(event)
}

// TickCompleted carries the tick result, error records included.
func (p *Publisher) TickCompleted(result *models.TickResult) {
	eventType := models.EventTypeTickCompleted
	severity := models.SeverityInfo
	msg := "Tick completed: " + string(result.Kind)

	switch result.Kind {
	case models.ResultError:
		eventType = models.EventTypeTickFailed
		severity = models.SeverityCritical
		msg = "Tick failed: " + result.Body.Reason
	case models.ResultWarning:
		severity = models.SeverityWarning
	}

	event := models.NewEvent(eventType, result.PoolID, msg).
		WithSeverity(severity).
		WithData(result)
	p.publish(event)
}
