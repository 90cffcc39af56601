package models

import "time"

type EventType string

const (
	EventTypeSnapshotAssembled EventType = "snapshot_assembled"
	EventTypeDecisionMade      EventType = "decision_made"
	EventTypeDrainStarted      EventType = "drain_started"
	EventTypeScalingStarted    EventType = "scaling_started"
	EventTypeScalingComplete   EventType = "scaling_complete"
	EventTypeScalingFailed     EventType = "scaling_failed"
	EventTypeTickCompleted     EventType = "tick_completed"
	EventTypeTickFailed        EventType = "tick_failed"
)

type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// Event represents an internal system event
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Severity  EventSeverity `json:"severity"`
	PoolID    string        `json:"pool_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Message   string        `json:"message"`
	Data      interface{}   `json:"data,omitempty"`
	TraceID   string        `json:"trace_id,omitempty"`
}

func NewEvent(eventType EventType, poolID, message string) *Event {
	return &Event{
		ID:        NewUUID(),
		Type:      eventType,
		Severity:  SeverityInfo,
		PoolID:    poolID,
		Timestamp: time.Now(),
		Message:   message,
	}
}

func (e *Event) WithSeverity(severity EventSeverity) *Event {
	e.Severity = severity
	return e
}

func (e *Event) WithData(data interface{}) *Event {
	e.Data = data
	return e
}

func (e *Event) WithTraceID(traceID string) *Event {
	e.TraceID = traceID
	return e
}
