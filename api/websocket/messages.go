package websocket

import (
	"time"
)

type MessageType string

const (
	MessageTypeSnapshot     MessageType = "snapshot"
	MessageTypeDecision     MessageType = "decision"
	MessageTypeDrain        MessageType = "drain_started"
	MessageTypeScaling      MessageType = "scaling_started"
	MessageTypeScalingEvent MessageType = "scaling_event"
	MessageTypeScalingError MessageType = "scaling_failed"
	MessageTypeTickResult   MessageType = "tick_result"
	MessageTypeSubscription MessageType = "subscription_update"
)

// OutgoingMessage is the envelope of everything written to a client.
type OutgoingMessage struct {
	Type      MessageType `json:"type"`
	PoolID    string      `json:"pool_id,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Severity  string      `json:"severity,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func NewMessage(msgType MessageType, poolID string, data interface{}) *OutgoingMessage {
	return &OutgoingMessage{
		Type:      msgType,
		PoolID:    poolID,
		Timestamp: time.Now(),
		Data:      data,
	}
}
