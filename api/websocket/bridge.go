package websocket

import (
	"context"
	"encoding/json"

	"github.com/OldStager01/oke-autoscaler/internal/logger"
	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

// EventBridge forwards pipeline events to WebSocket clients.
type EventBridge struct {
	hub        *Hub
	eventsChan <-chan *models.Event
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewEventBridge(hub *Hub, eventsChan <-chan *models.Event) *EventBridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventBridge{
		hub:        hub,
		eventsChan: eventsChan,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (b *EventBridge) Start() {
	go b.run()
	logger.Info("WebSocket event bridge started")
}

func (b *EventBridge) Stop() {
	b.cancel()
	<-b.done
	logger.Info("WebSocket event bridge stopped")
}

func (b *EventBridge) run() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			return
		case event, ok := <-b.eventsChan:
			if !ok {
				logger.Info("Event channel closed, stopping bridge")
				return
			}
			b.forwardEvent(event)
		}
	}
}

func (b *EventBridge) forwardEvent(event *models.Event) {
	msg := convertEvent(event)
	if msg == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	b.hub.Broadcast(event.PoolID, data)
}

func convertEvent(event *models.Event) *OutgoingMessage {
	msgType := mapEventType(event.Type)
	if msgType == "" {
		return nil
	}

	return &OutgoingMessage{
		Type:      msgType,
		PoolID:    event.PoolID,
		TraceID:   event.TraceID,
		Timestamp: event.Timestamp,
		Severity:  string(event.Severity),
		Message:   event.Message,
		Data:      event.Data,
	}
}

func mapEventType(eventType models.EventType) MessageType {
	switch eventType {
	case models.EventTypeSnapshotAssembled:
		return MessageTypeSnapshot
	case models.EventTypeDecisionMade:
		return MessageTypeDecision
	case models.EventTypeDrainStarted:
		return MessageTypeDrain
	case models.EventTypeScalingStarted:
		return MessageTypeScaling
	case models.EventTypeScalingComplete:
		return MessageTypeScalingEvent
	case models.EventTypeScalingFailed:
		return MessageTypeScalingError
	case models.EventTypeTickCompleted, models.EventTypeTickFailed:
		return MessageTypeTickResult
	default:
		return ""
	}
}
