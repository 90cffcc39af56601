package events

import (
	"context"
	"sync"
	"time"

	"github.com/OldStager01/oke-autoscaler/internal/logger"
	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

const persistTimeout = 10 * time.Second

// TickResultStore persists tick results.
type TickResultStore interface {
	Insert(ctx context.Context, result *models.TickResult) (int, error)
}

// EventLogger writes every event to the structured log and persists tick
// results when a store is configured.
type EventLogger struct {
	store     TickResultStore
	eventChan <-chan *models.Event
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
}

func NewEventLogger(store TickResultStore, eventChan <-chan *models.Event) *EventLogger {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventLogger{
		store:     store,
		eventChan: eventChan,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (l *EventLogger) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Stop cancels the logger and waits for the run loop to exit. Events already
// buffered when Stop is called are still handled.
func (l *EventLogger) Stop() {
	l.cancel()
	l.startOnce.Do(func() { close(l.done) })
	<-l.done
}

func (l *EventLogger) run() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.drain()
			return
		case event, ok := <-l.eventChan:
			if !ok {
				return
			}
			l.processEvent(event)
		}
	}
}

func (l *EventLogger) drain() {
	for {
		select {
		case event, ok := <-l.eventChan:
			if !ok {
				return
			}
			l.processEvent(event)
		default:
			return
		}
	}
}

func (l *EventLogger) processEvent(event *models.Event) {
	entry := logger.WithFields(map[string]interface{}{
		"event_type": event.Type,
		"pool_id":    event.PoolID,
		"severity":   event.Severity,
		"trace_id":   event.TraceID,
	})

	switch event.Severity {
	case models.SeverityCritical:
		entry.Error(event.Message)
	case models.SeverityWarning:
		entry.Warn(event.Message)
	default:
		entry.Info(event.Message)
	}

	switch event.Type {
	case models.EventTypeTickCompleted, models.EventTypeTickFailed:
		l.persistTickResult(event)
	}
}

func (l *EventLogger) persistTickResult(event *models.Event) {
	if l.store == nil {
		return
	}
	result, ok := event.Data.(*models.TickResult)
	if !ok {
		return
	}
	record := *result
	if record.TraceID == "" {
		record.TraceID = event.TraceID
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(l.ctx), persistTimeout)
	defer cancel()

	if _, err := l.store.Insert(ctx, &record); err != nil {
		logger.Errorf("Failed to persist tick result: %v", err)
	}
}
